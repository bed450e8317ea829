package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxhome/voxlive/pkg/core"
)

// newRPCTestServer serves a minimal JSON-RPC tool provider over HTTP.
func newRPCTestServer(t *testing.T, callHandler func(params toolsCallParams) any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		var raw struct {
			JSONRPC string          `json:"jsonrpc"`
			ID      *int64          `json:"id"`
			Method  string          `json:"method"`
			Params  json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		req.ID = raw.ID
		req.Method = raw.Method

		var result any
		switch raw.Method {
		case methodInitialize:
			result = map[string]any{"protocolVersion": protocolVersion}
		case methodToolsList:
			result = toolsListResult{Tools: []toolDescriptor{
				{Name: "forecast", Description: "Weather forecast", InputSchema: map[string]any{"type": "object"}},
			}}
		case methodToolsCall:
			var params toolsCallParams
			if err := json.Unmarshal(raw.Params, &params); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			result = callHandler(params)
		default:
			http.Error(w, "unknown method", http.StatusBadRequest)
			return
		}

		resp := map[string]any{"jsonrpc": jsonrpcVersion, "id": req.ID, "result": result}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestHTTPProviderConnectAndCall(t *testing.T) {
	t.Parallel()

	server := newRPCTestServer(t, func(params toolsCallParams) any {
		assert.Equal(t, "forecast", params.Name)
		assert.Equal(t, "Vienna", params.Arguments["city"])
		return toolsCallResult{Content: []contentItem{{Type: "text", Text: "sunny"}}}
	})
	defer server.Close()

	p := newHTTPProvider(ProviderConfig{Name: "weather", Transport: TransportHTTP, Endpoint: server.URL})

	discovered, err := p.Connect(context.Background())
	require.NoError(t, err)
	require.Len(t, discovered, 1)
	assert.Equal(t, "forecast", discovered[0].Name)

	result, err := p.Call(context.Background(), "forecast", map[string]any{"city": "Vienna"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"result": "sunny"}, result)
}

func TestHTTPProviderErrorContent(t *testing.T) {
	t.Parallel()

	server := newRPCTestServer(t, func(toolsCallParams) any {
		return toolsCallResult{IsError: true, Content: []contentItem{{Type: "text", Text: "service unavailable"}}}
	})
	defer server.Close()

	p := newHTTPProvider(ProviderConfig{Name: "weather", Endpoint: server.URL})
	result, err := p.Call(context.Background(), "forecast", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"error": "service unavailable"}, result)
}

func TestHTTPProviderBearerToken(t *testing.T) {
	t.Parallel()

	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": jsonrpcVersion, "id": 1, "result": map[string]any{},
		})
	}))
	defer server.Close()

	p := newHTTPProvider(ProviderConfig{Name: "auth", Endpoint: server.URL, BearerToken: "secret-token"})
	_, _ = p.Call(context.Background(), "anything", nil)
	assert.Equal(t, "Bearer secret-token", gotAuth)
}

func TestHTTPProviderNon2xx(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend exploded", http.StatusBadGateway)
	}))
	defer server.Close()

	p := newHTTPProvider(ProviderConfig{Name: "broken", Endpoint: server.URL})
	_, err := p.Call(context.Background(), "tool", nil)
	typed, ok := core.AsError(err)
	require.True(t, ok)
	assert.Equal(t, core.ErrToolUnreachable, typed.Type)
	assert.Contains(t, typed.Message, "502")
	assert.Contains(t, typed.Message, "backend exploded")
}

func TestHTTPProviderRPCError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": jsonrpcVersion, "id": 1,
			"error": map[string]any{"code": -32601, "message": "method not found"},
		})
	}))
	defer server.Close()

	p := newHTTPProvider(ProviderConfig{Name: "odd", Endpoint: server.URL})
	_, err := p.Call(context.Background(), "tool", nil)
	typed, ok := core.AsError(err)
	require.True(t, ok)
	assert.Equal(t, core.ErrToolMalformed, typed.Type)
	assert.Contains(t, typed.Message, "method not found")
}

func TestHTTPProviderUnreachable(t *testing.T) {
	t.Parallel()

	p := newHTTPProvider(ProviderConfig{Name: "nowhere", Endpoint: "http://127.0.0.1:1/rpc"})
	_, err := p.Connect(context.Background())
	typed, ok := core.AsError(err)
	require.True(t, ok)
	assert.Equal(t, core.ErrToolUnreachable, typed.Type)
}
