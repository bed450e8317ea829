package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/voxhome/voxlive/pkg/core"
)

// HTTPProvider reaches a tool provider over stateless HTTP POSTs. Each
// call frames one JSON-RPC envelope per request/response pair. The
// only state kept between calls is the cached tool list and the
// optional bearer credential.
type HTTPProvider struct {
	cfg    ProviderConfig
	client *http.Client
	nextID atomic.Int64

	mu    sync.Mutex
	tools []Tool
}

func newHTTPProvider(cfg ProviderConfig) *HTTPProvider {
	return &HTTPProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.callTimeout()},
	}
}

// Connect performs the lightweight discovery handshake: initialize
// followed by tools/list.
func (p *HTTPProvider) Connect(ctx context.Context) ([]Tool, error) {
	hctx, cancel := context.WithTimeout(ctx, handshakeReadTimeout)
	defer cancel()

	if _, err := p.roundTrip(hctx, methodInitialize, newInitializeParams()); err != nil {
		return nil, err
	}

	raw, err := p.roundTrip(hctx, methodToolsList, map[string]any{})
	if err != nil {
		return nil, err
	}

	var listed toolsListResult
	if err := json.Unmarshal(raw, &listed); err != nil {
		return nil, core.NewToolError(core.ErrToolMalformed, fmt.Sprintf("decode tools/list result: %v", err))
	}

	tools := make([]Tool, 0, len(listed.Tools))
	for _, d := range listed.Tools {
		tools = append(tools, Tool{Name: d.Name, Description: d.Description, InputSchema: d.InputSchema})
	}

	p.mu.Lock()
	p.tools = tools
	p.mu.Unlock()
	return tools, nil
}

// Call POSTs a tools/call envelope and returns the decoded result.
func (p *HTTPProvider) Call(ctx context.Context, tool string, args map[string]any) (map[string]any, error) {
	cctx, cancel := context.WithTimeout(ctx, p.cfg.callTimeout())
	defer cancel()

	raw, err := p.roundTrip(cctx, methodToolsCall, toolsCallParams{Name: tool, Arguments: args})
	if err != nil {
		return nil, err
	}
	result, err := decodeCallResult(raw)
	if err != nil {
		return nil, core.NewToolError(core.ErrToolMalformed, fmt.Sprintf("decode tools/call result: %v", err))
	}
	return result, nil
}

// Close is a no-op for the stateless transport.
func (p *HTTPProvider) Close(context.Context) error {
	return nil
}

func (p *HTTPProvider) roundTrip(ctx context.Context, method string, params any) (json.RawMessage, error) {
	body, err := json.Marshal(newRequest(p.nextID.Add(1), method, params))
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, core.NewToolError(core.ErrToolUnreachable, err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.BearerToken)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, core.NewToolError(core.ErrToolUnreachable, err.Error())
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, core.NewToolError(core.ErrToolUnreachable, err.Error())
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, core.NewToolError(core.ErrToolUnreachable,
			fmt.Sprintf("%s returned status %d: %s", p.cfg.Name, resp.StatusCode, truncate(string(payload), 256)))
	}

	var decoded rpcResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, core.NewToolError(core.ErrToolMalformed, fmt.Sprintf("decode %s response: %v", method, err))
	}
	if decoded.Error != nil {
		return nil, core.NewToolError(core.ErrToolMalformed,
			fmt.Sprintf("%s failed: %s", method, decoded.Error.Message))
	}
	return decoded.Result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
