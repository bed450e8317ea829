package tools

import "encoding/json"

// JSON-RPC 2.0 envelope shared by the HTTP and process transports.
// Only the subset of the tool-provider protocol the engine speaks is
// modeled here: initialize, notifications/initialized, tools/list and
// tools/call.

const jsonrpcVersion = "2.0"

const (
	methodInitialize  = "initialize"
	methodInitialized = "notifications/initialized"
	methodToolsList   = "tools/list"
	methodToolsCall   = "tools/call"

	protocolVersion = "2024-11-05"
	clientName      = "voxlive"
	clientVersion   = "1.0.0"
)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      *int64 `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func newRequest(id int64, method string, params any) rpcRequest {
	return rpcRequest{JSONRPC: jsonrpcVersion, ID: &id, Method: method, Params: params}
}

func newNotification(method string) rpcRequest {
	return rpcRequest{JSONRPC: jsonrpcVersion, Method: method}
}

type initializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      clientInfo     `json:"clientInfo"`
}

type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

func newInitializeParams() initializeParams {
	return initializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      clientInfo{Name: clientName, Version: clientVersion},
	}
}

type toolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

type toolsListResult struct {
	Tools []toolDescriptor `json:"tools"`
}

type toolsCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type contentItem struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type toolsCallResult struct {
	Content []contentItem  `json:"content,omitempty"`
	IsError bool           `json:"isError,omitempty"`
	Extra   map[string]any `json:"-"`
}

// decodeCallResult converts a tools/call result payload into the flat
// result shape the session sends upstream. Text content wins; anything
// else falls back to the raw result object.
func decodeCallResult(raw json.RawMessage) (map[string]any, error) {
	var typed toolsCallResult
	if err := json.Unmarshal(raw, &typed); err == nil && len(typed.Content) > 0 {
		for _, item := range typed.Content {
			if item.Type == "text" {
				if typed.IsError {
					return map[string]any{"error": item.Text}, nil
				}
				return map[string]any{"result": item.Text}, nil
			}
		}
	}

	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return generic, nil
}
