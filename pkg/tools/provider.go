// Package tools implements the tool federation layer: providers that
// expose named, invocable tools over heterogeneous transports, and the
// router that resolves qualified tool names and dispatches calls.
package tools

import (
	"context"
	"time"

	"github.com/voxhome/voxlive/pkg/core"
)

// Transport selects how a provider is reached.
type Transport string

const (
	// TransportHTTP is stateless request/reply over HTTP.
	TransportHTTP Transport = "http"
	// TransportProcess is a long-lived child process speaking
	// newline-delimited JSON-RPC on its standard streams.
	TransportProcess Transport = "process"
	// TransportLocal is an in-process provider backed by Go handlers.
	TransportLocal Transport = "local"
)

const (
	// defaultCallTimeout bounds a single tools/call round trip.
	defaultCallTimeout = 30 * time.Second
	// handshakeReadTimeout bounds each read during the initial
	// initialize/tools-list handshake.
	handshakeReadTimeout = 5 * time.Second
)

// Tool is a provider-declared invocable tool.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// ProviderConfig describes one registered tool provider.
type ProviderConfig struct {
	// Name is the unique registry key; it becomes the namespace prefix
	// of every tool the provider exposes.
	Name      string
	Transport Transport

	// Endpoint is the HTTP transport target URL.
	Endpoint string
	// BearerToken is sent as an Authorization header when set.
	BearerToken string

	// Command, Args and Env configure the process transport. Env is
	// merged over the parent environment.
	Command string
	Args    []string
	Env     map[string]string

	// Enabled gates ConnectAll; disabled providers stay registered but
	// are never connected.
	Enabled bool

	// CallTimeout bounds a single call; zero means the 30s default.
	CallTimeout time.Duration
}

func (c ProviderConfig) callTimeout() time.Duration {
	if c.CallTimeout > 0 {
		return c.CallTimeout
	}
	return defaultCallTimeout
}

// Provider is a connected source of invocable tools.
type Provider interface {
	// Connect performs the provider handshake and returns the
	// discovered tool list.
	Connect(ctx context.Context) ([]Tool, error)
	// Call invokes a tool by its unqualified name.
	Call(ctx context.Context, tool string, args map[string]any) (map[string]any, error)
	// Close releases the provider's resources.
	Close(ctx context.Context) error
}

// newProvider builds a provider from its config.
func newProvider(cfg ProviderConfig) (Provider, error) {
	switch cfg.Transport {
	case TransportHTTP:
		return newHTTPProvider(cfg), nil
	case TransportProcess:
		return newProcessProvider(cfg), nil
	default:
		return nil, core.NewInvalidRequestError("unsupported tool transport " + string(cfg.Transport))
	}
}
