package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/voxhome/voxlive/pkg/core"
)

// HandlerFunc executes a locally registered tool.
type HandlerFunc func(ctx context.Context, args map[string]any) (map[string]any, error)

// LocalProvider exposes in-process Go handlers through the same
// dispatch contract as remote providers. Hosts use it to surface their
// builtin tools next to federated ones.
type LocalProvider struct {
	mu       sync.RWMutex
	tools    []Tool
	handlers map[string]HandlerFunc
}

// NewLocalProvider creates an empty local provider.
func NewLocalProvider() *LocalProvider {
	return &LocalProvider{handlers: make(map[string]HandlerFunc)}
}

// Register adds a tool definition and its handler.
func (p *LocalProvider) Register(tool Tool, handler HandlerFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tools = append(p.tools, tool)
	p.handlers[tool.Name] = handler
}

// Connect returns the registered tool list; there is no handshake.
func (p *LocalProvider) Connect(context.Context) ([]Tool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Tool(nil), p.tools...), nil
}

// Call runs the registered handler.
func (p *LocalProvider) Call(ctx context.Context, tool string, args map[string]any) (map[string]any, error) {
	p.mu.RLock()
	handler, ok := p.handlers[tool]
	p.mu.RUnlock()
	if !ok {
		return nil, core.NewUnknownToolError(tool)
	}
	result, err := handler(ctx, args)
	if err != nil {
		return nil, core.NewToolError(core.ErrAPI, fmt.Sprintf("%s: %v", tool, err))
	}
	return result, nil
}

// Close is a no-op.
func (p *LocalProvider) Close(context.Context) error {
	return nil
}
