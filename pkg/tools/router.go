package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
	"golang.org/x/sync/errgroup"

	"github.com/voxhome/voxlive/pkg/core"
)

// Separator joins the provider and tool halves of a qualified tool
// name. Sanitization collapses runs of non-alphanumeric runes into one
// underscore, so the double underscore never appears inside a
// sanitized half.
const Separator = "__"

// Router is the registry of named tool providers. It resolves
// qualified tool-call names, forwards arguments, and converts provider
// failures into structured error results the upstream model can react
// to.
type Router struct {
	logger *slog.Logger

	mu        sync.RWMutex
	providers map[string]*registration
}

type registration struct {
	cfg       ProviderConfig
	provider  Provider
	tools     []Tool
	connected bool
}

// NewRouter creates an empty router.
func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		logger:    logger,
		providers: make(map[string]*registration),
	}
}

// RegisterProvider adds a provider from its transport config.
func (r *Router) RegisterProvider(cfg ProviderConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return core.NewInvalidRequestError("provider name must not be empty")
	}
	provider, err := newProvider(cfg)
	if err != nil {
		return err
	}
	return r.attach(cfg, provider)
}

// AttachLocal registers an in-process provider under the given name.
func (r *Router) AttachLocal(name string, provider *LocalProvider) error {
	if strings.TrimSpace(name) == "" {
		return core.NewInvalidRequestError("provider name must not be empty")
	}
	return r.attach(ProviderConfig{Name: name, Transport: TransportLocal, Enabled: true}, provider)
}

func (r *Router) attach(cfg ProviderConfig, provider Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[cfg.Name]; exists {
		return core.NewInvalidRequestError(fmt.Sprintf("provider %q already registered", cfg.Name))
	}
	r.providers[cfg.Name] = &registration{cfg: cfg, provider: provider}
	return nil
}

// Connect performs the named provider's handshake and caches its tool
// list. It returns the discovered tool count.
func (r *Router) Connect(ctx context.Context, name string) (int, error) {
	r.mu.RLock()
	reg, ok := r.providers[name]
	r.mu.RUnlock()
	if !ok {
		return 0, core.NewInvalidRequestError(fmt.Sprintf("provider %q not registered", name))
	}

	tools, err := reg.provider.Connect(ctx)
	if err != nil {
		r.logger.Warn("tool provider connect failed", "provider", name, "error", err)
		return 0, err
	}

	r.mu.Lock()
	reg.tools = tools
	reg.connected = true
	r.mu.Unlock()
	return len(tools), nil
}

// ConnectAll connects every registered, enabled provider. Failures are
// isolated per provider; the returned map reports each outcome.
func (r *Router) ConnectAll(ctx context.Context) map[string]bool {
	r.mu.RLock()
	names := make([]string, 0, len(r.providers))
	for name, reg := range r.providers {
		if reg.cfg.Enabled {
			names = append(names, name)
		}
	}
	r.mu.RUnlock()

	var resultMu sync.Mutex
	results := make(map[string]bool, len(names))

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		name := name
		g.Go(func() error {
			_, err := r.Connect(gctx, name)
			resultMu.Lock()
			results[name] = err == nil
			resultMu.Unlock()
			// Best effort: a failing provider never aborts the rest.
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Dispatch resolves a qualified tool name and invokes the provider.
// Provider-level failures are converted into a structured
// {"error": ...} result so the conversation can continue; only an
// unresolvable name is returned as an error.
func (r *Router) Dispatch(ctx context.Context, qualified string, args map[string]any) (map[string]any, error) {
	providerName, toolName, ok := ParseName(qualified)
	if !ok {
		return nil, core.NewUnknownToolError(qualified)
	}

	r.mu.RLock()
	reg, found := r.providers[providerName]
	var tool *Tool
	if found {
		for i := range reg.tools {
			if reg.tools[i].Name == toolName {
				tool = &reg.tools[i]
				break
			}
		}
	}
	r.mu.RUnlock()

	if !found || !reg.connected {
		return nil, core.NewUnknownToolError(qualified)
	}

	if tool != nil && len(tool.InputSchema) > 0 {
		if msg := validateArgs(tool.InputSchema, args); msg != "" {
			return map[string]any{"error": "invalid arguments: " + msg}, nil
		}
	}

	result, err := reg.provider.Call(ctx, toolName, args)
	if err != nil {
		r.logger.Warn("tool call failed", "tool", qualified, "error", err)
		return map[string]any{"error": err.Error()}, nil
	}
	return result, nil
}

// validateArgs checks args against the tool's declared JSON schema.
// It returns an empty string when valid, otherwise a message listing
// the violations. A schema that itself fails to compile is ignored so
// a sloppy provider cannot block its own tools.
func validateArgs(schema, args map[string]any) string {
	if args == nil {
		args = map[string]any{}
	}
	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(args))
	if err != nil {
		return ""
	}
	if result.Valid() {
		return ""
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return strings.Join(msgs, "; ")
}

// Tools returns every connected provider's tools under their qualified
// names, descriptions prefixed with the provider for the model's
// benefit.
func (r *Router) Tools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Tool
	for name, reg := range r.providers {
		if !reg.connected {
			continue
		}
		for _, tool := range reg.tools {
			out = append(out, Tool{
				Name:        MakeName(name, tool.Name),
				Description: fmt.Sprintf("[%s] %s", name, tool.Description),
				InputSchema: tool.InputSchema,
			})
		}
	}
	return out
}

// Providers returns the registered provider names.
func (r *Router) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

// Close closes every provider.
func (r *Router) Close(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, reg := range r.providers {
		if err := reg.provider.Close(ctx); err != nil {
			r.logger.Warn("tool provider close failed", "provider", name, "error", err)
		}
		reg.connected = false
	}
}

// MakeName builds the qualified dispatch name for a provider/tool
// pair. Both halves are sanitized first.
func MakeName(provider, tool string) string {
	return Sanitize(provider) + Separator + Sanitize(tool)
}

// ParseName splits a qualified name on the first separator occurrence.
func ParseName(qualified string) (provider, tool string, ok bool) {
	idx := strings.Index(qualified, Separator)
	if idx <= 0 || idx+len(Separator) >= len(qualified) {
		return "", "", false
	}
	return qualified[:idx], qualified[idx+len(Separator):], true
}

// Sanitize collapses every run of non-alphanumeric runes into a single
// underscore so names survive the flat upstream function namespace and
// a sanitized name can never contain the separator.
func Sanitize(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	gap := false
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			if gap {
				b.WriteByte('_')
				gap = false
			}
			b.WriteRune(r)
		default:
			gap = true
		}
	}
	if gap {
		b.WriteByte('_')
	}
	return b.String()
}
