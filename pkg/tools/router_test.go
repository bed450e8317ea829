package tools

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxhome/voxlive/pkg/core"
)

func TestMakeNameParseNameRoundTrip(t *testing.T) {
	t.Parallel()

	cases := []struct {
		provider, tool string
	}{
		{"ha", "call_service"},
		{"my-server", "do.things"},
		{"Weather API", "forecast/today"},
		{"srv--alpha", "run__task"},
		{"p1", "t1"},
	}
	for _, tc := range cases {
		qualified := MakeName(tc.provider, tc.tool)
		gotProvider, gotTool, ok := ParseName(qualified)
		require.True(t, ok, "ParseName(%q)", qualified)
		assert.Equal(t, Sanitize(tc.provider), gotProvider)
		assert.Equal(t, Sanitize(tc.tool), gotTool)
	}
}

func TestParseNameRejectsUnqualified(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"", "plain", "__leading", "trailing__", "x"} {
		_, _, ok := ParseName(name)
		assert.False(t, ok, "ParseName(%q) should fail", name)
	}
}

func TestSanitize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "my_server_2", Sanitize("my-server.2"))
	assert.Equal(t, "already_clean_1", Sanitize("already_clean_1"))
	assert.Equal(t, "a_b", Sanitize("a--b"))
	assert.Equal(t, "a_b", Sanitize("a__b"))
	assert.Equal(t, "_x_", Sanitize(" x "))
	assert.Equal(t, "", Sanitize(""))
}

type fakeProvider struct {
	tools      []Tool
	connectErr error
	callFn     func(ctx context.Context, tool string, args map[string]any) (map[string]any, error)
	closed     bool
}

func (f *fakeProvider) Connect(context.Context) ([]Tool, error) {
	if f.connectErr != nil {
		return nil, f.connectErr
	}
	return f.tools, nil
}

func (f *fakeProvider) Call(ctx context.Context, tool string, args map[string]any) (map[string]any, error) {
	if f.callFn != nil {
		return f.callFn(ctx, tool, args)
	}
	return map[string]any{"success": true}, nil
}

func (f *fakeProvider) Close(context.Context) error {
	f.closed = true
	return nil
}

func newTestRouter(t *testing.T, name string, p Provider) *Router {
	t.Helper()
	r := NewRouter(nil)
	require.NoError(t, r.attach(ProviderConfig{Name: name, Transport: TransportLocal, Enabled: true}, p))
	return r
}

func TestRouterDispatch(t *testing.T) {
	t.Parallel()

	fake := &fakeProvider{tools: []Tool{{Name: "call_service", Description: "Call a service"}}}
	r := newTestRouter(t, "ha", fake)

	count, err := r.Connect(context.Background(), "ha")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	result, err := r.Dispatch(context.Background(), "ha__call_service", map[string]any{"domain": "light"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"success": true}, result)
}

func TestRouterDispatchUnknownTool(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, "ha", &fakeProvider{})

	// Not connected yet.
	_, err := r.Dispatch(context.Background(), "ha__anything", nil)
	typed, ok := core.AsError(err)
	require.True(t, ok)
	assert.Equal(t, core.ErrUnknownTool, typed.Type)

	// Unregistered provider.
	_, err = r.Dispatch(context.Background(), "nope__tool", nil)
	require.Error(t, err)

	// Unqualified name.
	_, err = r.Dispatch(context.Background(), "bare", nil)
	require.Error(t, err)
}

func TestRouterDispatchWrapsProviderFailure(t *testing.T) {
	t.Parallel()

	fake := &fakeProvider{
		tools: []Tool{{Name: "flaky"}},
		callFn: func(context.Context, string, map[string]any) (map[string]any, error) {
			return nil, core.NewToolError(core.ErrToolTimeout, "call timed out")
		},
	}
	r := newTestRouter(t, "p", fake)
	_, err := r.Connect(context.Background(), "p")
	require.NoError(t, err)

	// A provider failure becomes a well-formed error result, never an
	// error return: the upstream model must always get something it
	// can react to.
	result, err := r.Dispatch(context.Background(), "p__flaky", nil)
	require.NoError(t, err)
	assert.Contains(t, result["error"], "call timed out")
}

func TestRouterDispatchValidatesArguments(t *testing.T) {
	t.Parallel()

	fake := &fakeProvider{tools: []Tool{{
		Name: "forecast",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"city": map[string]any{"type": "string"},
			},
			"required": []any{"city"},
		},
	}}}
	r := newTestRouter(t, "weather", fake)
	_, err := r.Connect(context.Background(), "weather")
	require.NoError(t, err)

	result, err := r.Dispatch(context.Background(), "weather__forecast", map[string]any{})
	require.NoError(t, err)
	assert.Contains(t, result["error"], "invalid arguments")

	result, err = r.Dispatch(context.Background(), "weather__forecast", map[string]any{"city": "Vienna"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"success": true}, result)
}

func TestRouterConnectAllIsolatesFailures(t *testing.T) {
	t.Parallel()

	r := NewRouter(nil)
	good := &fakeProvider{tools: []Tool{{Name: "ok"}}}
	bad := &fakeProvider{connectErr: fmt.Errorf("connection refused")}
	disabled := &fakeProvider{tools: []Tool{{Name: "never"}}}

	require.NoError(t, r.attach(ProviderConfig{Name: "good", Enabled: true}, good))
	require.NoError(t, r.attach(ProviderConfig{Name: "bad", Enabled: true}, bad))
	require.NoError(t, r.attach(ProviderConfig{Name: "off", Enabled: false}, disabled))

	results := r.ConnectAll(context.Background())
	assert.Equal(t, map[string]bool{"good": true, "bad": false}, results)

	// The good provider still dispatches.
	result, err := r.Dispatch(context.Background(), "good__ok", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"success": true}, result)
}

func TestRouterTools(t *testing.T) {
	t.Parallel()

	fake := &fakeProvider{tools: []Tool{
		{Name: "get_state", Description: "Read entity state"},
		{Name: "call_service", Description: "Call a service"},
	}}
	r := newTestRouter(t, "ha", fake)
	_, err := r.Connect(context.Background(), "ha")
	require.NoError(t, err)

	listed := r.Tools()
	require.Len(t, listed, 2)
	names := []string{listed[0].Name, listed[1].Name}
	assert.ElementsMatch(t, []string{"ha__get_state", "ha__call_service"}, names)
	for _, tool := range listed {
		assert.Contains(t, tool.Description, "[ha]")
	}
}

func TestRouterRejectsDuplicateRegistration(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, "ha", &fakeProvider{})
	err := r.attach(ProviderConfig{Name: "ha"}, &fakeProvider{})
	require.Error(t, err)
}

func TestRouterClose(t *testing.T) {
	t.Parallel()

	fake := &fakeProvider{tools: []Tool{{Name: "t"}}}
	r := newTestRouter(t, "p", fake)
	_, err := r.Connect(context.Background(), "p")
	require.NoError(t, err)

	r.Close(context.Background())
	assert.True(t, fake.closed)

	_, err = r.Dispatch(context.Background(), "p__t", nil)
	require.Error(t, err, "dispatch after close must fail as unknown tool")
}

func TestLocalProvider(t *testing.T) {
	t.Parallel()

	local := NewLocalProvider()
	local.Register(Tool{Name: "echo", Description: "Echo arguments"},
		func(_ context.Context, args map[string]any) (map[string]any, error) {
			return map[string]any{"echo": args["msg"]}, nil
		})
	local.Register(Tool{Name: "boom"},
		func(context.Context, map[string]any) (map[string]any, error) {
			return nil, fmt.Errorf("kaboom")
		})

	r := NewRouter(nil)
	require.NoError(t, r.AttachLocal("host", local))
	count, err := r.Connect(context.Background(), "host")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	result, err := r.Dispatch(context.Background(), "host__echo", map[string]any{"msg": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", result["echo"])

	result, err = r.Dispatch(context.Background(), "host__boom", nil)
	require.NoError(t, err)
	assert.Contains(t, result["error"], "kaboom")
}
