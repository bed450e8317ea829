package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxhome/voxlive/pkg/core"
)

// fakeStdioServer emulates a tool provider child process over in-memory
// pipes so the correlation and framing logic is exercised without
// spawning anything.
type fakeStdioServer struct {
	stdin  *io.PipeReader // what the provider wrote
	stdout *io.PipeWriter // what the provider will read

	mu      sync.Mutex
	ignored map[string]bool // methods to never answer
	delay   time.Duration
}

func newFakeStdioServer(t *testing.T, p *ProcessProvider) *fakeStdioServer {
	t.Helper()

	clientOut, serverIn := io.Pipe()
	serverOut, clientIn := io.Pipe()

	p.stdin = serverIn
	p.stdout = serverOut

	s := &fakeStdioServer{stdin: clientOut, stdout: clientIn, ignored: make(map[string]bool)}
	go s.serve()
	t.Cleanup(func() {
		_ = s.stdin.Close()
		_ = s.stdout.Close()
	})
	return s
}

func (s *fakeStdioServer) ignore(method string) {
	s.mu.Lock()
	s.ignored[method] = true
	s.mu.Unlock()
}

func (s *fakeStdioServer) serve() {
	// When the provider closes our stdin, behave like an exiting
	// process: stdout goes away too.
	defer s.stdout.Close()

	scanner := bufio.NewScanner(s.stdin)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		var req struct {
			ID     *int64          `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			continue
		}
		if req.ID == nil {
			continue // notification
		}
		s.mu.Lock()
		skip := s.ignored[req.Method]
		delay := s.delay
		s.mu.Unlock()
		if skip {
			continue
		}
		if delay > 0 {
			time.Sleep(delay)
		}

		var result any
		switch req.Method {
		case methodInitialize:
			result = map[string]any{"protocolVersion": protocolVersion}
		case methodToolsList:
			result = toolsListResult{Tools: []toolDescriptor{
				{Name: "lookup", Description: "Look something up"},
			}}
		case methodToolsCall:
			var params toolsCallParams
			_ = json.Unmarshal(req.Params, &params)
			result = toolsCallResult{Content: []contentItem{
				{Type: "text", Text: "called " + params.Name},
			}}
		default:
			continue
		}
		payload, _ := json.Marshal(map[string]any{"jsonrpc": jsonrpcVersion, "id": *req.ID, "result": result})
		payload = append(payload, '\n')
		if _, err := s.stdout.Write(payload); err != nil {
			return
		}
	}
}

func TestProcessProviderHandshake(t *testing.T) {
	t.Parallel()

	p := newProcessProvider(ProviderConfig{Name: "stdio", Transport: TransportProcess})
	newFakeStdioServer(t, p)

	tools, err := p.Connect(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "lookup", tools[0].Name)
}

func TestProcessProviderCall(t *testing.T) {
	t.Parallel()

	p := newProcessProvider(ProviderConfig{Name: "stdio", Transport: TransportProcess})
	newFakeStdioServer(t, p)

	_, err := p.Connect(context.Background())
	require.NoError(t, err)

	result, err := p.Call(context.Background(), "lookup", map[string]any{"q": "x"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"result": "called lookup"}, result)
}

func TestProcessProviderConcurrentCalls(t *testing.T) {
	t.Parallel()

	p := newProcessProvider(ProviderConfig{Name: "stdio", Transport: TransportProcess})
	newFakeStdioServer(t, p)

	_, err := p.Connect(context.Background())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := p.Call(context.Background(), "lookup", nil)
			assert.NoError(t, err)
			assert.Equal(t, "called lookup", result["result"])
		}()
	}
	wg.Wait()
}

func TestProcessProviderCallTimeoutRemovesPending(t *testing.T) {
	t.Parallel()

	p := newProcessProvider(ProviderConfig{
		Name:        "stdio",
		Transport:   TransportProcess,
		CallTimeout: 100 * time.Millisecond,
	})
	server := newFakeStdioServer(t, p)

	_, err := p.Connect(context.Background())
	require.NoError(t, err)

	server.ignore(methodToolsCall)
	_, err = p.Call(context.Background(), "lookup", nil)
	typed, ok := core.AsError(err)
	require.True(t, ok)
	assert.Equal(t, core.ErrToolTimeout, typed.Type)

	// The pending table must not leak the timed-out entry.
	p.mu.Lock()
	pending := len(p.pending)
	p.mu.Unlock()
	assert.Zero(t, pending)
}

func TestProcessProviderReaderExitFailsInflight(t *testing.T) {
	t.Parallel()

	p := newProcessProvider(ProviderConfig{Name: "stdio", Transport: TransportProcess})
	server := newFakeStdioServer(t, p)

	_, err := p.Connect(context.Background())
	require.NoError(t, err)

	server.ignore(methodToolsCall)
	errCh := make(chan error, 1)
	go func() {
		_, err := p.Call(context.Background(), "lookup", nil)
		errCh <- err
	}()

	// Give the call time to register, then kill the pipe.
	time.Sleep(50 * time.Millisecond)
	_ = server.stdout.Close()

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "process exited")
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight call not failed after reader exit")
	}
}

func TestProcessProviderCloseRejectsFurtherCalls(t *testing.T) {
	t.Parallel()

	p := newProcessProvider(ProviderConfig{Name: "stdio", Transport: TransportProcess})
	newFakeStdioServer(t, p)

	_, err := p.Connect(context.Background())
	require.NoError(t, err)

	require.NoError(t, p.Close(context.Background()))

	_, err = p.Call(context.Background(), "lookup", nil)
	typed, ok := core.AsError(err)
	require.True(t, ok)
	assert.Equal(t, core.ErrToolUnreachable, typed.Type)
}

func TestProcessProviderMalformedLineIgnored(t *testing.T) {
	t.Parallel()

	p := newProcessProvider(ProviderConfig{Name: "stdio", Transport: TransportProcess})
	server := newFakeStdioServer(t, p)

	// Garbage before the handshake answer must not break correlation.
	go func() {
		_, _ = server.stdout.Write([]byte("this is not json\n"))
	}()

	tools, err := p.Connect(context.Background())
	require.NoError(t, err)
	assert.Len(t, tools, 1)
}
