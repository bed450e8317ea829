package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voxhome/voxlive/pkg/core"
)

const (
	// maxLineBytes bounds a single JSON-RPC line from the child.
	maxLineBytes = 4 << 20
	// terminateGrace is how long a closing child gets between SIGTERM
	// and SIGKILL.
	terminateGrace = 3 * time.Second
)

// ProcessProvider owns a long-lived child process and multiplexes
// concurrent tool calls over its standard streams using
// newline-delimited JSON-RPC, correlated by numeric id.
type ProcessProvider struct {
	cfg    ProviderConfig
	logger *slog.Logger
	nextID atomic.Int64

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  io.Reader
	pending map[int64]chan rpcResponse
	tools   []Tool
	closed  bool

	readerDone chan struct{}
}

func newProcessProvider(cfg ProviderConfig) *ProcessProvider {
	return &ProcessProvider{
		cfg:     cfg,
		logger:  slog.Default(),
		pending: make(map[int64]chan rpcResponse),
	}
}

// Connect spawns the child process and performs the
// initialize → initialized → tools/list handshake.
func (p *ProcessProvider) Connect(ctx context.Context) ([]Tool, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, core.NewToolError(core.ErrToolUnreachable, "provider is closed")
	}
	if p.stdin == nil {
		if err := p.spawnLocked(); err != nil {
			p.mu.Unlock()
			return nil, err
		}
	}
	stdout := p.stdout
	if p.readerDone == nil {
		p.readerDone = make(chan struct{})
		go p.readLoop(stdout)
	}
	p.mu.Unlock()

	if _, err := p.roundTrip(ctx, methodInitialize, newInitializeParams(), handshakeReadTimeout); err != nil {
		return nil, err
	}
	if err := p.write(newNotification(methodInitialized)); err != nil {
		return nil, err
	}

	raw, err := p.roundTrip(ctx, methodToolsList, map[string]any{}, handshakeReadTimeout)
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
	p.logger.Info("process tool provider connected", "provider", p.cfg.Name, "tools", len(tools))
	return tools, nil
}

// Call invokes a tool with the provider's call timeout. Long-lived
// calls get the full 30s default even though handshake reads are
// bounded at 5s.
func (p *ProcessProvider) Call(ctx context.Context, tool string, args map[string]any) (map[string]any, error) {
	raw, err := p.roundTrip(ctx, methodToolsCall, toolsCallParams{Name: tool, Arguments: args}, p.cfg.callTimeout())
	if err != nil {
		return nil, err
	}
	result, err := decodeCallResult(raw)
	if err != nil {
		return nil, core.NewToolError(core.ErrToolMalformed, fmt.Sprintf("decode tools/call result: %v", err))
	}
	return result, nil
}

// Close terminates the child, politely first, then forcibly after a
// grace period. Pending calls fail when the reader exits.
func (p *ProcessProvider) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	cmd := p.cmd
	stdin := p.stdin
	done := p.readerDone
	p.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Signal(os.Interrupt)
		waited := make(chan struct{})
		go func() {
			_ = cmd.Wait()
			close(waited)
		}()
		select {
		case <-waited:
		case <-time.After(terminateGrace):
			_ = cmd.Process.Kill()
			<-waited
		case <-ctx.Done():
			_ = cmd.Process.Kill()
			<-waited
		}
	}
	if done != nil {
		<-done
	}
	return nil
}

func (p *ProcessProvider) spawnLocked() error {
	cmd := exec.Command(p.cfg.Command, p.cfg.Args...)
	cmd.Env = os.Environ()
	for k, v := range p.cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return core.NewToolError(core.ErrToolUnreachable, err.Error())
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return core.NewToolError(core.ErrToolUnreachable, err.Error())
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return core.NewToolError(core.ErrToolUnreachable, err.Error())
	}
	if err := cmd.Start(); err != nil {
		return core.NewToolError(core.ErrToolUnreachable,
			fmt.Sprintf("start %s: %v", p.cfg.Command, err))
	}

	go p.drainStderr(stderr)

	p.cmd = cmd
	p.stdin = stdin
	p.stdout = stdout
	return nil
}

// readLoop demultiplexes child responses by id. Partial lines are
// buffered by the scanner until a full JSON object is available.
func (p *ProcessProvider) readLoop(stdout io.Reader) {
	defer close(p.readerDone)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp rpcResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			p.logger.Warn("discarding malformed line from tool provider",
				"provider", p.cfg.Name, "error", err)
			continue
		}
		if resp.ID == nil {
			// Server-initiated notification; nothing to correlate.
			continue
		}

		p.mu.Lock()
		ch, ok := p.pending[*resp.ID]
		if ok {
			delete(p.pending, *resp.ID)
		}
		p.mu.Unlock()
		if ok {
			ch <- resp
		}
	}

	// Reader is gone: fail everything still in flight.
	p.mu.Lock()
	pending := p.pending
	p.pending = make(map[int64]chan rpcResponse)
	p.mu.Unlock()
	for id, ch := range pending {
		ch <- rpcResponse{ID: ptrInt64(id), Error: &rpcError{Message: "provider process exited"}}
	}
}

func (p *ProcessProvider) drainStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 4*1024), 256*1024)
	for scanner.Scan() {
		p.logger.Debug("tool provider stderr", "provider", p.cfg.Name, "line", scanner.Text())
	}
}

func (p *ProcessProvider) roundTrip(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	id := p.nextID.Add(1)
	ch := make(chan rpcResponse, 1)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, core.NewToolError(core.ErrToolUnreachable, "provider is closed")
	}
	p.pending[id] = ch
	p.mu.Unlock()

	if err := p.write(newRequest(id, method, params)); err != nil {
		p.removePending(id)
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, core.NewToolError(core.ErrToolUnreachable,
				fmt.Sprintf("%s failed: %s", method, resp.Error.Message))
		}
		return resp.Result, nil
	case <-timer.C:
		// Drop the pending entry so the table cannot leak.
		p.removePending(id)
		return nil, core.NewToolError(core.ErrToolTimeout,
			fmt.Sprintf("%s timed out after %s", method, timeout))
	case <-ctx.Done():
		p.removePending(id)
		return nil, ctx.Err()
	}
}

func (p *ProcessProvider) removePending(id int64) {
	p.mu.Lock()
	delete(p.pending, id)
	p.mu.Unlock()
}

func (p *ProcessProvider) write(req rpcRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stdin == nil {
		return core.NewToolError(core.ErrToolUnreachable, "provider not connected")
	}
	if _, err := p.stdin.Write(data); err != nil {
		return core.NewToolError(core.ErrToolUnreachable, fmt.Sprintf("write to provider: %v", err))
	}
	return nil
}

func ptrInt64(v int64) *int64 { return &v }
