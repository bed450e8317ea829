package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/voxhome/voxlive/pkg/audio"
	"github.com/voxhome/voxlive/pkg/core"
	"github.com/voxhome/voxlive/pkg/events"
)

// State is the connection lifecycle state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateClosing      State = "closing"
)

const (
	defaultTurnTimeout     = 60 * time.Second
	defaultToolCallTimeout = 30 * time.Second

	// Receive-loop retry policy for abnormal read errors.
	retryBaseBackoff = time.Second
	retryMaxBackoff  = 30 * time.Second
	maxReadFailures  = 10
)

// Option configures a Conn.
type Option func(*Conn)

// WithBus uses an externally owned event bus. The Conn will not close
// it.
func WithBus(bus *events.Bus) Option {
	return func(c *Conn) {
		c.bus = bus
		c.ownBus = false
	}
}

// WithDialer overrides the websocket dialer. Test hook.
func WithDialer(d Dialer) Option {
	return func(c *Conn) { c.dialer = d }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Conn) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTurnTimeout bounds how long SendText waits for a completed turn.
func WithTurnTimeout(d time.Duration) Option {
	return func(c *Conn) { c.turnTimeout = d }
}

// WithToolCallTimeout bounds how long a model tool call may stay
// unanswered before a timeout result is sent on the caller's behalf.
func WithToolCallTimeout(d time.Duration) Option {
	return func(c *Conn) { c.toolCallTimeout = d }
}

type pendingToolCall struct {
	name  string
	timer *time.Timer
}

// Conn is a shared, refcounted duplex session with a realtime model.
// Connect and Disconnect pair up: the websocket is dialed on the first
// Connect and torn down on the last Disconnect, so multiple consumers
// can share one upstream session.
type Conn struct {
	adapter Adapter
	dialer  Dialer
	bus     *events.Bus
	ownBus  bool
	logger  *slog.Logger

	turnTimeout     time.Duration
	toolCallTimeout time.Duration

	// connectMu serializes Connect/Disconnect so only one dial or
	// teardown is in flight at a time.
	connectMu sync.Mutex

	mu         sync.Mutex
	cfg        Config
	state      State
	refs       int
	conn       FrameConn
	cur        *accumulator
	pending    map[string]*pendingToolCall
	resumption resumptionState
	output     *audio.Buffer
	readySeen  bool
	resuming   bool
	loopCancel context.CancelFunc
	loopDone   chan struct{}
}

// NewConn builds a connection for the given adapter and config. The
// config is validated and defaulted immediately; dialing happens on
// Connect.
func NewConn(adapter Adapter, cfg Config, opts ...Option) (*Conn, error) {
	if err := adapter.Normalize(&cfg); err != nil {
		return nil, err
	}
	c := &Conn{
		adapter:         adapter,
		dialer:          wsDialer{},
		logger:          slog.Default(),
		turnTimeout:     defaultTurnTimeout,
		toolCallTimeout: defaultToolCallTimeout,
		cfg:             cfg,
		state:           StateDisconnected,
		pending:         make(map[string]*pendingToolCall),
		output:          audio.NewBuffer(audio.OutputSampleRate),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.bus == nil {
		c.bus = events.NewBus(events.WithLogger(c.logger))
		c.ownBus = true
	}
	return c, nil
}

// Bus returns the event bus the connection publishes on.
func (c *Conn) Bus() *events.Bus { return c.bus }

// State returns the lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect attaches a consumer. The first call dials the upstream and
// starts the receive loop; subsequent calls only bump the refcount and
// announce the new consumer on the bus.
func (c *Conn) Connect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	if c.state == StateConnected {
		c.refs++
		n := c.refs
		c.mu.Unlock()
		c.bus.Publish(SessionStarted{ClientCount: n})
		return nil
	}
	c.state = StateConnecting
	c.resuming = c.cfg.ResumptionHandle != ""
	cfg := c.cfg
	c.mu.Unlock()

	conn, err := c.dial(ctx, cfg)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	c.conn = conn
	c.refs = 1
	c.state = StateConnected
	c.readySeen = false
	c.resumption.reset()
	c.output.Clear()
	c.loopCancel = cancel
	c.loopDone = done
	c.mu.Unlock()

	go c.readLoop(loopCtx, conn, done)
	return nil
}

func (c *Conn) dial(ctx context.Context, cfg Config) (FrameConn, error) {
	url, header, err := c.adapter.Endpoint(cfg)
	if err != nil {
		return nil, err
	}
	conn, err := c.dialer.Dial(ctx, url, header)
	if err != nil {
		return nil, err
	}
	frames, err := c.adapter.Setup(cfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	for _, frame := range frames {
		if err := conn.WriteFrame(frame); err != nil {
			_ = conn.Close()
			return nil, core.NewConnectError("send setup: " + err.Error())
		}
	}
	return conn, nil
}

// Disconnect detaches a consumer. The last detach cancels the receive
// loop, fails any in-flight turn as cancelled and closes the socket.
func (c *Conn) Disconnect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return nil
	}
	if c.refs > 1 {
		c.refs--
		c.mu.Unlock()
		return nil
	}
	c.refs = 0
	c.state = StateClosing
	cancel := c.loopCancel
	done := c.loopDone
	conn := c.conn
	if c.cur != nil {
		c.cur.finalize(StatusCancelled)
		c.cur = nil
	}
	c.clearPendingLocked()
	c.mu.Unlock()

	cancel()
	_ = conn.Close()
	select {
	case <-done:
	case <-ctx.Done():
	}

	c.mu.Lock()
	c.state = StateDisconnected
	c.conn = nil
	c.mu.Unlock()
	return nil
}

// Close tears the connection down regardless of refcount and, when the
// bus is owned by the connection, closes it too.
func (c *Conn) Close(ctx context.Context) error {
	c.mu.Lock()
	c.refs = 1
	c.mu.Unlock()
	err := c.Disconnect(ctx)
	if c.ownBus {
		c.bus.Close()
	}
	return err
}

// SendText submits a user turn and blocks until the model completes
// its response, the turn timeout elapses, or ctx is cancelled. On
// timeout or cancellation the partial response accumulated so far is
// returned alongside a nil error; the terminal status tells them apart.
func (c *Conn) SendText(ctx context.Context, text string) (Response, error) {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return Response{}, core.NewTransportClosedError("not connected")
	}
	acc := newAccumulator()
	c.cur = acc
	conn := c.conn
	cfg := c.cfg
	c.mu.Unlock()

	frames, err := c.adapter.Encode(cfg, UserTurn{Text: text, TurnComplete: true})
	if err != nil {
		return Response{}, err
	}
	for _, frame := range frames {
		if err := conn.WriteFrame(frame); err != nil {
			c.mu.Lock()
			resp := acc.finalize(StatusFailed)
			c.mu.Unlock()
			return resp, core.NewTransportClosedError("send turn: " + err.Error())
		}
	}

	timer := time.NewTimer(c.turnTimeout)
	defer timer.Stop()

	select {
	case resp := <-acc.waiter:
		return resp, nil
	case <-timer.C:
		c.mu.Lock()
		resp := acc.finalize(StatusTimeout)
		c.mu.Unlock()
		return resp, nil
	case <-ctx.Done():
		c.mu.Lock()
		resp := acc.finalize(StatusCancelled)
		c.mu.Unlock()
		return resp, ctx.Err()
	}
}

// SendAudio streams a chunk of user PCM, resampling to the upstream's
// input rate when the chunk's rate differs.
func (c *Conn) SendAudio(pcm []byte, sampleRate int) error {
	if sampleRate == 0 {
		sampleRate = audio.InputSampleRate
	}
	data := audio.Resample(pcm, sampleRate, audio.InputSampleRate)
	return c.send(AudioAppend{Data: data, SampleRate: audio.InputSampleRate})
}

// SendAudioStreamEnd marks the end of the user's audio stream.
func (c *Conn) SendAudioStreamEnd() error {
	return c.send(AudioStreamEnd{})
}

// SendImage streams an image frame.
func (c *Conn) SendImage(data []byte, mimeType string) error {
	return c.send(ImageAppend{Data: data, MIMEType: mimeType})
}

// SendToolResult reports a tool outcome back to the model. Results for
// call IDs that are no longer pending (already timed out, or never
// requested) are dropped without error.
func (c *Conn) SendToolResult(callID string, result map[string]any) error {
	c.mu.Lock()
	p, ok := c.pending[callID]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	delete(c.pending, callID)
	p.timer.Stop()
	name := p.name
	c.mu.Unlock()

	return c.send(ToolResult{CallID: callID, Name: name, Result: result})
}

// UpdateConfig pushes a new session configuration upstream and keeps
// it for subsequent reconnects.
func (c *Conn) UpdateConfig(cfg Config) error {
	if err := c.adapter.Normalize(&cfg); err != nil {
		return err
	}
	c.mu.Lock()
	c.cfg = cfg
	connected := c.state == StateConnected
	c.mu.Unlock()
	if !connected {
		return nil
	}
	return c.send(ConfigUpdate{Config: cfg})
}

// ResumptionHandle returns the freshest resumption handle, falling
// back to the configured one before any update arrives.
func (c *Conn) ResumptionHandle() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resumption.handle != "" {
		return c.resumption.handle
	}
	return c.cfg.ResumptionHandle
}

// Resumable reports whether the session has a checkpoint to resume
// from.
func (c *Conn) Resumable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resumption.resumable
}

// GoAwayDeadline returns when the upstream said it will force-close,
// or the zero time if no warning has been received.
func (c *Conn) GoAwayDeadline() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resumption.goAwayAt
}

// SetResumptionHandle arms the next Connect to resume from handle.
func (c *Conn) SetResumptionHandle(handle string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.ResumptionHandle = handle
	c.resumption.handle = handle
}

// TakeAudio drains and returns the buffered model output audio.
func (c *Conn) TakeAudio() []byte {
	return c.output.ReadAll()
}

// OutputWAV returns the buffered model output audio as a WAV file
// without draining it.
func (c *Conn) OutputWAV() []byte {
	return c.output.WAV()
}

func (c *Conn) send(cmd Command) error {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return core.NewTransportClosedError("not connected")
	}
	conn := c.conn
	cfg := c.cfg
	c.mu.Unlock()

	frames, err := c.adapter.Encode(cfg, cmd)
	if err != nil {
		return err
	}
	for _, frame := range frames {
		if err := conn.WriteFrame(frame); err != nil {
			return core.NewTransportClosedError(err.Error())
		}
	}
	return nil
}

// readLoop drains the transport until the context is cancelled, the
// upstream closes cleanly, or too many consecutive read errors pile
// up. Abnormal errors are retried with capped exponential backoff.
func (c *Conn) readLoop(ctx context.Context, conn FrameConn, done chan struct{}) {
	defer close(done)

	backoff := retryBaseBackoff
	failures := 0

	for {
		if ctx.Err() != nil {
			return
		}
		frame, err := conn.ReadFrame()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if core.IsBenignClose(err) {
				c.logger.Debug("session closed by upstream", "reason", err)
				c.teardown()
				c.bus.Publish(ErrorEvent{Message: "connection closed"})
				return
			}
			failures++
			if failures > maxReadFailures {
				c.logger.Error("receive loop giving up", "failures", failures, "error", err)
				c.teardown()
				c.bus.Publish(ErrorEvent{Message: "connection lost: " + err.Error()})
				return
			}
			c.logger.Warn("read error, retrying", "attempt", failures, "backoff", backoff, "error", err)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff = min(backoff*2, retryMaxBackoff)
			continue
		}
		failures = 0
		backoff = retryBaseBackoff

		decoded, err := c.adapter.Decode(frame)
		if err != nil {
			c.logger.Warn("dropping undecodable frame", "error", err)
			continue
		}
		for _, ev := range decoded {
			c.handleEvent(ev)
		}
	}
}

// teardown moves the connection to disconnected after the receive loop
// exits on its own (clean upstream close or fatal read errors).
func (c *Conn) teardown() {
	c.mu.Lock()
	if c.state == StateClosing {
		// Disconnect owns the teardown.
		c.mu.Unlock()
		return
	}
	c.state = StateDisconnected
	c.refs = 0
	conn := c.conn
	c.conn = nil
	if c.cur != nil {
		c.cur.finalize(StatusFailed)
		c.cur = nil
	}
	c.clearPendingLocked()
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (c *Conn) clearPendingLocked() {
	for id, p := range c.pending {
		p.timer.Stop()
		delete(c.pending, id)
	}
}

// ensureTurnLocked returns the active accumulator, starting a new one
// when the model opens a turn the client did not initiate.
func (c *Conn) ensureTurnLocked() *accumulator {
	if c.cur == nil || c.cur.finalized {
		c.cur = newAccumulator()
	}
	return c.cur
}

func (c *Conn) handleEvent(ev Event) {
	switch e := ev.(type) {
	case ready:
		c.mu.Lock()
		if c.readySeen {
			c.mu.Unlock()
			return
		}
		c.readySeen = true
		resumed := c.resuming
		handle := c.cfg.ResumptionHandle
		n := c.refs
		c.mu.Unlock()
		if resumed {
			c.bus.Publish(SessionResumed{Handle: handle, ClientCount: n})
		} else {
			c.bus.Publish(SessionStarted{ClientCount: n})
		}

	case TextDelta:
		c.mu.Lock()
		c.ensureTurnLocked().resp.Text += e.Text
		c.mu.Unlock()
		c.bus.Publish(e)

	case AudioDelta:
		c.mu.Lock()
		acc := c.ensureTurnLocked()
		acc.resp.Audio = append(acc.resp.Audio, e.Data...)
		c.mu.Unlock()
		c.output.Write(e.Data)
		c.bus.Publish(e)

	case InputTranscription:
		c.mu.Lock()
		c.ensureTurnLocked().resp.InputTranscript += e.Text
		c.mu.Unlock()
		c.bus.Publish(e)

	case OutputTranscription:
		c.mu.Lock()
		c.ensureTurnLocked().resp.Transcript += e.Text
		c.mu.Unlock()
		c.bus.Publish(e)

	case Interrupted:
		c.mu.Lock()
		if c.cur != nil && !c.cur.finalized {
			c.cur.resp.Audio = nil
		}
		c.mu.Unlock()
		c.output.Clear()
		c.bus.Publish(e)

	case TurnComplete:
		c.mu.Lock()
		transcript := ""
		if c.cur != nil {
			resp := c.cur.finalize(StatusCompleted)
			transcript = resp.Transcript
			c.cur = nil
		}
		c.mu.Unlock()
		c.bus.Publish(TurnComplete{Transcript: transcript})

	case GenerationComplete:
		if e.Resumable {
			c.mu.Lock()
			c.resumption.resumable = true
			c.mu.Unlock()
		}
		c.bus.Publish(e)

	case ResumptionUpdate:
		c.mu.Lock()
		c.resumption.update(e.Handle, e.Resumable)
		c.mu.Unlock()
		c.bus.Publish(e)

	case GoAway:
		c.mu.Lock()
		c.resumption.setGoAway(e.SecondsRemaining, time.Now())
		handle := c.resumption.handle
		c.mu.Unlock()
		c.bus.Publish(GoAway{SecondsRemaining: e.SecondsRemaining, Handle: handle})

	case ToolCallRequest:
		c.registerToolCall(e)
		c.bus.Publish(e)

	case ErrorEvent:
		c.logger.Warn("upstream error", "message", e.Message)
		c.bus.Publish(e)

	default:
		c.bus.Publish(ev)
	}
}

// registerToolCall tracks a model-issued call and arms its deadline.
// If no result arrives in time, a timeout result is reported upstream
// on the caller's behalf, exactly once.
func (c *Conn) registerToolCall(e ToolCallRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.pending[e.CallID]; exists {
		return
	}
	callID, name := e.CallID, e.Name
	p := &pendingToolCall{name: name}
	p.timer = time.AfterFunc(c.toolCallTimeout, func() {
		c.expireToolCall(callID, name)
	})
	c.pending[callID] = p
}

func (c *Conn) expireToolCall(callID, name string) {
	c.mu.Lock()
	if _, ok := c.pending[callID]; !ok {
		c.mu.Unlock()
		return
	}
	delete(c.pending, callID)
	c.mu.Unlock()

	c.logger.Warn("tool call timed out", "call_id", callID, "tool", name)
	err := c.send(ToolResult{
		CallID: callID,
		Name:   name,
		Result: map[string]any{"error": "tool call timed out"},
	})
	if err != nil {
		c.logger.Warn("failed to report tool timeout", "call_id", callID, "error", err)
	}
}
