package session

import "github.com/voxhome/voxlive/pkg/events"

// Inbound event kinds published on the bus. Each maps 1:1 to an
// upstream message type, abstracted from the vendor wire shape by the
// protocol adapter.
const (
	KindSessionStarted      events.Kind = "session_started"
	KindSessionResumed      events.Kind = "session_resumed"
	KindResumptionUpdate    events.Kind = "resumption_update"
	KindGoAway              events.Kind = "go_away"
	KindInterrupted         events.Kind = "interrupted"
	KindAudioDelta          events.Kind = "audio_delta"
	KindTextDelta           events.Kind = "text_delta"
	KindInputTranscription  events.Kind = "input_transcription"
	KindOutputTranscription events.Kind = "output_transcription"
	KindToolCallRequest     events.Kind = "tool_call_request"
	KindTurnComplete        events.Kind = "turn_complete"
	KindGenerationComplete  events.Kind = "generation_complete"
	KindError               events.Kind = "error"

	// kindReady is internal: the upstream acknowledged session setup.
	// The connection translates it into SessionStarted or
	// SessionResumed; it never reaches the bus.
	kindReady events.Kind = "ready"
)

// Event is an inbound session event.
type Event = events.Event

// SessionStarted signals a fresh (non-resumed) session is live.
type SessionStarted struct {
	// ClientCount is the number of consumers sharing the connection.
	ClientCount int
}

func (SessionStarted) Kind() events.Kind { return KindSessionStarted }

// SessionResumed signals the upstream accepted a resumption handle.
type SessionResumed struct {
	Handle      string
	ClientCount int
}

func (SessionResumed) Kind() events.Kind { return KindSessionResumed }

// ResumptionUpdate carries a fresh resumption handle.
type ResumptionUpdate struct {
	Handle    string
	Resumable bool
}

func (ResumptionUpdate) Kind() events.Kind { return KindResumptionUpdate }

// GoAway warns that the upstream will force-close the connection.
type GoAway struct {
	SecondsRemaining int
	// Handle is the last known resumption handle, carried so listeners
	// can reconnect without an extra lookup.
	Handle string
}

func (GoAway) Kind() events.Kind { return KindGoAway }

// Interrupted signals the model retracted its in-flight output.
type Interrupted struct{}

func (Interrupted) Kind() events.Kind { return KindInterrupted }

// AudioDelta carries a chunk of synthesized output audio.
type AudioDelta struct {
	Data []byte
}

func (AudioDelta) Kind() events.Kind { return KindAudioDelta }

// TextDelta carries a chunk of generated text.
type TextDelta struct {
	Text string
}

func (TextDelta) Kind() events.Kind { return KindTextDelta }

// InputTranscription carries a transcription delta of the user's audio.
type InputTranscription struct {
	Text string
}

func (InputTranscription) Kind() events.Kind { return KindInputTranscription }

// OutputTranscription carries a transcription delta of the model's audio.
type OutputTranscription struct {
	Text string
}

func (OutputTranscription) Kind() events.Kind { return KindOutputTranscription }

// ToolCallRequest asks the host to execute a tool and report back.
type ToolCallRequest struct {
	CallID string
	Name   string
	Args   map[string]any
}

func (ToolCallRequest) Kind() events.Kind { return KindToolCallRequest }

// TurnComplete marks the end of the current model turn.
type TurnComplete struct {
	Transcript string
}

func (TurnComplete) Kind() events.Kind { return KindTurnComplete }

// GenerationComplete marks the turn's generation as checkpointed; the
// session becomes resumable.
type GenerationComplete struct {
	Resumable bool
}

func (GenerationComplete) Kind() events.Kind { return KindGenerationComplete }

// ErrorEvent carries an upstream or transport error notice.
type ErrorEvent struct {
	Message string
}

func (ErrorEvent) Kind() events.Kind { return KindError }

// ready is the internal setup acknowledgement.
type ready struct{}

func (ready) Kind() events.Kind { return kindReady }
