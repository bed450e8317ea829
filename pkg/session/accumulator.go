package session

import "github.com/google/uuid"

// Status is the terminal (or in-flight) state of a model turn.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusFailed     Status = "failed"
	StatusTimeout    Status = "timeout"
)

// Response is the accumulated output of one model turn.
type Response struct {
	ID     string
	Status Status

	// Text is the concatenated text deltas.
	Text string

	// Transcript is the transcription of the model's audio output.
	Transcript string

	// InputTranscript is the transcription of the user's audio input.
	InputTranscript string

	// Audio is the concatenated output PCM.
	Audio []byte
}

// accumulator collects one turn's deltas and delivers the finished
// response to at most one waiter, exactly once. Guarded by the
// connection mutex.
type accumulator struct {
	resp      Response
	waiter    chan Response
	finalized bool
}

func newAccumulator() *accumulator {
	return &accumulator{
		resp:   Response{ID: uuid.NewString(), Status: StatusInProgress},
		waiter: make(chan Response, 1),
	}
}

// finalize stamps the terminal status and delivers a snapshot to the
// waiter. Later calls are no-ops and return the already-final snapshot.
func (a *accumulator) finalize(status Status) Response {
	if !a.finalized {
		a.finalized = true
		a.resp.Status = status
		a.waiter <- a.resp
	}
	return a.resp
}
