package session

// Command is an outbound instruction destined for the upstream.
// Adapters translate commands into one or more wire frames.
type Command interface {
	isCommand()
}

// UserTurn submits user text. TurnComplete asks the model to respond
// immediately rather than wait for more input.
type UserTurn struct {
	Text         string
	TurnComplete bool
}

func (UserTurn) isCommand() {}

// AudioAppend streams a chunk of user audio. SampleRate describes the
// chunk; the connection resamples to the upstream's input rate when
// they differ.
type AudioAppend struct {
	Data       []byte
	SampleRate int
}

func (AudioAppend) isCommand() {}

// AudioStreamEnd marks the end of a user audio stream.
type AudioStreamEnd struct{}

func (AudioStreamEnd) isCommand() {}

// ImageAppend streams an image frame alongside the audio.
type ImageAppend struct {
	Data     []byte
	MIMEType string
}

func (ImageAppend) isCommand() {}

// ToolResult reports the outcome of a tool call back to the model.
type ToolResult struct {
	CallID string
	Name   string
	Result map[string]any
}

func (ToolResult) isCommand() {}

// ConfigUpdate reconfigures the live session.
type ConfigUpdate struct {
	Config Config
}

func (ConfigUpdate) isCommand() {}
