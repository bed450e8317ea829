package session

import "net/http"

// Adapter translates between the provider-neutral command/event model
// and a vendor's realtime wire protocol. Implementations must be
// stateless: all per-session state lives in the connection.
type Adapter interface {
	// Name identifies the adapter ("gemini", "openai").
	Name() string

	// Endpoint returns the websocket URL and headers for cfg.
	Endpoint(cfg Config) (string, http.Header, error)

	// Normalize applies adapter defaults and validates cfg.
	Normalize(cfg *Config) error

	// Setup returns the frames to send immediately after dialing.
	Setup(cfg Config) ([][]byte, error)

	// Decode parses one inbound frame into zero or more events.
	// Unrecognized messages decode to an empty slice, not an error.
	Decode(frame []byte) ([]Event, error)

	// Encode renders a command as one or more wire frames.
	Encode(cfg Config, cmd Command) ([][]byte, error)
}
