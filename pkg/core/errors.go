package core

import (
	"errors"
	"fmt"

	"github.com/gorilla/websocket"
)

// Error is the typed error surfaced by the session engine and the tool
// federation layer.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Code    string    `json:"code,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes errors.
type ErrorType string

const (
	// ErrConnect covers auth or network failures during the initial
	// session handshake. Reported to the caller, never retried
	// automatically.
	ErrConnect ErrorType = "connect_error"
	// ErrTransportClosed marks an unexpected transport close observed
	// by the receive loop.
	ErrTransportClosed ErrorType = "transport_closed"
	// ErrToolTimeout is a tool call that exceeded its deadline.
	ErrToolTimeout ErrorType = "tool_timeout"
	// ErrToolUnreachable is a tool provider that could not be reached
	// or answered with a transport-level failure.
	ErrToolUnreachable ErrorType = "tool_unreachable"
	// ErrToolMalformed is a provider response that could not be decoded.
	ErrToolMalformed ErrorType = "tool_malformed_response"
	// ErrUnknownTool is a dispatch against a provider or tool that is
	// not registered or not connected.
	ErrUnknownTool ErrorType = "unknown_tool"
	// ErrResumptionExpired marks a resumption attempt with a stale or
	// rejected handle.
	ErrResumptionExpired ErrorType = "resumption_expired"
	// ErrInvalidRequest is a caller-side usage error.
	ErrInvalidRequest ErrorType = "invalid_request_error"
	// ErrAPI is a generic upstream failure.
	ErrAPI ErrorType = "api_error"
)

// NewConnectError creates a connect-phase error.
func NewConnectError(message string) *Error {
	return &Error{Type: ErrConnect, Message: message}
}

// NewTransportClosedError creates a transport-closed error.
func NewTransportClosedError(message string) *Error {
	return &Error{Type: ErrTransportClosed, Message: message}
}

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{Type: ErrInvalidRequest, Message: message}
}

// NewAPIError creates a generic API error.
func NewAPIError(message string) *Error {
	return &Error{Type: ErrAPI, Message: message}
}

// NewToolError creates a tool federation error of the given type.
func NewToolError(t ErrorType, message string) *Error {
	return &Error{Type: t, Message: message}
}

// NewUnknownToolError creates an unknown-tool dispatch error.
func NewUnknownToolError(name string) *Error {
	return &Error{Type: ErrUnknownTool, Message: fmt.Sprintf("unknown tool %q", name), Code: "unknown_tool"}
}

// IsRetryable returns true if the receive loop may keep reading after
// observing this error.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrTransportClosed, ErrAPI:
		return true
	default:
		return false
	}
}

// AsError extracts a *Error from err, if present.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsBenignClose reports whether a transport read error is a clean
// shutdown rather than a failure. Covers normal closure, going-away
// and the internal-error code the upstream uses for idle deadline
// expiry.
func IsBenignClose(err error) bool {
	if err == nil {
		return false
	}
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseInternalServerErr,
	)
}
