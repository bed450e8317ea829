package core

import (
	"fmt"
	"testing"

	"github.com/gorilla/websocket"
)

func TestErrorString(t *testing.T) {
	t.Parallel()

	err := &Error{Type: ErrToolTimeout, Message: "call exceeded deadline", Code: "tool_timeout"}
	want := "tool_timeout: call exceeded deadline (code: tool_timeout)"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}

	bare := NewAPIError("upstream failed")
	if bare.Error() != "api_error: upstream failed" {
		t.Fatalf("Error() = %q", bare.Error())
	}
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	if !(&Error{Type: ErrTransportClosed}).IsRetryable() {
		t.Fatal("transport_closed should be retryable")
	}
	if (&Error{Type: ErrConnect}).IsRetryable() {
		t.Fatal("connect_error should not be retryable")
	}
	if (&Error{Type: ErrUnknownTool}).IsRetryable() {
		t.Fatal("unknown_tool should not be retryable")
	}
}

func TestAsError(t *testing.T) {
	t.Parallel()

	inner := NewUnknownToolError("ha__call_service")
	wrapped := fmt.Errorf("dispatch: %w", inner)

	got, ok := AsError(wrapped)
	if !ok {
		t.Fatal("AsError failed to unwrap")
	}
	if got.Type != ErrUnknownTool {
		t.Fatalf("Type = %q, want %q", got.Type, ErrUnknownTool)
	}

	if _, ok := AsError(fmt.Errorf("plain")); ok {
		t.Fatal("AsError matched a plain error")
	}
}

func TestIsBenignClose(t *testing.T) {
	t.Parallel()

	cases := []struct {
		code int
		want bool
	}{
		{websocket.CloseNormalClosure, true},
		{websocket.CloseGoingAway, true},
		{websocket.CloseInternalServerErr, true},
		{websocket.CloseAbnormalClosure, false},
		{websocket.ClosePolicyViolation, false},
	}
	for _, tc := range cases {
		err := &websocket.CloseError{Code: tc.code}
		if got := IsBenignClose(err); got != tc.want {
			t.Fatalf("IsBenignClose(code=%d) = %v, want %v", tc.code, got, tc.want)
		}
	}
	if IsBenignClose(nil) {
		t.Fatal("IsBenignClose(nil) = true")
	}
	if IsBenignClose(fmt.Errorf("read tcp: connection reset")) {
		t.Fatal("IsBenignClose(non-close error) = true")
	}
}
