package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestSyncError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *SyncError
		want []string
	}{
		{
			name: "with component and code",
			err: &SyncError{
				Op:        OpFlush,
				Component: "queue",
				Code:      ErrCodeNetworkFailure,
				Err:       errors.New("connection refused"),
			},
			want: []string{"flush operation failed", "queue", "NETWORK_FAILURE", "connection refused"},
		},
		{
			name: "without component",
			err: &SyncError{
				Op:  OpWrite,
				Err: errors.New("boom"),
			},
			want: []string{"write operation failed", "boom"},
		},
		{
			name: "no underlying error",
			err: &SyncError{
				Op:        OpSubscribe,
				Component: "service",
			},
			want: []string{"subscribe operation failed in service component"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.err.Error()
			for _, part := range tt.want {
				if !strings.Contains(got, part) {
					t.Errorf("Error() = %q, want it to contain %q", got, part)
				}
			}
		})
	}
}

func TestE_Builder(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := E(Op("ws.Subscribe"), Component("store/ws"), KindOffline, cause, "open listener")

	if err.Op != Operation("ws.Subscribe") {
		t.Errorf("Op = %q, want ws.Subscribe", err.Op)
	}
	if err.Component != "store/ws" {
		t.Errorf("Component = %q, want store/ws", err.Component)
	}
	if err.Kind != KindOffline {
		t.Errorf("Kind = %q, want %q", err.Kind, KindOffline)
	}
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
	if !strings.Contains(err.Error(), "open listener") {
		t.Errorf("Error() = %q, want it to contain the message", err.Error())
	}
}

func TestE_MessageOnly(t *testing.T) {
	err := E(Op("queue.Flush"), "already in progress")
	if err.Err == nil {
		t.Fatal("expected message to become the underlying error")
	}
	if err.Err.Error() != "already in progress" {
		t.Errorf("Err = %q", err.Err.Error())
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"network error", NewNetworkError(OpWrite, errors.New("timeout")), true},
		{"storage error", NewStorageError(OpPersist, errors.New("disk full")), true},
		{"validation error", NewValidationError(OpSubscribe, errors.New("bad filter")), false},
		{"conflict error", NewConflictError(OpResolve, errors.New("diverged")), false},
		{"discard error", NewDiscardError(OpFlush, errors.New("retries exhausted")), false},
		{"plain error", errors.New("plain"), false},
		{"wrapped sync error", fmt.Errorf("outer: %w", NewRetryable(OpFlush, errors.New("inner"))), true},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsKind(t *testing.T) {
	err := NewDiscardError(OpFlush, errors.New("gave up"))
	if !IsKind(err, KindExhausted) {
		t.Error("expected KindExhausted")
	}
	if IsKind(err, KindOffline) {
		t.Error("did not expect KindOffline")
	}
	if IsKind(errors.New("plain"), KindExhausted) {
		t.Error("plain errors have no kind")
	}
}

func TestWrapOpComponent(t *testing.T) {
	if WrapOpComponent(nil, "x", "y") != nil {
		t.Error("nil error must stay nil")
	}

	cause := errors.New("no such table")
	err := WrapOpComponent(cause, "sqlite.SaveAction", "storage/sqlite")

	var se *SyncError
	if !errors.As(err, &se) {
		t.Fatal("expected a *SyncError")
	}
	if se.Op != "sqlite.SaveAction" || se.Component != "storage/sqlite" {
		t.Errorf("got Op=%q Component=%q", se.Op, se.Component)
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause to be wrapped")
	}
}

func TestWrapOpComponentKind(t *testing.T) {
	cause := errors.New("row not found")
	err := WrapOpComponentKind(cause, "pg.Read", "store/postgres", KindNotFound)
	if !IsKind(err, KindNotFound) {
		t.Error("expected KindNotFound to propagate")
	}
}
