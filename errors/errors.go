// Package errors provides custom error types for the caresync library.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents the type of error that occurred
type ErrorCode string

const (
	ErrCodeNetworkFailure    ErrorCode = "NETWORK_FAILURE"
	ErrCodeStorageFailure    ErrorCode = "STORAGE_FAILURE"
	ErrCodeConflictFailure   ErrorCode = "CONFLICT_FAILURE"
	ErrCodeValidationFailure ErrorCode = "VALIDATION_FAILURE"
	ErrCodeActionDiscarded   ErrorCode = "ACTION_DISCARDED"
)

// Kind classifies an error beyond its code for callers that branch on it.
type Kind string

const (
	KindInvalid   Kind = "invalid"
	KindNotFound  Kind = "not_found"
	KindOffline   Kind = "offline"
	KindExhausted Kind = "exhausted"
	KindClosed    Kind = "closed"
)

// Operation represents the type of sync operation
type Operation string

const (
	OpSubscribe   Operation = "subscribe"
	OpUnsubscribe Operation = "unsubscribe"
	OpWrite       Operation = "write"
	OpRead        Operation = "read"
	OpQueue       Operation = "queue"
	OpFlush       Operation = "flush"
	OpPersist     Operation = "persist"
	OpResolve     Operation = "resolve"
	OpMerge       Operation = "merge"
	OpClose       Operation = "close"
)

// Component identifies the subsystem an error originated from.
type Component string

// Op is used by the E builder so call sites can tag free-form operation
// names (e.g. "sqlite.SaveAction") without declaring a constant.
type Op string

// SyncError represents an error that occurred in the sync subsystem
type SyncError struct {
	// Operation during which the error occurred
	Op Operation

	// Component that generated the error (e.g., "queue", "service")
	Component string

	// Underlying error
	Err error

	// Whether the operation can be retried
	Retryable bool

	// Error code for the error type
	Code ErrorCode

	// Kind classifies the failure for callers that branch on it
	Kind Kind

	// Metadata for additional context
	Metadata map[string]interface{}
}

func (e *SyncError) Error() string {
	var msg string
	if e.Component != "" {
		msg = fmt.Sprintf("%s operation failed in %s component", e.Op, e.Component)
	} else {
		msg = fmt.Sprintf("%s operation failed", e.Op)
	}

	if e.Code != "" {
		msg += fmt.Sprintf(" [%s]", e.Code)
	}

	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}

	return msg
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// E builds a SyncError from a variadic argument list. Recognized argument
// types: Op, Operation, Component, Kind, ErrorCode, error, and string (the
// message; multiple strings are joined). Unknown types are ignored.
func E(args ...interface{}) *SyncError {
	se := &SyncError{}
	var msgs []string
	for _, arg := range args {
		switch a := arg.(type) {
		case Op:
			se.Op = Operation(a)
		case Operation:
			se.Op = a
		case Component:
			se.Component = string(a)
		case Kind:
			se.Kind = a
		case ErrorCode:
			se.Code = a
		case error:
			se.Err = a
		case string:
			msgs = append(msgs, a)
		}
	}
	if len(msgs) > 0 {
		msg := strings.Join(msgs, ": ")
		if se.Err != nil {
			se.Err = fmt.Errorf("%s: %w", msg, se.Err)
		} else {
			se.Err = errors.New(msg)
		}
	}
	return se
}

// NewStorageError creates a new storage-related SyncError
func NewStorageError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeStorageFailure,
		Op:        op,
		Component: "storage",
		Err:       cause,
		Retryable: true,
	}
}

// NewConflictError creates a new conflict-related SyncError
func NewConflictError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeConflictFailure,
		Op:        op,
		Component: "consistency",
		Err:       cause,
		Retryable: false,
	}
}

// NewValidationError creates a new validation-related SyncError
func NewValidationError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeValidationFailure,
		Op:        op,
		Kind:      KindInvalid,
		Err:       cause,
		Retryable: false,
	}
}

// NewNetworkError creates a new network-related SyncError
func NewNetworkError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeNetworkFailure,
		Op:        op,
		Component: "transport",
		Err:       cause,
		Retryable: true,
	}
}

// NewDiscardError creates the terminal error recorded when an offline action
// exhausts its retry budget. It is never retryable.
func NewDiscardError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeActionDiscarded,
		Op:        op,
		Component: "queue",
		Kind:      KindExhausted,
		Err:       cause,
		Retryable: false,
	}
}

// New creates a new SyncError
func New(op Operation, err error) *SyncError {
	return &SyncError{
		Op:  op,
		Err: err,
	}
}

// NewWithComponent creates a new SyncError with component information
func NewWithComponent(op Operation, component string, err error) *SyncError {
	return &SyncError{
		Op:        op,
		Component: component,
		Err:       err,
	}
}

// NewRetryable creates a new retryable SyncError
func NewRetryable(op Operation, err error) *SyncError {
	return &SyncError{
		Op:        op,
		Err:       err,
		Retryable: true,
	}
}

// IsRetryable checks if an error is a retryable SyncError
func IsRetryable(err error) bool {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Retryable
	}
	return false
}

// IsKind reports whether err is a SyncError of the given kind.
func IsKind(err error, kind Kind) bool {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Kind == kind
	}
	return false
}
