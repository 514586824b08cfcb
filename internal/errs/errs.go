// Package errs implements the runtime's single error taxonomy: ten
// kinds spanning configuration, validation, lookup, provider, tool,
// storage, local I/O, timeout, auth, and permission failures, with a
// propagation policy attached at each call site rather than encoded
// in the type itself.
//
// Grounded on internal/agent/errors.go's fluent-builder pattern
// (With* methods returning *Error) and its errors.As-based extraction
// helpers (IsToolError/GetToolError), generalized from that file's
// tool-specific ToolErrorType to the full ten-kind taxonomy.
package errs

import (
	"errors"
	"fmt"
)

// Kind is one of the ten top-level error categories.
type Kind string

const (
	KindConfig     Kind = "config"
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindProvider   Kind = "provider"
	KindTool       Kind = "tool"
	KindStorage    Kind = "storage"
	KindIO         Kind = "io"
	KindTimeout    Kind = "timeout"
	KindAuth       Kind = "auth"
	KindPermission Kind = "permission"
)

// Error is the runtime's structured error type. Message must never
// contain secrets (API keys, sudo passwords); callers are responsible
// for redacting before attaching a cause's text to Message.
type Error struct {
	Kind       Kind
	Message    string
	Cause      error
	Retryable  bool
	ToolCallID string
	Tool       string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an Error of the given kind wrapping cause.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithCause sets the wrapped cause and returns the receiver for chaining.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error retryable and returns the receiver.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithToolCallID attaches the originating tool call id.
func (e *Error) WithToolCallID(id string) *Error {
	e.ToolCallID = id
	return e
}

// WithTool attaches the originating tool name.
func (e *Error) WithTool(tool string) *Error {
	e.Tool = tool
	return e
}

// Is reports whether target is an *Error with the same Kind, enabling
// errors.Is(err, errs.New(KindTimeout, "")) style kind checks.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// KindOf extracts the Kind from err if it is (or wraps) an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsRetryable reports whether err is an *Error explicitly marked retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// Sentinel errors referenced by name across the core components.
var (
	ErrMaxIterations     = New(KindTimeout, "maximum tool-call iterations exceeded")
	ErrMaxWallTime       = New(KindTimeout, "maximum turn wall time exceeded")
	ErrNoProvider        = New(KindConfig, "no provider configured")
	ErrToolNotFound      = New(KindNotFound, "tool not found")
	ErrAgentNotFound     = New(KindNotFound, "agent not found")
	ErrSessionNotFound   = New(KindNotFound, "session not found")
	ErrRecursionLimit    = New(KindPermission, "sub-agent recursion limit exceeded")
	ErrSameAgentCall     = New(KindValidation, "sub-agent call target must differ from caller")
	ErrNotClonable       = New(KindProvider, "request body is not clonable, cannot retry")
	ErrPendingNotFound   = New(KindNotFound, "no pending tool for session")
	ErrStorageUnreachable = New(KindStorage, "storage backend unreachable")
)
