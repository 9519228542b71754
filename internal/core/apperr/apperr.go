// Package apperr carries the ErrorKind taxonomy used across the control
// plane so that callers at any layer can classify a failure without
// string-matching messages. It generalizes the teacher's HTTP-coded
// ServiceError to a transport-agnostic kind, since REST handlers are out
// of scope for this repository.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is one of the error kinds from spec.md §7.
type Kind string

const (
	Validation         Kind = "VALIDATION"
	NotFound           Kind = "NOT_FOUND"
	Conflict           Kind = "CONFLICT"
	AgentDisconnected  Kind = "AGENT_DISCONNECTED"
	CommandFailed      Kind = "COMMAND_FAILED"
	ProxyUpdateFailed  Kind = "PROXY_UPDATE_FAILED"
	PrivilegeDenied    Kind = "PRIVILEGE_DENIED"
	Busy               Kind = "BUSY"
	Internal           Kind = "INTERNAL"
)

// Retryable reports whether callers should expect retrying the same
// operation to plausibly succeed.
func (k Kind) Retryable() bool {
	switch k {
	case Busy, AgentDisconnected:
		return true
	default:
		return false
	}
}

// Error is a structured error carrying a Kind, a short message, and an
// optional wrapped cause. Secrets must never be placed in Message.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// WithDetail attaches a non-secret diagnostic detail and returns e for
// chaining.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an Error of the given kind wrapping an existing error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Of extracts the Kind carried by err, or Internal if err does not carry
// one (or is nil, in which case callers should not have called this).
func Of(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return Internal
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	return Of(err) == kind
}

// Convenience constructors for the kinds that recur across components.

func Invalid(field, reason string) *Error {
	return New(Validation, fmt.Sprintf("invalid %s: %s", field, reason)).
		WithDetail("field", field)
}

func NotFoundf(resource, id string) *Error {
	return New(NotFound, fmt.Sprintf("%s not found", resource)).
		WithDetail("resource", resource).
		WithDetail("id", id)
}

func Conflictf(format string, args ...any) *Error {
	return New(Conflict, fmt.Sprintf(format, args...))
}

func Disconnected(serverID string) *Error {
	return New(AgentDisconnected, "agent is not connected").
		WithDetail("serverId", serverID)
}

func CommandFailedf(action, message string) *Error {
	return New(CommandFailed, message).WithDetail("action", action)
}

func ProxyFailed(err error) *Error {
	return Wrap(ProxyUpdateFailed, "proxy admin update failed", err)
}

func Denied(action, reason string) *Error {
	return New(PrivilegeDenied, reason).WithDetail("action", action)
}

func Busyf(operation string) *Error {
	return New(Busy, "resource busy").WithDetail("operation", operation)
}

func Internalf(message string, err error) *Error {
	return Wrap(Internal, message, err)
}
