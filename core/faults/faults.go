// Package faults defines the error taxonomy shared by the dispatch
// core. Callers branch on the kind, not on error strings: Validation,
// NotFound, Authorization and Conflict are surfaced to the caller
// without retry; Upstream failures are retried with bounded backoff by
// the step that hit them.
package faults

import (
	"errors"
	"fmt"
)

// Kind classifies an error for retry and surfacing decisions.
type Kind int

const (
	// Validation marks malformed input or a disallowed state transition.
	Validation Kind = iota + 1
	// NotFound marks a missing incident, offer or config version.
	NotFound
	// Authorization marks an actor lacking permission for the request.
	Authorization
	// Conflict marks an optimistic-concurrency loss: the offer is
	// already resolved or the incident already assigned.
	Conflict
	// Upstream marks a failed call to an external collaborator.
	Upstream
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case NotFound:
		return "not_found"
	case Authorization:
		return "authorization"
	case Conflict:
		return "conflict"
	case Upstream:
		return "upstream"
	default:
		return "unknown"
	}
}

// Error carries a kind alongside the message and an optional cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a fault of the given kind.
func New(k Kind, format string, args ...any) error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}

// Wrap builds a fault of the given kind around a cause.
func Wrap(k Kind, err error, format string, args ...any) error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Validationf returns a Validation fault.
func Validationf(format string, args ...any) error { return New(Validation, format, args...) }

// NotFoundf returns a NotFound fault.
func NotFoundf(format string, args ...any) error { return New(NotFound, format, args...) }

// Authorizationf returns an Authorization fault.
func Authorizationf(format string, args ...any) error { return New(Authorization, format, args...) }

// Conflictf returns a Conflict fault.
func Conflictf(format string, args ...any) error { return New(Conflict, format, args...) }

// Upstreamf returns an Upstream fault wrapping err.
func Upstreamf(err error, format string, args ...any) error {
	return Wrap(Upstream, err, format, args...)
}

// KindOf extracts the kind of err, or 0 when err carries none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, k Kind) bool { return KindOf(err) == k }
