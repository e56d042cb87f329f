// Package apperr defines the error kinds reported back to chat users.
package apperr

import (
	"github.com/cockroachdb/errors"
)

// Kind classifies an error at the command boundary.
type Kind int

const (
	KindUnknown    Kind = iota // Not classified; rendered as the default error
	KindValidation             // Malformed command arguments
	KindResolution             // Search/extraction failure or timeout
	KindTransport              // Call transport operation failed
	KindState                  // Operation invalid for the current playback state
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindResolution:
		return "resolution"
	case KindTransport:
		return "transport"
	case KindState:
		return "state"
	default:
		return "unknown"
	}
}

// Marker errors. Use errors.Is against these to test the kind of an error.
var (
	ErrValidation = errors.New("validation error")
	ErrResolution = errors.New("resolution error")
	ErrTransport  = errors.New("transport error")
	ErrState      = errors.New("state error")
)

// Validation returns a ValidationError with the given user-facing message.
func Validation(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrValidation)
}

// Resolution wraps a search/extraction failure as a ResolutionError.
// A nil cause produces a plain ResolutionError with msg.
func Resolution(cause error, msg string) error {
	if cause == nil {
		return errors.Mark(errors.New(msg), ErrResolution)
	}
	return errors.Mark(errors.Wrap(cause, msg), ErrResolution)
}

// Transport wraps a failed transport operation as a TransportError.
func Transport(cause error, op string) error {
	if cause == nil {
		cause = errors.New("unknown failure")
	}
	return errors.Mark(errors.Wrapf(cause, "transport %s failed", op), ErrTransport)
}

// State returns a StateError with the given user-facing message.
func State(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrState)
}

// KindOf classifies err.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrResolution):
		return KindResolution
	case errors.Is(err, ErrTransport):
		return KindTransport
	case errors.Is(err, ErrState):
		return KindState
	default:
		return KindUnknown
	}
}
