// Package routeerr defines the error kinds of spec §7 and their mapping to
// HTTP status codes, so dispatcher handlers can return a plain error and
// let one place decide the wire response.
package routeerr

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// Kind is one of the error categories from spec §7, plus MethodNotAllowed
// (spec §4.5).
type Kind int

const (
	// Internal is the catch-all for unexpected failures not otherwise
	// classified; it maps to 500 and is not named in spec §7 itself.
	Internal Kind = iota
	BadRequest
	NotFound
	NoCapacity
	Upstream
	Transient
	Fatal
	// MethodNotAllowed is a known path hit with an unsupported method
	// (spec §4.5: "Unknown methods produce a 415 Method Not Allowed
	// reply, not a crash").
	MethodNotAllowed
)

func (k Kind) String() string {
	switch k {
	case BadRequest:
		return "BadRequest"
	case NotFound:
		return "NotFound"
	case NoCapacity:
		return "NoCapacity"
	case Upstream:
		return "Upstream"
	case Transient:
		return "Transient"
	case Fatal:
		return "Fatal"
	case MethodNotAllowed:
		return "MethodNotAllowed"
	default:
		return "Internal"
	}
}

// Status returns the HTTP status code spec §7 assigns to each kind.
func (k Kind) Status() int {
	switch k {
	case BadRequest:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case NoCapacity:
		return http.StatusServiceUnavailable
	case Upstream:
		return http.StatusBadGateway
	case Transient:
		return http.StatusGatewayTimeout
	case Fatal:
		return http.StatusInternalServerError
	case MethodNotAllowed:
		return http.StatusUnsupportedMediaType // spec §4.5 names 415 explicitly
	default:
		return http.StatusInternalServerError
	}
}

// kindError wraps a cause with a Kind, preserving the original error for
// errors.Cause/errors.Unwrap.
type kindError struct {
	kind  Kind
	cause error
}

func (e *kindError) Error() string { return fmt.Sprintf("%s: %s", e.kind, e.cause) }
func (e *kindError) Unwrap() error { return e.cause }
func (e *kindError) Cause() error  { return e.cause }

// New constructs a new error of the given kind from msg.
func New(kind Kind, msg string) error {
	return &kindError{kind: kind, cause: errors.New(msg)}
}

// Wrap wraps an existing error with a kind and context message.
func Wrap(kind Kind, cause error, msg string) error {
	if cause == nil {
		return nil
	}
	return &kindError{kind: kind, cause: errors.Wrap(cause, msg)}
}

// KindOf extracts the Kind of err, defaulting to Internal when err doesn't
// carry one.
func KindOf(err error) Kind {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return Internal
}

// StatusOf is shorthand for KindOf(err).Status().
func StatusOf(err error) int {
	return KindOf(err).Status()
}
