// Package apperr defines the closed set of failures a core operation can
// report across the API boundary.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an Error. The set is closed; callers switch on it.
type Kind string

const (
	Internal          Kind = "internal"
	NotAuthenticated  Kind = "not_authenticated"
	Forbidden         Kind = "forbidden"
	NotFound          Kind = "not_found"
	InvalidTransition Kind = "invalid_transition"
	NotAvailable      Kind = "not_available"
	SelfRequest       Kind = "self_request"
	Validation        Kind = "validation"
	Inconsistent      Kind = "inconsistent"
	RateLimited       Kind = "rate_limited"
)

var defaultMessages = map[Kind]string{
	Internal:          "Something went wrong. Please try again.",
	NotAuthenticated:  "You must be signed in to do that.",
	Forbidden:         "You are not allowed to do that.",
	NotFound:          "Not found.",
	InvalidTransition: "This exchange can no longer be changed that way.",
	NotAvailable:      "This book is not available for exchange.",
	SelfRequest:       "You cannot request your own book.",
	Validation:        "Invalid input.",
	Inconsistent:      "The exchange was updated but the book could not be. Please contact support.",
	RateLimited:       "Too many requests. Slow down.",
}

// Error is the failure variant of every core operation.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same Kind, so errors.Is(err, apperr.New(apperr.NotFound, ""))
// works regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// New returns an Error with a caller-facing message. An empty message falls
// back to the kind's default.
func New(kind Kind, message string) *Error {
	if message == "" {
		message = defaultMessages[kind]
	}
	return &Error{Kind: kind, Message: message}
}

// Newf is New with formatting.
func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap attaches a cause that is logged but never shown to the caller.
func Wrap(kind Kind, message string, err error) *Error {
	e := New(kind, message)
	e.Err = err
	return e
}

// KindOf reports the Kind of err. Errors outside the taxonomy are Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the short human-readable text for err. Internal failures
// never leak their cause.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != Internal {
		return e.Message
	}
	return defaultMessages[Internal]
}

// HTTPStatus maps a kind to the status code used at the HTTP edge.
func (k Kind) HTTPStatus() int {
	switch k {
	case NotAuthenticated:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case InvalidTransition, NotAvailable:
		return http.StatusConflict
	case SelfRequest, Validation:
		return http.StatusBadRequest
	case RateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
