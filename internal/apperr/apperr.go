// Package apperr carries the application's error taxonomy. Services return
// *Error values with a Kind and a short machine-stable message; the API layer
// maps the Kind to an HTTP status without inspecting message text.
package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies a failure.
type Kind int

const (
	// Internal is an unexpected fault. The zero value on purpose: an
	// unclassified error is always surfaced as a generic 500.
	Internal Kind = iota
	// InvalidInput is a missing or malformed required field.
	InvalidInput
	// Unauthenticated means no valid identity was presented.
	Unauthenticated
	// Forbidden means a valid identity lacks permission for this resource.
	Forbidden
	// NotFound means the referenced entity does not exist, or is in a state
	// that makes it invisible to this operation.
	NotFound
	// InvalidState means the entity exists but cannot take this transition.
	InvalidState
	// Conflict is a domain-specific refusal such as a uniqueness violation.
	Conflict
	// Upstream means a storage or chain-client call failed.
	Upstream
)

// Error pairs a Kind with the stable message returned to callers. Wrapped
// causes stay server-side.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// E builds an Error without a cause.
func E(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error around a cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the Kind from err, defaulting to Internal.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return Internal
}

// MessageOf extracts the stable message from err. Unclassified errors get a
// generic message so internal detail never leaks to the caller.
func MessageOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Message
	}
	return "Internal server error"
}

// HTTPStatus maps a failure to the status code of the API contract.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case InvalidInput, InvalidState, Conflict:
		return http.StatusBadRequest
	case Unauthenticated:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case Upstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
