// Package apperr defines the engine's error taxonomy. Every failure the
// allocation store or coordinator reports carries one of these codes so
// callers can tell a correctable input apart from a stale reference or a
// transient outage.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	// CodeInvalidQuantity means the caller's quantity violates a local or
	// server-side bound (non-positive, or above the slot's availability).
	CodeInvalidQuantity Code = "invalid_quantity"

	// CodeCapacityExceeded means the write would push the allocated total
	// for the order line above the ordered quantity.
	CodeCapacityExceeded Code = "capacity_exceeded"

	// CodeNotFound means a stale reference: the record, slot, product or
	// order line no longer exists.
	CodeNotFound Code = "not_found"

	// CodeUnavailable covers network and server failures; retryable.
	CodeUnavailable Code = "unavailable"
)

type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, err error, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf extracts the code from err, or CodeUnavailable when err carries
// no code (plain network or database errors).
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnavailable
}

func IsNotFound(err error) bool         { return CodeOf(err) == CodeNotFound }
func IsInvalidQuantity(err error) bool  { return CodeOf(err) == CodeInvalidQuantity }
func IsCapacityExceeded(err error) bool { return CodeOf(err) == CodeCapacityExceeded }

// HTTPStatus maps a code to the status the API responds with.
func HTTPStatus(code Code) int {
	switch code {
	case CodeInvalidQuantity:
		return http.StatusBadRequest
	case CodeCapacityExceeded:
		return http.StatusConflict
	case CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// FromHTTPStatus maps a response status back to a code on the client side.
func FromHTTPStatus(status int) Code {
	switch status {
	case http.StatusBadRequest:
		return CodeInvalidQuantity
	case http.StatusConflict:
		return CodeCapacityExceeded
	case http.StatusNotFound:
		return CodeNotFound
	default:
		return CodeUnavailable
	}
}
