// README: Typed application errors carrying the HTTP status they surface as.
package apperr

import (
	"errors"
	"net/http"
)

// Base kinds. Every *Error unwraps to one of these.
var (
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrConflict     = errors.New("conflict")
	ErrBadRequest   = errors.New("bad request")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInternal     = errors.New("internal error")
)

type Error struct {
	Kind    error
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Kind.Error()
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func New(kind error, status int, msg string) *Error {
	return &Error{Kind: kind, Status: status, Message: msg}
}

func NotFound(msg string) *Error {
	return New(ErrNotFound, http.StatusNotFound, msg)
}

func Forbidden(msg string) *Error {
	return New(ErrForbidden, http.StatusForbidden, msg)
}

func Conflict(msg string) *Error {
	return New(ErrConflict, http.StatusConflict, msg)
}

func BadRequest(msg string) *Error {
	return New(ErrBadRequest, http.StatusBadRequest, msg)
}

func Unauthorized(msg string) *Error {
	return New(ErrUnauthorized, http.StatusUnauthorized, msg)
}

func Internal(msg string) *Error {
	return New(ErrInternal, http.StatusInternalServerError, msg)
}

// StatusOf maps err to an HTTP status; anything untyped is a 500.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) && e.Status != 0 {
		return e.Status
	}
	return http.StatusInternalServerError
}

// MessageOf returns the client-facing message for err. Untyped errors are hidden.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Error()
	}
	return "internal error"
}
