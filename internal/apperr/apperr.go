// Package apperr defines the error kinds shared across annotrack and the
// HTTP status each one maps to.
package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies a failure.
type Kind string

const (
	KindAuth        Kind = "auth_error"
	KindFetch       Kind = "fetch_error"
	KindSync        Kind = "sync_error"
	KindParse       Kind = "parse_error"
	KindPersistence Kind = "persistence_error"
	KindNotFound    Kind = "not_found"
	KindConflict    Kind = "conflict"
	KindInvalid     Kind = "invalid_request"
	KindUnavailable Kind = "unavailable"
)

// Error is a classified failure carrying the status code reported to HTTP callers.
type Error struct {
	Kind   Kind
	Status int
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, status int, msg string, err error) *Error {
	return &Error{Kind: kind, Status: status, Msg: msg, Err: err}
}

// Auth reports a rejected webhook delivery. status is 400 or 403.
func Auth(status int, msg string) *Error { return newError(KindAuth, status, msg, nil) }

func Fetch(msg string, err error) *Error {
	return newError(KindFetch, http.StatusBadGateway, msg, err)
}

func Sync(msg string, err error) *Error {
	return newError(KindSync, http.StatusInternalServerError, msg, err)
}

func Parse(msg string, err error) *Error {
	return newError(KindParse, http.StatusUnprocessableEntity, msg, err)
}

func Persistence(msg string, err error) *Error {
	return newError(KindPersistence, http.StatusInternalServerError, msg, err)
}

func NotFound(msg string) *Error { return newError(KindNotFound, http.StatusNotFound, msg, nil) }

func Conflict(msg string) *Error { return newError(KindConflict, http.StatusConflict, msg, nil) }

func Invalid(msg string, err error) *Error {
	return newError(KindInvalid, http.StatusBadRequest, msg, err)
}

func Unavailable(msg string) *Error {
	return newError(KindUnavailable, http.StatusServiceUnavailable, msg, nil)
}

// KindOf returns the kind of the outermost *Error in err's chain, or "" when
// err is unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// StatusOf maps err to an HTTP status. Unclassified errors are 500.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) && e.Status != 0 {
		return e.Status
	}
	return http.StatusInternalServerError
}
