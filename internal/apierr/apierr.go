// Package apierr defines the handful of error kinds the wallet service
// surfaces to HTTP callers, and the JSON envelope they render as.
package apierr

import (
	"encoding/json"
	"net/http"
)

// Kind is one of the error kinds described in the service's error handling
// design: BadRequest, Unauthorized, NotFound, Internal.
type Kind int

const (
	KindBadRequest Kind = iota
	KindUnauthorized
	KindNotFound
	KindInternal
)

// Error is the typed error handlers return instead of a bare error, so the
// HTTP layer can pick the right status code without re-classifying strings.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

func BadRequest(msg string) *Error    { return &Error{Kind: KindBadRequest, Message: msg} }
func Unauthorized(msg string) *Error  { return &Error{Kind: KindUnauthorized, Message: msg} }
func NotFound(msg string) *Error      { return &Error{Kind: KindNotFound, Message: msg} }
func Internal(msg string, cause error) *Error {
	return &Error{Kind: KindInternal, Message: msg, cause: cause}
}

// Wrap classifies a generic error as Internal unless it is already an
// *Error, in which case it is passed through unchanged.
func Wrap(err error) *Error {
	if err == nil {
		return nil
	}
	if apiErr, ok := err.(*Error); ok {
		return apiErr
	}
	return Internal("internal error", err)
}

// Status returns the HTTP status code for the error kind.
func (e *Error) Status() int {
	switch e.Kind {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

type envelope struct {
	Error string `json:"error"`
}

// Write renders the error as the service's standard {"error": "..."} body.
// Internal-kind messages are never the raw cause — callers must pass a
// short, non-revealing Message when constructing the *Error.
func Write(w http.ResponseWriter, err *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Status())
	_ = json.NewEncoder(w).Encode(envelope{Error: err.Message})
}
