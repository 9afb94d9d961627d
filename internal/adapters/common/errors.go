package common

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind names a member of the canonical error taxonomy shared by every backend.
type Kind string

const (
	KindRequestInvalid    Kind = "RequestInvalid"
	KindNotFound          Kind = "NotFound"
	KindSourceUnavailable Kind = "SourceUnavailable"
	KindConfiguration     Kind = "ConfigurationError"
	KindServer            Kind = "ServerError"
	KindInvariant         Kind = "InvariantViolation"
)

// Sentinels matched by errors.Is against any *Error of the corresponding kind.
var (
	ErrRequestInvalid    = errors.New("request invalid")
	ErrNotFound          = errors.New("not found")
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrConfiguration     = errors.New("configuration error")
	ErrServer            = errors.New("server error")
	ErrInvariant         = errors.New("invariant violation")
)

var kindSentinels = map[Kind]error{
	KindRequestInvalid:    ErrRequestInvalid,
	KindNotFound:          ErrNotFound,
	KindSourceUnavailable: ErrSourceUnavailable,
	KindConfiguration:     ErrConfiguration,
	KindServer:            ErrServer,
	KindInvariant:         ErrInvariant,
}

// Error is the canonical error value. Nothing outside an adapter package ever
// sees a raw backend error shape.
type Error struct {
	Kind    Kind
	Code    int
	Message string
	// Source names the backend that produced the error, empty for errors raised
	// by the dispatch machinery itself.
	Source string
	// RawClass keeps the backend's own status class when it differs from Code.
	RawClass int
	cause    error
}

func (e *Error) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("%s: %s (%d): %s", e.Source, e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s (%d): %s", e.Kind, e.Code, e.Message)
}

// Is matches the kind sentinel so callers can use errors.Is(err, ErrNotFound).
func (e *Error) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && sentinel == target
}

func (e *Error) Unwrap() error { return e.cause }

// Retryable reports whether the platform's redelivery should try again.
func (e *Error) Retryable() bool {
	return e.Kind == KindSourceUnavailable || e.Kind == KindServer
}

// Fatal reports whether the error indicates a wiring or cross-service contract
// bug that must stop the process.
func (e *Error) Fatal() bool {
	return e.Kind == KindConfiguration || e.Kind == KindInvariant
}

// ErrorPayload is the caller-visible error body.
type ErrorPayload struct {
	StatusCode int    `json:"statusCode"`
	Error      string `json:"error"`
	Message    string `json:"message"`
}

// Payload renders the canonical (code, kind, message) triple.
func (e *Error) Payload() ErrorPayload {
	return ErrorPayload{StatusCode: e.Code, Error: string(e.Kind), Message: e.Message}
}

// RequestInvalid builds a RequestInvalid error from a validation failure.
func RequestInvalid(err error) *Error {
	return newError(KindRequestInvalid, http.StatusBadRequest, err)
}

// NotFound builds a NotFound error for the given source.
func NotFound(source, message string) *Error {
	return &Error{Kind: KindNotFound, Code: http.StatusNotFound, Message: message, Source: source}
}

// Configuration builds a fatal ConfigurationError.
func Configuration(err error) *Error {
	return newError(KindConfiguration, http.StatusInternalServerError, err)
}

// Invariant builds a fatal internal error for cross-service contract violations.
func Invariant(err error) *Error {
	return newError(KindInvariant, http.StatusInternalServerError, err)
}

// SourceUnavailable wraps a transport failure talking to source.
func SourceUnavailable(source string, err error) *Error {
	e := newError(KindSourceUnavailable, http.StatusServiceUnavailable, err)
	e.Source = source
	return e
}

// AsError extracts the canonical error from err. Errors that never passed
// through translation are reported as ServerError with their text preserved.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	return newError(KindServer, http.StatusInternalServerError, err)
}

func newError(kind Kind, code int, err error) *Error {
	msg := string(kind)
	if err != nil {
		msg = err.Error()
	}
	return &Error{Kind: kind, Code: code, Message: msg, cause: err}
}
