package common

import (
	"context"
	"errors"
	"net/http"
)

// Translator is implemented once per backend. It is the only place that knows
// the backend's raw error shape.
type Translator interface {
	StatusClass(err error) int
	Description(err error) string
}

// Translate maps a raw backend error onto the canonical taxonomy. Errors that
// are already canonical pass through unchanged.
func Translate(source string, tr Translator, err error) *Error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return SourceUnavailable(source, err)
	}

	class := tr.StatusClass(err)
	desc := tr.Description(err)
	if desc == "" {
		desc = err.Error()
	}

	out := &Error{Source: source, Message: desc, RawClass: class, cause: err}
	switch {
	case class == http.StatusNotFound:
		out.Kind, out.Code = KindNotFound, http.StatusNotFound
	case isRequestInvalidClass(class):
		out.Kind, out.Code = KindRequestInvalid, class
	case class >= 500 && class <= 599:
		out.Kind, out.Code = KindSourceUnavailable, class
	default:
		out.Kind, out.Code = KindServer, http.StatusInternalServerError
	}
	return out
}

func isRequestInvalidClass(class int) bool {
	switch class {
	case http.StatusBadRequest, http.StatusConflict, http.StatusPreconditionFailed, http.StatusUnprocessableEntity:
		return true
	}
	return false
}

// HTTPStatusError is a minimal raw error for HTTP based sources that do not
// return a structured error body.
type HTTPStatusError struct {
	Status int
	Body   string
}

func (e *HTTPStatusError) Error() string {
	if e.Body != "" {
		return http.StatusText(e.Status) + ": " + e.Body
	}
	return http.StatusText(e.Status)
}

// StatusCode exposes the HTTP status.
func (e *HTTPStatusError) StatusCode() int { return e.Status }
