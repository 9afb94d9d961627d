package odata

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
)

var (
	errInvalidKey   = errors.New("invalid key")
	errInvalidToken = errors.New("invalid continuation token")
	errMapping      = errors.New("mapping failed")
)

// ServiceError is the OData error body: {"error": {"code": "...", "message": "..."}}.
type ServiceError struct {
	Status  int
	Code    string
	Message string
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return http.StatusText(e.Status)
}

type serviceErrorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeServiceError(status int, raw []byte) *ServiceError {
	out := &ServiceError{Status: status}
	var body serviceErrorBody
	if err := json.Unmarshal(raw, &body); err == nil && (body.Error.Code != "" || body.Error.Message != "") {
		out.Code, out.Message = body.Error.Code, body.Error.Message
		return out
	}
	out.Message = strings.TrimSpace(string(raw))
	return out
}

type loginError struct {
	status int
	err    error
}

func (e *loginError) Error() string { return "odata: login: " + e.err.Error() }

func (e *loginError) Unwrap() error { return e.err }

// Translator maps OData errors onto status classes.
type Translator struct{}

// StatusClass implements common.Translator.
func (Translator) StatusClass(err error) int {
	var le *loginError
	if errors.As(err, &le) {
		if le.status >= 500 {
			return le.status
		}
		if le.status != 0 {
			return http.StatusUnauthorized
		}
		var ue *url.Error
		if errors.As(err, &ue) {
			return http.StatusServiceUnavailable
		}
		return 0
	}
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Status
	}
	switch {
	case errors.Is(err, errInvalidKey), errors.Is(err, errInvalidToken):
		return http.StatusBadRequest
	case errors.Is(err, errMapping):
		return 0
	}
	return http.StatusServiceUnavailable
}

// Description implements common.Translator.
func (Translator) Description(err error) string {
	var le *loginError
	if errors.As(err, &le) {
		return le.Error()
	}
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Error()
	}
	return err.Error()
}
