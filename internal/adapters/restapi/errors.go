package restapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

var (
	errInvalidKey   = errors.New("invalid key")
	errInvalidToken = errors.New("invalid continuation token")
	errMapping      = errors.New("mapping failed")
)

// APIError is the error body REST sources return with non-2xx statuses:
// {"error": "...", "error_description": "..."}.
type APIError struct {
	Status      int    `json:"-"`
	Code        string `json:"error"`
	Description string `json:"error_description"`
	Body        string `json:"-"`
}

func (e *APIError) Error() string {
	switch {
	case e.Description != "":
		return e.Description
	case e.Code != "":
		return e.Code
	case e.Body != "":
		return e.Body
	}
	return http.StatusText(e.Status)
}

func decodeAPIError(status int, raw []byte) *APIError {
	out := &APIError{Status: status}
	if err := json.Unmarshal(raw, out); err != nil || (out.Code == "" && out.Description == "") {
		out.Code, out.Description = "", ""
		out.Body = strings.TrimSpace(string(raw))
	}
	out.Status = status
	return out
}

// tokenError marks failures obtaining a credential.
type tokenError struct {
	err error
}

func (e *tokenError) Error() string { return "restapi: obtain token: " + e.err.Error() }

func (e *tokenError) Unwrap() error { return e.err }

// Translator maps REST source errors onto status classes.
type Translator struct{}

// StatusClass implements common.Translator.
func (Translator) StatusClass(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	switch {
	case errors.Is(err, errInvalidKey), errors.Is(err, errInvalidToken):
		return http.StatusBadRequest
	case errors.Is(err, errMapping):
		return 0
	}
	var te *tokenError
	if errors.As(err, &te) {
		// Rejected client credentials are a wiring problem, not a bad request.
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil && re.Response.StatusCode >= 500 {
			return re.Response.StatusCode
		}
		if errors.As(err, &re) {
			return http.StatusUnauthorized
		}
		return http.StatusServiceUnavailable
	}
	return http.StatusServiceUnavailable
}

// Description implements common.Translator.
func (Translator) Description(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Error()
	}
	return err.Error()
}
