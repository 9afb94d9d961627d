package graphql

import (
	"errors"
	"net/http"
	"strings"

	common "github.com/example/sourcebridge/internal/adapters/common"
)

var (
	errInvalidKey = errors.New("invalid key")
	errMapping    = errors.New("mapping failed")
	errNoData     = errors.New("no data")
)

// ErrorItem is one entry of a response's errors array.
type ErrorItem struct {
	Message    string   `json:"message"`
	Path       []any    `json:"path,omitempty"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

// ResponseError carries the errors array of one response together with the
// HTTP status it arrived with.
type ResponseError struct {
	Status int
	Items  []ErrorItem
}

func (e *ResponseError) Error() string {
	msgs := make([]string, 0, len(e.Items))
	for _, it := range e.Items {
		if it.Message != "" {
			msgs = append(msgs, it.Message)
		}
	}
	if len(msgs) == 0 {
		return "graphql error"
	}
	return strings.Join(msgs, "; ")
}

// Code returns the extension code of the first error that carries one.
func (e *ResponseError) Code() string {
	for _, it := range e.Items {
		if it.Extensions.Code != "" {
			return it.Extensions.Code
		}
	}
	return ""
}

var codeClasses = map[string]int{
	"NOT_FOUND":                 http.StatusNotFound,
	"BAD_USER_INPUT":            http.StatusBadRequest,
	"GRAPHQL_VALIDATION_FAILED": http.StatusBadRequest,
	"GRAPHQL_PARSE_FAILED":      http.StatusBadRequest,
	"CONFLICT":                  http.StatusConflict,
	"UNAUTHENTICATED":           http.StatusUnauthorized,
	"FORBIDDEN":                 http.StatusForbidden,
	"INTERNAL_SERVER_ERROR":     http.StatusInternalServerError,
	"SERVICE_UNAVAILABLE":       http.StatusServiceUnavailable,
}

// Translator maps GraphQL errors onto status classes.
type Translator struct{}

// StatusClass implements common.Translator. Extension codes win over the HTTP
// status; an unknown code falls back to a non 2xx status, else to 0.
func (Translator) StatusClass(err error) int {
	var re *ResponseError
	if errors.As(err, &re) {
		if class, ok := codeClasses[strings.ToUpper(re.Code())]; ok {
			return class
		}
		if re.Status < 200 || re.Status >= 300 {
			return re.Status
		}
		return 0
	}
	var se *common.HTTPStatusError
	if errors.As(err, &se) {
		return se.StatusCode()
	}
	switch {
	case errors.Is(err, errNoData):
		return http.StatusNotFound
	case errors.Is(err, errInvalidKey):
		return http.StatusBadRequest
	case errors.Is(err, errMapping):
		return 0
	}
	return http.StatusServiceUnavailable
}

// Description implements common.Translator.
func (Translator) Description(err error) string {
	var re *ResponseError
	if errors.As(err, &re) {
		return re.Error()
	}
	return err.Error()
}
