package models

import (
	"encoding/json"
	"time"
)

// Result outcomes published for every processed request.
const (
	OutcomeFound    = "found"
	OutcomeNoOp     = "noop"
	OutcomeNotFound = "not_found"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"

	OutcomeStarted        = "started"
	OutcomeAlreadyRunning = "already_running"
)

// ErrorBody mirrors the canonical caller-visible error payload.
type ErrorBody struct {
	StatusCode int    `json:"statusCode"`
	Error      string `json:"error"`
	Message    string `json:"message"`
}

// ResultEvent is published to the result topic after a request was handled.
type ResultEvent struct {
	Entity    string          `json:"entity"`
	Outcome   string          `json:"outcome"`
	LookupBy  string          `json:"lookupBy,omitempty"`
	Key       string          `json:"key,omitempty"`
	TraceID   string          `json:"traceId,omitempty"`
	Shape     string          `json:"shape,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     *ErrorBody      `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// DLQRecord captures requests that can never succeed as delivered.
type DLQRecord struct {
	Entity          string            `json:"entity"`
	Key             string            `json:"key,omitempty"`
	OriginalMessage json.RawMessage   `json:"originalMessage"`
	FailureType     string            `json:"failureType"`
	LastError       string            `json:"lastError,omitempty"`
	FailedAt        time.Time         `json:"failedAt"`
	Meta            map[string]string `json:"meta,omitempty"`
}

// Failure types for DLQ records.
const (
	FailureTypeValidation = "validation"
	FailureTypeOversize   = "oversize"
)
