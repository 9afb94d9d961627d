// Package workflow starts executions on a workflow engine's REST API. A start
// is fire and forget: the caller never waits for the execution to finish.
package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	common "github.com/example/sourcebridge/internal/adapters/common"
)

// SourceName identifies the workflow engine in canonical errors.
const SourceName = "workflow"

// CodeExecutionAlreadyExists is returned with 409 when an execution with the
// same name was started before.
const CodeExecutionAlreadyExists = "ExecutionAlreadyExists"

// Execution describes one start request.
type Execution struct {
	Name     string
	Workflow string
	Input    json.RawMessage
}

// StartResult reports how a start request was settled.
type StartResult struct {
	ExecutionID    string
	AlreadyRunning bool
}

// Starter starts workflow executions idempotently by name.
type Starter interface {
	Start(ctx context.Context, exec Execution) (StartResult, error)
}

// Config locates the workflow engine.
type Config struct {
	Endpoint string
	APIToken string
}

// Option customises an HTTPStarter.
type Option func(*HTTPStarter)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client common.HTTPClient) Option {
	return func(s *HTTPStarter) {
		if client != nil {
			s.httpClient = client
		}
	}
}

// WithLimiter throttles start calls.
func WithLimiter(l *rate.Limiter) Option {
	return func(s *HTTPStarter) {
		s.limiter = l
	}
}

// WithStartHook is called with the outcome of every start attempt.
func WithStartHook(hook func(outcome string)) Option {
	return func(s *HTTPStarter) {
		s.hook = hook
	}
}

// Start outcomes passed to the start hook.
const (
	OutcomeStarted        = "started"
	OutcomeAlreadyRunning = "already_running"
	OutcomeFailed         = "failed"
)

// HTTPStarter implements Starter against POST {endpoint}/executions.
type HTTPStarter struct {
	logger     zerolog.Logger
	endpoint   string
	token      string
	httpClient common.HTTPClient
	limiter    *rate.Limiter
	hook       func(string)
}

// NewHTTPStarter constructs an HTTPStarter for cfg.
func NewHTTPStarter(cfg Config, logger zerolog.Logger, opts ...Option) (*HTTPStarter, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		return nil, errors.New("workflow starter: endpoint is required")
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("workflow starter: invalid endpoint: %w", err)
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	s := &HTTPStarter{
		logger:     logger.With().Str("component", "workflow_starter").Logger(),
		endpoint:   endpoint,
		token:      cfg.APIToken,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

type startRequest struct {
	Name     string          `json:"name"`
	Workflow string          `json:"workflow"`
	Input    json.RawMessage `json:"input"`
}

type startResponse struct {
	ExecutionID string `json:"executionId"`
	Code        string `json:"code"`
	Message     string `json:"message"`
}

// Start requests a new execution. An execution that already exists under the
// same name is reported as AlreadyRunning, not as a failure. Every other
// failure is a retryable SourceUnavailable error.
func (s *HTTPStarter) Start(ctx context.Context, exec Execution) (StartResult, error) {
	res, err := s.start(ctx, exec)
	switch {
	case err != nil:
		s.observe(OutcomeFailed)
	case res.AlreadyRunning:
		s.observe(OutcomeAlreadyRunning)
	default:
		s.observe(OutcomeStarted)
	}
	return res, err
}

func (s *HTTPStarter) start(ctx context.Context, exec Execution) (StartResult, error) {
	if exec.Name == "" || exec.Workflow == "" {
		return StartResult{}, common.RequestInvalid(errors.New("workflow starter: execution name and workflow are required"))
	}
	if err := common.Wait(ctx, s.limiter); err != nil {
		return StartResult{}, common.SourceUnavailable(SourceName, err)
	}

	body, err := json.Marshal(startRequest{Name: exec.Name, Workflow: exec.Workflow, Input: exec.Input})
	if err != nil {
		return StartResult{}, common.RequestInvalid(fmt.Errorf("workflow starter: encode input: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"/executions", bytes.NewReader(body))
	if err != nil {
		return StartResult{}, common.SourceUnavailable(SourceName, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return StartResult{}, common.SourceUnavailable(SourceName, err)
	}
	defer resp.Body.Close()

	raw, err := common.ReadBody(resp.Body, 0)
	if err != nil {
		return StartResult{}, common.SourceUnavailable(SourceName, err)
	}
	log := s.logger.With().
		Str("execution", exec.Name).
		Str("workflow", exec.Workflow).
		Int("status", resp.StatusCode).
		Logger()

	var decoded startResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			log.Debug().Err(err).Int("bytes", len(raw)).Msg("workflow starter: response body is not a start response")
		}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		id := decoded.ExecutionID
		if id == "" {
			id = exec.Name
		}
		log.Info().Str("execution_id", id).Msg("workflow starter: execution started")
		return StartResult{ExecutionID: id}, nil
	case resp.StatusCode == http.StatusConflict && decoded.Code == CodeExecutionAlreadyExists:
		log.Info().Msg("workflow starter: execution already exists")
		return StartResult{ExecutionID: exec.Name, AlreadyRunning: true}, nil
	}

	msg := decoded.Message
	if msg == "" {
		msg = strings.TrimSpace(string(raw))
	}
	log.Warn().Str("code", decoded.Code).Str("message", msg).Msg("workflow starter: start failed")
	return StartResult{}, common.SourceUnavailable(SourceName,
		&common.HTTPStatusError{Status: resp.StatusCode, Body: msg})
}

func (s *HTTPStarter) observe(outcome string) {
	if s.hook != nil {
		s.hook(outcome)
	}
}
