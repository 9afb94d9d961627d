// Package graphql talks to GraphQL sources authenticated by an API key. Every
// response carries a top-level errors array that is inspected regardless of
// the HTTP status.
package graphql

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

// SourceName identifies this backend in canonical errors.
const SourceName = "graphql"

// APIKeyHeader carries the credential on every request.
const APIKeyHeader = "x-api-key"

// Config holds the endpoint and credential of one GraphQL source.
type Config struct {
	Endpoint string
	APIKey   string
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client common.HTTPClient) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithLimiter throttles outgoing calls.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) {
		c.limiter = l
	}
}

// WithBodyLimit adjusts how many bytes are read from a response body.
func WithBodyLimit(limit int64) Option {
	return func(c *Client) {
		if limit > 0 {
			c.bodyLimit = limit
		}
	}
}

// Client executes GraphQL operations against one endpoint.
type Client struct {
	logger     zerolog.Logger
	endpoint   string
	apiKey     string
	httpClient common.HTTPClient
	limiter    *rate.Limiter
	bodyLimit  int64
}

// NewClient constructs a Client for cfg.
func NewClient(cfg Config, logger zerolog.Logger, opts ...Option) (*Client, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("graphql client: endpoint is required")
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("graphql client: invalid endpoint: %w", err)
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("graphql client: api key is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	c := &Client{
		logger:     logger,
		endpoint:   endpoint,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		httpClient: &http.Client{},
		bodyLimit:  common.DefaultBodyLimit,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

type request struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type response struct {
	Data   map[string]json.RawMessage `json:"data"`
	Errors []ErrorItem                `json:"errors"`
}

// Execute runs one operation and returns the top-level data fields. A
// non-empty errors array fails the call even under HTTP 200.
func (c *Client) Execute(ctx context.Context, query string, vars map[string]any) (map[string]json.RawMessage, error) {
	if err := common.Wait(ctx, c.limiter); err != nil {
		return nil, err
	}
	body, err := json.Marshal(request{Query: query, Variables: vars})
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", errMapping, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("graphql: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(APIKeyHeader, c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("graphql: post: %w", err)
	}
	defer resp.Body.Close()
	raw, err := common.ReadBody(resp.Body, c.bodyLimit)
	if err != nil {
		return nil, fmt.Errorf("graphql: read response: %w", err)
	}

	var out response
	decodeErr := json.Unmarshal(raw, &out)
	if decodeErr == nil && len(out.Errors) > 0 {
		respErr := &ResponseError{Status: resp.StatusCode, Items: out.Errors}
		c.logger.Debug().
			Int("status", resp.StatusCode).
			Int("errors", len(out.Errors)).
			Str("code", respErr.Code()).
			Msg("graphql: response carried errors")
		return nil, respErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &common.HTTPStatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("%w: decode response: %v", errMapping, decodeErr)
	}
	return out.Data, nil
}
