// Package odata talks to OData style sources authenticated by a JWT obtained
// from a login endpoint.
package odata

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	common "github.com/example/sourcebridge/internal/adapters/common"
)

// SourceName identifies this backend in canonical errors.
const SourceName = "odata"

// Config holds the connection and login settings of one OData service.
type Config struct {
	BaseURL  string
	LoginURL string
	Username string
	Password string
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for API and login calls.
func WithHTTPClient(client common.HTTPClient) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithLimiter throttles outgoing API calls.
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

// WithTokenOptions passes options to the client's token cache.
func WithTokenOptions(opts ...common.TokenCacheOption) Option {
	return func(c *Client) {
		c.tokenOpts = append(c.tokenOpts, opts...)
	}
}

// Client is the authenticated transport shared by every entity set of one
// OData service.
type Client struct {
	logger     zerolog.Logger
	cfg        Config
	baseURL    string
	httpClient common.HTTPClient
	limiter    *rate.Limiter
	bodyLimit  int64
	tokenOpts  []common.TokenCacheOption
	tokens     *common.TokenCache
}

// NewClient constructs a Client for cfg.
func NewClient(cfg Config, logger zerolog.Logger, opts ...Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("odata client: base URL is required")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("odata client: invalid base URL: %w", err)
	}
	if strings.TrimSpace(cfg.LoginURL) == "" {
		return nil, errors.New("odata client: login URL is required")
	}
	if strings.TrimSpace(cfg.Username) == "" || cfg.Password == "" {
		return nil, errors.New("odata client: username and password are required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	c := &Client{
		logger:     logger,
		cfg:        cfg,
		baseURL:    base,
		httpClient: &http.Client{},
		bodyLimit:  common.DefaultBodyLimit,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	tokens, err := common.NewTokenCache(c.login, c.tokenOpts...)
	if err != nil {
		return nil, fmt.Errorf("odata client: %w", err)
	}
	c.tokens = tokens
	return c, nil
}

type loginResponse struct {
	Token       string `json:"token"`
	AccessToken string `json:"access_token"`
}

// login exchanges the configured credentials for a JWT. The signature is not
// checked here; only the exp claim is read to schedule the refresh.
func (c *Client) login(ctx context.Context) (common.Token, error) {
	body, err := json.Marshal(map[string]string{"username": c.cfg.Username, "password": c.cfg.Password})
	if err != nil {
		return common.Token{}, &loginError{err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSpace(c.cfg.LoginURL), bytes.NewReader(body))
	if err != nil {
		return common.Token{}, &loginError{err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return common.Token{}, &loginError{err: err}
	}
	defer resp.Body.Close()
	raw, err := common.ReadBody(resp.Body, c.bodyLimit)
	if err != nil {
		return common.Token{}, &loginError{err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return common.Token{}, &loginError{status: resp.StatusCode, err: decodeServiceError(resp.StatusCode, raw)}
	}

	var lr loginResponse
	if err := json.Unmarshal(raw, &lr); err != nil {
		return common.Token{}, &loginError{err: fmt.Errorf("decode login response: %w", err)}
	}
	value := lr.Token
	if value == "" {
		value = lr.AccessToken
	}
	expires, err := tokenExpiry(value)
	if err != nil {
		return common.Token{}, &loginError{err: err}
	}
	c.logger.Debug().
		Time("expires_at", expires).
		Msg("odata: login succeeded")
	return common.Token{Value: value, ExpiresAt: expires}, nil
}

func tokenExpiry(value string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(value, claims); err != nil {
		return time.Time{}, fmt.Errorf("parse login token: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("login token exp claim: %w", err)
	}
	if exp == nil {
		return time.Time{}, nil
	}
	return exp.Time, nil
}

// do performs one authenticated call against an absolute URL below the
// service root.
func (c *Client) do(ctx context.Context, method, endpoint string, body []byte, header http.Header) ([]byte, int, error) {
	if err := common.Wait(ctx, c.limiter); err != nil {
		return nil, 0, err
	}
	token, err := c.tokens.Get(ctx)
	if err != nil {
		var le *loginError
		if !errors.As(err, &le) {
			err = &loginError{err: err}
		}
		return nil, 0, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: build request: %v", errInvalidKey, err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("odata: %s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()
	raw, err := common.ReadBody(resp.Body, c.bodyLimit)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("odata: read response: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		c.tokens.Invalidate(token)
		c.logger.Warn().
			Str("endpoint", endpoint).
			Msg("odata: token rejected, invalidated")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, decodeServiceError(resp.StatusCode, raw)
	}
	return raw, resp.StatusCode, nil
}

func (c *Client) entitySetURL(set string) string {
	return c.baseURL + "/" + url.PathEscape(set)
}

// ownsLink reports whether link points below this service root.
func (c *Client) ownsLink(link string) bool {
	return strings.HasPrefix(link, c.baseURL+"/")
}
