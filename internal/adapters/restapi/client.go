// Package restapi talks to offset-paginated JSON REST sources that issue
// bearer credentials through the OAuth2 client credentials grant.
package restapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	common "github.com/example/sourcebridge/internal/adapters/common"
)

// SourceName identifies this backend in canonical errors.
const SourceName = "restapi"

// Config holds the connection and credential settings of one REST source.
type Config struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for API and token calls.
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

// WithTokenFetcher replaces the client credentials grant.
func WithTokenFetcher(fetch common.TokenFetcher) Option {
	return func(c *Client) {
		if fetch != nil {
			c.fetch = fetch
		}
	}
}

// Client is the authenticated transport shared by every resource of one REST
// source. The cached token is its only state.
type Client struct {
	logger     zerolog.Logger
	baseURL    string
	httpClient common.HTTPClient
	limiter    *rate.Limiter
	bodyLimit  int64
	tokenOpts  []common.TokenCacheOption
	fetch      common.TokenFetcher
	tokens     *common.TokenCache
}

// NewClient constructs a Client for cfg.
func NewClient(cfg Config, logger zerolog.Logger, opts ...Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("restapi client: base URL is required")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("restapi client: invalid base URL: %w", err)
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	c := &Client{
		logger:     logger,
		baseURL:    base,
		httpClient: &http.Client{},
		bodyLimit:  common.DefaultBodyLimit,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	if c.fetch == nil {
		if strings.TrimSpace(cfg.TokenURL) == "" {
			return nil, errors.New("restapi client: token URL is required")
		}
		if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.ClientSecret) == "" {
			return nil, errors.New("restapi client: client id and secret are required")
		}
		c.fetch = clientCredentials(cfg, c.httpClient)
	}
	tokens, err := common.NewTokenCache(c.fetch, c.tokenOpts...)
	if err != nil {
		return nil, fmt.Errorf("restapi client: %w", err)
	}
	c.tokens = tokens
	return c, nil
}

func clientCredentials(cfg Config, hc common.HTTPClient) common.TokenFetcher {
	cc := &clientcredentials.Config{
		ClientID:     strings.TrimSpace(cfg.ClientID),
		ClientSecret: strings.TrimSpace(cfg.ClientSecret),
		TokenURL:     strings.TrimSpace(cfg.TokenURL),
		Scopes:       cfg.Scopes,
	}
	return func(ctx context.Context) (common.Token, error) {
		if client, ok := hc.(*http.Client); ok {
			ctx = context.WithValue(ctx, oauth2.HTTPClient, client)
		}
		tok, err := cc.Token(ctx)
		if err != nil {
			return common.Token{}, &tokenError{err: err}
		}
		return common.Token{Value: tok.AccessToken, ExpiresAt: tok.Expiry}, nil
	}
}

// do performs one authenticated call and returns the response body of a 2xx
// response. Any other status is returned as an *APIError.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte) ([]byte, int, error) {
	if err := common.Wait(ctx, c.limiter); err != nil {
		return nil, 0, err
	}
	token, err := c.tokens.Get(ctx)
	if err != nil {
		var te *tokenError
		if !errors.As(err, &te) {
			err = &tokenError{err: err}
		}
		return nil, 0, err
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: build request: %v", errInvalidKey, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("restapi: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := common.ReadBody(resp.Body, c.bodyLimit)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("restapi: read response: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		c.tokens.Invalidate(token)
		c.logger.Warn().
			Str("path", path).
			Msg("restapi: credential rejected, token invalidated")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, decodeAPIError(resp.StatusCode, raw)
	}
	return raw, resp.StatusCode, nil
}
