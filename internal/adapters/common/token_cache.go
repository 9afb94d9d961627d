package common

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultRefreshSkew is how long before expiry a token is considered stale.
const DefaultRefreshSkew = time.Minute

// Token is an opaque bearer credential.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// TokenFetcher obtains a fresh credential from the issuing endpoint.
type TokenFetcher func(ctx context.Context) (Token, error)

// TokenCacheOption customises a TokenCache.
type TokenCacheOption func(*TokenCache)

// WithRefreshSkew overrides DefaultRefreshSkew.
func WithRefreshSkew(d time.Duration) TokenCacheOption {
	return func(c *TokenCache) {
		if d >= 0 {
			c.skew = d
		}
	}
}

// WithTokenClock overrides the clock used for staleness checks.
func WithTokenClock(now func() time.Time) TokenCacheOption {
	return func(c *TokenCache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithRefreshHook registers a callback invoked after every successful fetch.
func WithRefreshHook(hook func()) TokenCacheOption {
	return func(c *TokenCache) {
		c.onRefresh = hook
	}
}

// TokenCache holds the single shared credential of one adapter instance.
// Concurrent callers that find the token stale share one fetch.
type TokenCache struct {
	fetch     TokenFetcher
	skew      time.Duration
	now       func() time.Time
	onRefresh func()
	current   atomic.Pointer[Token]
	refresh   singleflight.Group
}

// NewTokenCache constructs a cache around fetch.
func NewTokenCache(fetch TokenFetcher, opts ...TokenCacheOption) (*TokenCache, error) {
	if fetch == nil {
		return nil, errors.New("token cache: fetcher is required")
	}
	c := &TokenCache{fetch: fetch, skew: DefaultRefreshSkew, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Get returns the cached token, refreshing it first when it is stale. A shared
// refresh is not tied to any single caller; each caller only stops waiting
// when its own ctx is done.
func (c *TokenCache) Get(ctx context.Context) (string, error) {
	if tok := c.current.Load(); tok != nil && !c.stale(tok) {
		return tok.Value, nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.refresh.DoChan("token", func() (any, error) {
		if tok := c.current.Load(); tok != nil && !c.stale(tok) {
			return tok.Value, nil
		}
		tok, err := c.fetch(fetchCtx)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(tok.Value) == "" {
			return "", errors.New("token cache: fetcher returned an empty token")
		}
		c.current.Store(&tok)
		if c.onRefresh != nil {
			c.onRefresh()
		}
		return tok.Value, nil
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Invalidate drops the cached token when the backend rejected it, but only if
// no other caller has replaced it in the meantime.
func (c *TokenCache) Invalidate(value string) {
	cur := c.current.Load()
	if cur != nil && cur.Value == value {
		c.current.CompareAndSwap(cur, nil)
	}
}

func (c *TokenCache) stale(tok *Token) bool {
	if tok.ExpiresAt.IsZero() {
		return false
	}
	return !c.now().Add(c.skew).Before(tok.ExpiresAt)
}
