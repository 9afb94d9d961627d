package common

import (
	"context"
	"io"
	"net/http"
)

// DefaultPageSize applies when callers pass a non-positive page limit.
const DefaultPageSize = 25

// MaxPageSize caps caller supplied limits.
const MaxPageSize = 500

// Pagination requests one page. Token is the opaque continuation returned by
// the previous page, empty for the first page.
type Pagination struct {
	Limit int
	Token string
}

// Page is a single page of results. Callers drive iteration; adapters never
// aggregate pages themselves.
type Page[E any] struct {
	Items   []E
	HasMore bool
	Next    string
}

// Source is the uniform contract every backend adapter satisfies.
type Source[K any, C any, E any] interface {
	FindOne(ctx context.Context, key K) (E, error)
	QueryAll(ctx context.Context, criteria C, page Pagination) (Page[E], error)
	SaveOne(ctx context.Context, entity E) (E, error)
}

// ClampLimit applies defaults and limits for page sizes.
func ClampLimit(limit int) int {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	return limit
}

// HTTPClient abstracts the http.Client Do method for easier testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// DefaultBodyLimit bounds how much of a response body API adapters read.
const DefaultBodyLimit = 4 << 20

// ReadBody reads at most limit bytes from rc.
func ReadBody(rc io.Reader, limit int64) ([]byte, error) {
	if rc == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = DefaultBodyLimit
	}
	return io.ReadAll(io.LimitReader(rc, limit))
}

// FirstMatch returns the first entity matching criteria, or NotFound when the
// first page is empty.
func FirstMatch[K, C, E any](ctx context.Context, src Source[K, C, E], source string, criteria C) (E, error) {
	page, err := src.QueryAll(ctx, criteria, Pagination{Limit: 1})
	if err != nil {
		var zero E
		return zero, err
	}
	if len(page.Items) == 0 {
		var zero E
		return zero, NotFound(source, "no entity matched the query")
	}
	return page.Items[0], nil
}
