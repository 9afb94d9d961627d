package odata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	common "github.com/example/sourcebridge/internal/adapters/common"
)

// Mapping binds an entity type to its OData representation.
type Mapping[E any] struct {
	Decode func(json.RawMessage) (E, error)
	// Encode returns the entity key (empty to create) and request body.
	Encode func(E) (string, []byte, error)
}

// JSONMapping uses the entity's own JSON encoding and key.
func JSONMapping[E any](key func(E) string) Mapping[E] {
	return Mapping[E]{
		Decode: func(raw json.RawMessage) (E, error) {
			var e E
			err := json.Unmarshal(raw, &e)
			return e, err
		},
		Encode: func(e E) (string, []byte, error) {
			body, err := json.Marshal(e)
			return key(e), body, err
		},
	}
}

// Query holds system query options for a collection read.
type Query struct {
	Filter  string
	OrderBy string
	Select  []string
}

// Eq renders an equality filter with the literal quoted.
func Eq(field, value string) string {
	return field + " eq " + quote(value)
}

func quote(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

// EntitySet implements common.Source over one OData entity set.
type EntitySet[E any] struct {
	client  *Client
	name    string
	mapping Mapping[E]
}

var _ common.Source[string, Query, struct{}] = (*EntitySet[struct{}])(nil)

// NewEntitySet binds mapping to the entity set name, e.g. "Groups".
func NewEntitySet[E any](client *Client, name string, mapping Mapping[E]) (*EntitySet[E], error) {
	if client == nil {
		return nil, errors.New("odata entity set: client dependency is required")
	}
	if name = strings.Trim(strings.TrimSpace(name), "/"); name == "" {
		return nil, errors.New("odata entity set: name is required")
	}
	if mapping.Decode == nil || mapping.Encode == nil {
		return nil, errors.New("odata entity set: encode and decode mappings are required")
	}
	return &EntitySet[E]{client: client, name: name, mapping: mapping}, nil
}

type collection struct {
	Value    []json.RawMessage `json:"value"`
	NextLink string            `json:"@odata.nextLink"`
}

// FindOne reads the entity with key.
func (s *EntitySet[E]) FindOne(ctx context.Context, key string) (E, error) {
	var zero E
	if strings.TrimSpace(key) == "" {
		return zero, s.translate(fmt.Errorf("%w: key is required", errInvalidKey))
	}
	raw, _, err := s.client.do(ctx, http.MethodGet, s.entityURL(key), nil, nil)
	if err != nil {
		return zero, s.translate(err)
	}
	return s.decode(raw)
}

// QueryAll reads one page. The continuation token is the service's
// @odata.nextLink, which already carries the original query options.
func (s *EntitySet[E]) QueryAll(ctx context.Context, q Query, page common.Pagination) (common.Page[E], error) {
	limit := common.ClampLimit(page.Limit)
	endpoint := page.Token
	if endpoint == "" {
		params := url.Values{}
		params.Set("$top", strconv.Itoa(limit))
		if q.Filter != "" {
			params.Set("$filter", q.Filter)
		}
		if q.OrderBy != "" {
			params.Set("$orderby", q.OrderBy)
		}
		if len(q.Select) > 0 {
			params.Set("$select", strings.Join(q.Select, ","))
		}
		endpoint = s.client.entitySetURL(s.name) + "?" + params.Encode()
	} else if !s.client.ownsLink(endpoint) {
		return common.Page[E]{}, s.translate(fmt.Errorf("%w: link outside service root", errInvalidToken))
	}

	header := http.Header{}
	header.Set("Prefer", "odata.maxpagesize="+strconv.Itoa(limit))
	raw, _, err := s.client.do(ctx, http.MethodGet, endpoint, nil, header)
	if err != nil {
		return common.Page[E]{}, s.translate(err)
	}
	var coll collection
	if err := json.Unmarshal(raw, &coll); err != nil {
		return common.Page[E]{}, s.translate(fmt.Errorf("%w: collection: %v", errMapping, err))
	}

	out := common.Page[E]{Items: make([]E, 0, len(coll.Value))}
	for _, item := range coll.Value {
		e, err := s.decode(item)
		if err != nil {
			return common.Page[E]{}, err
		}
		out.Items = append(out.Items, e)
	}
	if coll.NextLink != "" {
		next, err := s.resolveLink(endpoint, coll.NextLink)
		if err != nil {
			return common.Page[E]{}, s.translate(err)
		}
		out.HasMore, out.Next = true, next
	}
	return out, nil
}

// SaveOne creates the entity when its key is empty and patches it otherwise.
func (s *EntitySet[E]) SaveOne(ctx context.Context, entity E) (E, error) {
	var zero E
	key, body, err := s.mapping.Encode(entity)
	if err != nil {
		return zero, s.translate(fmt.Errorf("%w: encode: %v", errMapping, err))
	}
	method, endpoint := http.MethodPost, s.client.entitySetURL(s.name)
	if strings.TrimSpace(key) != "" {
		method, endpoint = http.MethodPatch, s.entityURL(key)
	}
	header := http.Header{}
	header.Set("Prefer", "return=representation")
	raw, status, err := s.client.do(ctx, method, endpoint, body, header)
	if err != nil {
		return zero, s.translate(err)
	}
	if status == http.StatusNoContent || len(strings.TrimSpace(string(raw))) == 0 {
		return entity, nil
	}
	return s.decode(raw)
}

func (s *EntitySet[E]) entityURL(key string) string {
	return s.client.entitySetURL(s.name) + "(" + url.PathEscape(quote(key)) + ")"
}

// resolveLink makes a relative nextLink absolute against the request URL.
func (s *EntitySet[E]) resolveLink(requested, link string) (string, error) {
	base, err := url.Parse(requested)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errInvalidToken, err)
	}
	ref, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("%w: next link: %v", errMapping, err)
	}
	return base.ResolveReference(ref).String(), nil
}

func (s *EntitySet[E]) decode(raw json.RawMessage) (E, error) {
	e, err := s.mapping.Decode(raw)
	if err != nil {
		var zero E
		return zero, s.translate(fmt.Errorf("%w: decode %s: %v", errMapping, s.name, err))
	}
	return e, nil
}

func (s *EntitySet[E]) translate(err error) error {
	return common.Translate(SourceName, Translator{}, err)
}
