package restapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	common "github.com/example/sourcebridge/internal/adapters/common"
)

// Mapping binds an entity type to the source's JSON representation.
type Mapping[E any] struct {
	// Decode converts one raw resource into an entity.
	Decode func(json.RawMessage) (E, error)
	// Encode returns the resource id (empty to create) and request body.
	Encode func(E) (string, []byte, error)
}

// JSONMapping uses the entity's own JSON encoding and id to locate it.
func JSONMapping[E any](id func(E) string) Mapping[E] {
	return Mapping[E]{
		Decode: func(raw json.RawMessage) (E, error) {
			var e E
			err := json.Unmarshal(raw, &e)
			return e, err
		},
		Encode: func(e E) (string, []byte, error) {
			body, err := json.Marshal(e)
			return id(e), body, err
		},
	}
}

// Query narrows a collection with equality filters passed as query parameters.
type Query struct {
	Filters map[string]string
}

// Resource implements common.Source over one collection path.
type Resource[E any] struct {
	client  *Client
	path    string
	mapping Mapping[E]
}

var _ common.Source[string, Query, struct{}] = (*Resource[struct{}])(nil)

// NewResource binds mapping to the collection at path, e.g. "/courses".
func NewResource[E any](client *Client, path string, mapping Mapping[E]) (*Resource[E], error) {
	if client == nil {
		return nil, errors.New("restapi resource: client dependency is required")
	}
	path = "/" + strings.Trim(strings.TrimSpace(path), "/")
	if path == "/" {
		return nil, errors.New("restapi resource: collection path is required")
	}
	if mapping.Decode == nil || mapping.Encode == nil {
		return nil, errors.New("restapi resource: encode and decode mappings are required")
	}
	return &Resource[E]{client: client, path: path, mapping: mapping}, nil
}

type listEnvelope struct {
	Items []json.RawMessage `json:"items"`
	Total *int              `json:"total"`
}

// FindOne fetches the resource with id.
func (r *Resource[E]) FindOne(ctx context.Context, id string) (E, error) {
	var zero E
	id = strings.TrimSpace(id)
	if id == "" {
		return zero, r.translate(fmt.Errorf("%w: id is required", errInvalidKey))
	}
	raw, _, err := r.client.do(ctx, http.MethodGet, r.path+"/"+url.PathEscape(id), nil, nil)
	if err != nil {
		return zero, r.translate(err)
	}
	return r.decode(raw)
}

// QueryAll fetches one page. The continuation token is the next offset.
func (r *Resource[E]) QueryAll(ctx context.Context, q Query, page common.Pagination) (common.Page[E], error) {
	offset := 0
	if page.Token != "" {
		n, err := strconv.Atoi(page.Token)
		if err != nil || n < 0 {
			return common.Page[E]{}, r.translate(fmt.Errorf("%w: %q", errInvalidToken, page.Token))
		}
		offset = n
	}
	limit := common.ClampLimit(page.Limit)

	params := url.Values{}
	keys := make([]string, 0, len(q.Filters))
	for k := range q.Filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		params.Set(k, q.Filters[k])
	}
	params.Set("offset", strconv.Itoa(offset))
	params.Set("limit", strconv.Itoa(limit))

	raw, _, err := r.client.do(ctx, http.MethodGet, r.path, params, nil)
	if err != nil {
		return common.Page[E]{}, r.translate(err)
	}
	var env listEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return common.Page[E]{}, r.translate(fmt.Errorf("%w: list envelope: %v", errMapping, err))
	}

	out := common.Page[E]{Items: make([]E, 0, len(env.Items))}
	for _, item := range env.Items {
		e, err := r.decode(item)
		if err != nil {
			return common.Page[E]{}, err
		}
		out.Items = append(out.Items, e)
	}
	next := offset + len(env.Items)
	if env.Total != nil {
		out.HasMore = next < *env.Total
	} else {
		out.HasMore = len(env.Items) == limit
	}
	if out.HasMore && len(env.Items) > 0 {
		out.Next = strconv.Itoa(next)
	} else {
		out.HasMore = false
	}
	return out, nil
}

// SaveOne creates the entity when its id is empty and replaces it otherwise.
func (r *Resource[E]) SaveOne(ctx context.Context, entity E) (E, error) {
	var zero E
	id, body, err := r.mapping.Encode(entity)
	if err != nil {
		return zero, r.translate(fmt.Errorf("%w: encode: %v", errMapping, err))
	}
	method, path := http.MethodPost, r.path
	if id = strings.TrimSpace(id); id != "" {
		method, path = http.MethodPut, r.path+"/"+url.PathEscape(id)
	}
	raw, status, err := r.client.do(ctx, method, path, nil, body)
	if err != nil {
		return zero, r.translate(err)
	}
	if status == http.StatusNoContent || len(strings.TrimSpace(string(raw))) == 0 {
		return entity, nil
	}
	return r.decode(raw)
}

func (r *Resource[E]) decode(raw json.RawMessage) (E, error) {
	e, err := r.mapping.Decode(raw)
	if err != nil {
		var zero E
		return zero, r.translate(fmt.Errorf("%w: decode %s: %v", errMapping, r.path, err))
	}
	return e, nil
}

func (r *Resource[E]) translate(err error) error {
	return common.Translate(SourceName, Translator{}, err)
}
