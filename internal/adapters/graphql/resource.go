package graphql

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	common "github.com/example/sourcebridge/internal/adapters/common"
)

// Operations are the documents one entity type is served by. Find receives
// $key, List receives $first, $after and $filter, Save receives $input. Each
// *Field names the top-level data field holding the result.
type Operations struct {
	Find      string
	FindField string
	List      string
	ListField string
	Save      string
	SaveField string
}

// Mapping binds an entity type to its GraphQL representation.
type Mapping[E any] struct {
	Decode func(json.RawMessage) (E, error)
	Encode func(E) (map[string]any, error)
}

// JSONMapping converts entities through their own JSON encoding.
func JSONMapping[E any]() Mapping[E] {
	return Mapping[E]{
		Decode: func(raw json.RawMessage) (E, error) {
			var e E
			err := json.Unmarshal(raw, &e)
			return e, err
		},
		Encode: func(e E) (map[string]any, error) {
			raw, err := json.Marshal(e)
			if err != nil {
				return nil, err
			}
			var input map[string]any
			err = json.Unmarshal(raw, &input)
			return input, err
		},
	}
}

// Query filters a connection. Filter is passed as the $filter variable.
type Query struct {
	Filter map[string]any
}

// Resource implements common.Source over one GraphQL type.
type Resource[E any] struct {
	client  *Client
	ops     Operations
	mapping Mapping[E]
}

var _ common.Source[string, Query, struct{}] = (*Resource[struct{}])(nil)

// NewResource binds ops and mapping to client.
func NewResource[E any](client *Client, ops Operations, mapping Mapping[E]) (*Resource[E], error) {
	if client == nil {
		return nil, errors.New("graphql resource: client dependency is required")
	}
	if ops.Find == "" || ops.FindField == "" || ops.List == "" || ops.ListField == "" {
		return nil, errors.New("graphql resource: find and list operations are required")
	}
	if mapping.Decode == nil || mapping.Encode == nil {
		return nil, errors.New("graphql resource: encode and decode mappings are required")
	}
	return &Resource[E]{client: client, ops: ops, mapping: mapping}, nil
}

type connection struct {
	Nodes    []json.RawMessage `json:"nodes"`
	PageInfo struct {
		HasNextPage bool   `json:"hasNextPage"`
		EndCursor   string `json:"endCursor"`
	} `json:"pageInfo"`
}

// FindOne runs the find operation. A null result without errors is NotFound.
func (r *Resource[E]) FindOne(ctx context.Context, key string) (E, error) {
	var zero E
	if strings.TrimSpace(key) == "" {
		return zero, r.translate(fmt.Errorf("%w: key is required", errInvalidKey))
	}
	data, err := r.client.Execute(ctx, r.ops.Find, map[string]any{"key": key})
	if err != nil {
		return zero, r.translate(err)
	}
	raw, err := field(data, r.ops.FindField)
	if err != nil {
		return zero, r.translate(err)
	}
	return r.decode(raw)
}

// QueryAll runs the list operation for one relay style page.
func (r *Resource[E]) QueryAll(ctx context.Context, q Query, page common.Pagination) (common.Page[E], error) {
	vars := map[string]any{"first": common.ClampLimit(page.Limit)}
	if page.Token != "" {
		vars["after"] = page.Token
	}
	if len(q.Filter) > 0 {
		vars["filter"] = q.Filter
	}
	data, err := r.client.Execute(ctx, r.ops.List, vars)
	if err != nil {
		return common.Page[E]{}, r.translate(err)
	}
	raw, err := field(data, r.ops.ListField)
	if err != nil {
		return common.Page[E]{}, r.translate(err)
	}
	var conn connection
	if err := json.Unmarshal(raw, &conn); err != nil {
		return common.Page[E]{}, r.translate(fmt.Errorf("%w: connection: %v", errMapping, err))
	}

	out := common.Page[E]{Items: make([]E, 0, len(conn.Nodes))}
	for _, node := range conn.Nodes {
		e, err := r.decode(node)
		if err != nil {
			return common.Page[E]{}, err
		}
		out.Items = append(out.Items, e)
	}
	if conn.PageInfo.HasNextPage && conn.PageInfo.EndCursor != "" {
		out.HasMore, out.Next = true, conn.PageInfo.EndCursor
	}
	return out, nil
}

// SaveOne runs the save mutation and returns the stored entity.
func (r *Resource[E]) SaveOne(ctx context.Context, entity E) (E, error) {
	var zero E
	if r.ops.Save == "" || r.ops.SaveField == "" {
		return zero, r.translate(fmt.Errorf("%w: no save mutation configured", errMapping))
	}
	input, err := r.mapping.Encode(entity)
	if err != nil {
		return zero, r.translate(fmt.Errorf("%w: encode: %v", errMapping, err))
	}
	data, err := r.client.Execute(ctx, r.ops.Save, map[string]any{"input": input})
	if err != nil {
		return zero, r.translate(err)
	}
	raw, err := field(data, r.ops.SaveField)
	if err != nil {
		return zero, r.translate(err)
	}
	return r.decode(raw)
}

func field(data map[string]json.RawMessage, name string) (json.RawMessage, error) {
	raw, ok := data[name]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, fmt.Errorf("%w: %s is null", errNoData, name)
	}
	return raw, nil
}

func (r *Resource[E]) decode(raw json.RawMessage) (E, error) {
	e, err := r.mapping.Decode(raw)
	if err != nil {
		var zero E
		return zero, r.translate(fmt.Errorf("%w: decode: %v", errMapping, err))
	}
	return e, nil
}

func (r *Resource[E]) translate(err error) error {
	return common.Translate(SourceName, Translator{}, err)
}
