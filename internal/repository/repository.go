// Package repository maps a closed set of identifier kinds to finder
// functions and dispatches lookups through them.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	common "github.com/example/sourcebridge/internal/adapters/common"
	"github.com/example/sourcebridge/internal/util"
)

// Finder looks an entity up by one identifier value. It returns a canonical
// NotFound error when nothing matches.
type Finder[E any] func(ctx context.Context, value string) (E, error)

// Identifier pairs a kind with the value a request carries for it.
type Identifier[K ~string] struct {
	Kind  K
	Value string
}

// Identifiable is implemented by canonical requests. Identifiers must be
// returned in the entity's declared priority order.
type Identifiable[K ~string] interface {
	Identifiers() []Identifier[K]
}

// Repository dispatches lookups by identifier kind. The kind to finder table is
// checked for totality once, at construction.
type Repository[K ~string, E any] struct {
	kinds   []K
	finders map[K]Finder[E]
}

// New builds a Repository over the declared kinds. Every kind must have exactly
// one non-nil finder and no finder may be bound to an undeclared kind.
func New[K ~string, E any](kinds []K, bindings map[K]Finder[E]) (*Repository[K, E], error) {
	if len(kinds) == 0 {
		return nil, common.Configuration(errors.New("repository: at least one identifier kind is required"))
	}

	declared := make(map[K]struct{}, len(kinds))
	finders := make(map[K]Finder[E], len(kinds))
	var problems []string

	for _, k := range kinds {
		if _, dup := declared[k]; dup {
			problems = append(problems, fmt.Sprintf("kind %q declared twice", k))
			continue
		}
		declared[k] = struct{}{}
		f, ok := bindings[k]
		switch {
		case !ok:
			problems = append(problems, fmt.Sprintf("kind %q has no finder", k))
		case f == nil:
			problems = append(problems, fmt.Sprintf("kind %q is bound to a nil finder", k))
		default:
			finders[k] = f
		}
	}
	for k := range bindings {
		if _, ok := declared[k]; !ok {
			problems = append(problems, fmt.Sprintf("finder bound to undeclared kind %q", k))
		}
	}
	if len(problems) > 0 {
		return nil, common.Configuration(fmt.Errorf("repository: %s", strings.Join(problems, "; ")))
	}

	return &Repository[K, E]{kinds: append([]K(nil), kinds...), finders: finders}, nil
}

// Kinds returns the declared kinds in priority order.
func (r *Repository[K, E]) Kinds() []K {
	return append([]K(nil), r.kinds...)
}

// Resolve returns the finder bound to kind so callers can compose or retry it
// independently of invocation.
func (r *Repository[K, E]) Resolve(kind K) (Finder[E], error) {
	f, ok := r.finders[kind]
	if !ok {
		return nil, common.Configuration(fmt.Errorf("repository: unknown identifier kind %q", kind))
	}
	return f, nil
}

// Find resolves kind and invokes the finder with value.
func (r *Repository[K, E]) Find(ctx context.Context, kind K, value string) (E, error) {
	f, err := r.Resolve(kind)
	if err != nil {
		var zero E
		return zero, err
	}
	return f(ctx, value)
}

// FindFor selects the first non-empty identifier of req and finds by it.
func (r *Repository[K, E]) FindFor(ctx context.Context, req Identifiable[K]) (E, Identifier[K], error) {
	id, err := Select(req.Identifiers())
	if err != nil {
		var zero E
		return zero, id, err
	}
	e, err := r.Find(ctx, id.Kind, id.Value)
	return e, id, err
}

// Select returns the first identifier with a non-empty value. ids must already
// be in declared priority order.
func Select[K ~string](ids []Identifier[K]) (Identifier[K], error) {
	for _, id := range ids {
		if strings.TrimSpace(id.Value) != "" {
			return id, nil
		}
	}
	return Identifier[K]{}, common.RequestInvalid(util.ErrNoIdentifier)
}
