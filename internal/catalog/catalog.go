// Package catalog binds every entity's identifier kinds to the backend that
// serves them. The bindings are fixed configuration; a binding whose backend
// is not configured fails at startup.
package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	common "github.com/example/sourcebridge/internal/adapters/common"
	"github.com/example/sourcebridge/internal/adapters/graphql"
	"github.com/example/sourcebridge/internal/adapters/keystore"
	"github.com/example/sourcebridge/internal/adapters/odata"
	"github.com/example/sourcebridge/internal/adapters/restapi"
	"github.com/example/sourcebridge/internal/models"
	"github.com/example/sourcebridge/internal/repository"
)

// Backends are the configured source clients. Any of them may be nil.
type Backends struct {
	Keystore *keystore.Store
	REST     *restapi.Client
	OData    *odata.Client
	GraphQL  *graphql.Client
	Logger   zerolog.Logger
}

// Entity is one entity's repository together with its keystore partition.
type Entity[K ~string, E any] struct {
	name       string
	Repository *repository.Repository[K, E]
	store      *keystore.Adapter[E]
	keys       keySpec[E]
}

// Name returns the entity name.
func (e *Entity[K, E]) Name() string { return e.name }

// Mirror writes an entity into the keystore, assigning an internal id when
// the entity came from an external source.
func (e *Entity[K, E]) Mirror(ctx context.Context, entity E) (E, error) {
	entity, err := assignID(ctx, e.store, e.keys, entity)
	if err != nil {
		return entity, err
	}
	return e.store.SaveOne(ctx, entity)
}

// List returns one page of the entity's keystore partition.
func (e *Entity[K, E]) List(ctx context.Context, page common.Pagination) (common.Page[E], error) {
	return e.store.QueryAll(ctx, keystore.Query{Partition: e.keys.partition}, page)
}

// FindAny finds by a kind given as text. Undeclared kinds are a
// ConfigurationError.
func (e *Entity[K, E]) FindAny(ctx context.Context, kind, value string) (any, error) {
	return e.Repository.Find(ctx, K(kind), value)
}

// ListAny is List with the items erased to any.
func (e *Entity[K, E]) ListAny(ctx context.Context, page common.Pagination) (common.Page[any], error) {
	typed, err := e.List(ctx, page)
	if err != nil {
		return common.Page[any]{}, err
	}
	out := common.Page[any]{Items: make([]any, len(typed.Items)), HasMore: typed.HasMore, Next: typed.Next}
	for i, item := range typed.Items {
		out.Items[i] = item
	}
	return out, nil
}

// KindNames lists the declared kinds in priority order.
func (e *Entity[K, E]) KindNames() []string {
	kinds := e.Repository.Kinds()
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

// Lookup is the entity independent view used by operator tooling.
type Lookup interface {
	Name() string
	KindNames() []string
	FindAny(ctx context.Context, kind, value string) (any, error)
	ListAny(ctx context.Context, page common.Pagination) (common.Page[any], error)
}

// Open builds the Lookup for an entity name.
func Open(name string, b Backends) (Lookup, error) {
	var (
		l   Lookup
		err error
	)
	switch strings.ToLower(strings.TrimSpace(name)) {
	case models.EntityCourse:
		l, err = erase(Courses(b))
	case models.EntityGroup:
		l, err = erase(Groups(b))
	case models.EntityMember:
		l, err = erase(Members(b))
	case models.EntityCompetition:
		l, err = erase(Competitions(b))
	case models.EntityTrack:
		l, err = erase(Tracks(b))
	default:
		err = common.Configuration(fmt.Errorf("catalog: unknown entity %q", name))
	}
	return l, err
}

func erase[K ~string, E any](e *Entity[K, E], err error) (Lookup, error) {
	if err != nil {
		return nil, err
	}
	return e, nil
}

func missing(entity, kind, backend string) error {
	return common.Configuration(fmt.Errorf("catalog: %s %s lookups require the %s backend", entity, kind, backend))
}

func newEntity[K ~string, E any](name string, b Backends, keys keySpec[E], kinds []K, remote map[K]repository.Finder[E]) (*Entity[K, E], error) {
	if b.Keystore == nil {
		return nil, missing(name, "internalId", keystore.SourceName)
	}
	store, err := keystore.NewAdapter(b.Keystore, keystore.JSONMapping(keys.item), b.Logger)
	if err != nil {
		return nil, common.Configuration(err)
	}
	bindings := map[K]repository.Finder[E]{
		kinds[0]: func(ctx context.Context, value string) (E, error) {
			return store.FindOne(ctx, keys.primary(value))
		},
	}
	for k, f := range remote {
		bindings[k] = f
	}
	repo, err := repository.New(kinds, bindings)
	if err != nil {
		return nil, err
	}
	return &Entity[K, E]{name: name, Repository: repo, store: store, keys: keys}, nil
}

// Courses: internalId (keystore), externalSourceId (restapi).
func Courses(b Backends) (*Entity[models.CourseKind, models.Course], error) {
	if b.REST == nil {
		return nil, missing(models.EntityCourse, string(models.CourseExternalSourceID), restapi.SourceName)
	}
	courses, err := restapi.NewResource(b.REST, "/courses", restCourseMapping)
	if err != nil {
		return nil, common.Configuration(err)
	}
	return newEntity(models.EntityCourse, b, courseKeys, models.CourseKinds, map[models.CourseKind]repository.Finder[models.Course]{
		models.CourseExternalSourceID: courses.FindOne,
	})
}

// Groups: internalId (keystore), externalSourceId (odata).
func Groups(b Backends) (*Entity[models.GroupKind, models.Group], error) {
	if b.OData == nil {
		return nil, missing(models.EntityGroup, string(models.GroupExternalSourceID), odata.SourceName)
	}
	groups, err := odata.NewEntitySet(b.OData, "Groups", odataGroupMapping)
	if err != nil {
		return nil, common.Configuration(err)
	}
	return newEntity(models.EntityGroup, b, groupKeys, models.GroupKinds, map[models.GroupKind]repository.Finder[models.Group]{
		models.GroupExternalSourceID: groups.FindOne,
	})
}

// Members: internalId (keystore), externalSourceId (odata), email (restapi
// query).
func Members(b Backends) (*Entity[models.MemberKind, models.Member], error) {
	if b.OData == nil {
		return nil, missing(models.EntityMember, string(models.MemberExternalSourceID), odata.SourceName)
	}
	if b.REST == nil {
		return nil, missing(models.EntityMember, string(models.MemberEmail), restapi.SourceName)
	}
	people, err := odata.NewEntitySet(b.OData, "People", odataPersonMapping)
	if err != nil {
		return nil, common.Configuration(err)
	}
	directory, err := restapi.NewResource(b.REST, "/people", restPersonMapping)
	if err != nil {
		return nil, common.Configuration(err)
	}
	byEmail := func(ctx context.Context, email string) (models.Member, error) {
		return common.FirstMatch[string, restapi.Query, models.Member](ctx, directory, restapi.SourceName,
			restapi.Query{Filters: map[string]string{"email": email}})
	}
	return newEntity(models.EntityMember, b, memberKeys, models.MemberKinds, map[models.MemberKind]repository.Finder[models.Member]{
		models.MemberExternalSourceID: people.FindOne,
		models.MemberEmail:            byEmail,
	})
}

// Competitions: internalId (keystore), externalSourceId (graphql).
func Competitions(b Backends) (*Entity[models.CompetitionKind, models.Competition], error) {
	if b.GraphQL == nil {
		return nil, missing(models.EntityCompetition, string(models.CompetitionExternalSourceID), graphql.SourceName)
	}
	competitions, err := graphql.NewResource(b.GraphQL, competitionOps, gqlCompetitionMapping)
	if err != nil {
		return nil, common.Configuration(err)
	}
	return newEntity(models.EntityCompetition, b, competitionKeys, models.CompetitionKinds, map[models.CompetitionKind]repository.Finder[models.Competition]{
		models.CompetitionExternalSourceID: competitions.FindOne,
	})
}

// Tracks: internalId (keystore), slug (graphql).
func Tracks(b Backends) (*Entity[models.TrackKind, models.Track], error) {
	if b.GraphQL == nil {
		return nil, missing(models.EntityTrack, string(models.TrackSlug), graphql.SourceName)
	}
	tracks, err := graphql.NewResource(b.GraphQL, trackOps, gqlTrackMapping)
	if err != nil {
		return nil, common.Configuration(err)
	}
	return newEntity(models.EntityTrack, b, trackKeys, models.TrackKinds, map[models.TrackKind]repository.Finder[models.Track]{
		models.TrackSlug: tracks.FindOne,
	})
}
