package catalog

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	common "github.com/example/sourcebridge/internal/adapters/common"
	"github.com/example/sourcebridge/internal/adapters/keystore"
	"github.com/example/sourcebridge/internal/models"
)

// altKey is one alternate identifier an entity can be recognised by when it
// arrives from an external source without an internal id.
type altKey[E any] struct {
	partition string
	value     func(E) string
}

// keySpec places one entity type in the keystore: primary key by internal id,
// secondary key by the first alternate identifier the entity carries.
type keySpec[E any] struct {
	partition  string
	id         func(E) string
	alternates []altKey[E]
	withID     func(E, string) E
}

func (k keySpec[E]) item(e E) keystore.Item {
	item := keystore.Item{Partition: k.partition, Sort: k.id(e)}
	for _, alt := range k.alternates {
		if v := alt.value(e); v != "" {
			item.SecondaryPartition, item.SecondarySort = alt.partition, v
			break
		}
	}
	return item
}

func (k keySpec[E]) primary(id string) keystore.Key {
	return keystore.Key{Partition: k.partition, Sort: id}
}

var courseKeys = keySpec[models.Course]{
	partition: "COURSE",
	id:        func(c models.Course) string { return c.ID },
	alternates: []altKey[models.Course]{
		{partition: "COURSE#EXT", value: func(c models.Course) string { return c.ExternalSourceID }},
	},
	withID: func(c models.Course, id string) models.Course { c.ID = id; return c },
}

var groupKeys = keySpec[models.Group]{
	partition: "GROUP",
	id:        func(g models.Group) string { return g.ID },
	alternates: []altKey[models.Group]{
		{partition: "GROUP#EXT", value: func(g models.Group) string { return g.ExternalSourceID }},
	},
	withID: func(g models.Group, id string) models.Group { g.ID = id; return g },
}

// Members found by email often carry no external id, so the email is the
// fallback secondary key.
var memberKeys = keySpec[models.Member]{
	partition: "MEMBER",
	id:        func(m models.Member) string { return m.ID },
	alternates: []altKey[models.Member]{
		{partition: "MEMBER#EXT", value: func(m models.Member) string { return m.ExternalSourceID }},
		{partition: "MEMBER#EMAIL", value: func(m models.Member) string { return strings.ToLower(strings.TrimSpace(m.Email)) }},
	},
	withID: func(m models.Member, id string) models.Member { m.ID = id; return m },
}

var competitionKeys = keySpec[models.Competition]{
	partition: "COMPETITION",
	id:        func(c models.Competition) string { return c.ID },
	alternates: []altKey[models.Competition]{
		{partition: "COMPETITION#EXT", value: func(c models.Competition) string { return c.ExternalSourceID }},
	},
	withID: func(c models.Competition, id string) models.Competition { c.ID = id; return c },
}

var trackKeys = keySpec[models.Track]{
	partition: "TRACK",
	id:        func(t models.Track) string { return t.ID },
	alternates: []altKey[models.Track]{
		{partition: "TRACK#SLUG", value: func(t models.Track) string { return t.Slug }},
	},
	withID: func(t models.Track, id string) models.Track { t.ID = id; return t },
}

// assignID gives an entity found in an external source a stable internal id:
// the id already mirrored under one of its alternate keys, or a fresh UUID v4.
func assignID[E any](ctx context.Context, store *keystore.Adapter[E], keys keySpec[E], e E) (E, error) {
	if keys.id(e) != "" {
		return e, nil
	}
	for _, alt := range keys.alternates {
		v := alt.value(e)
		if v == "" {
			continue
		}
		existing, err := store.FindOne(ctx, keystore.Key{Index: keystore.IndexSecondary, Partition: alt.partition, Sort: v})
		switch {
		case err == nil && keys.id(existing) != "":
			return keys.withID(e, keys.id(existing)), nil
		case err != nil && !errors.Is(err, common.ErrNotFound):
			return e, err
		}
	}
	return keys.withID(e, uuid.NewString()), nil
}
