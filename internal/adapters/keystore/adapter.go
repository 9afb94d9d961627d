package keystore

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/rs/zerolog"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	common "github.com/example/sourcebridge/internal/adapters/common"
)

var (
	errInvalidKey    = errors.New("invalid key")
	errInvalidCursor = errors.New("invalid continuation token")
	errMapping       = errors.New("mapping failed")
)

// Mapping binds an entity type to stored items.
type Mapping[E any] struct {
	// Encode builds the item (keys and body) persisted for an entity.
	Encode func(E) (Item, error)
	// Decode converts a stored item back into an entity.
	Decode func(Item) (E, error)
}

// JSONMapping stores the entity as its JSON encoding with keys computed by keys.
func JSONMapping[E any](keys func(E) Item) Mapping[E] {
	return Mapping[E]{
		Encode: func(e E) (Item, error) {
			item := keys(e)
			body, err := json.Marshal(e)
			if err != nil {
				return Item{}, err
			}
			item.Body = body
			return item, nil
		},
		Decode: func(item Item) (E, error) {
			var e E
			err := json.Unmarshal(item.Body, &e)
			return e, err
		},
	}
}

// Adapter implements common.Source for one entity type.
type Adapter[E any] struct {
	store   *Store
	mapping Mapping[E]
	logger  zerolog.Logger
}

// NewAdapter binds mapping to store.
func NewAdapter[E any](store *Store, mapping Mapping[E], logger zerolog.Logger) (*Adapter[E], error) {
	if store == nil {
		return nil, errors.New("keystore adapter: store dependency is required")
	}
	if mapping.Encode == nil || mapping.Decode == nil {
		return nil, errors.New("keystore adapter: encode and decode mappings are required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &Adapter[E]{store: store, mapping: mapping, logger: logger}, nil
}

var _ common.Source[Key, Query, struct{}] = (*Adapter[struct{}])(nil)

// FindOne returns the entity stored at key.
func (a *Adapter[E]) FindOne(ctx context.Context, key Key) (E, error) {
	var zero E
	item, err := a.store.Get(ctx, key)
	if err != nil {
		return zero, a.translate(err)
	}
	e, err := a.mapping.Decode(item)
	if err != nil {
		return zero, a.translate(fmt.Errorf("%w: decode %s: %v", errMapping, key, err))
	}
	return e, nil
}

// QueryAll returns one page of the entities matching q.
func (a *Adapter[E]) QueryAll(ctx context.Context, q Query, page common.Pagination) (common.Page[E], error) {
	after, err := decodeCursor(page.Token)
	if err != nil {
		return common.Page[E]{}, a.translate(err)
	}
	limit := common.ClampLimit(page.Limit)
	items, hasMore, err := a.store.Scan(ctx, q, after, limit)
	if err != nil {
		return common.Page[E]{}, a.translate(err)
	}

	out := common.Page[E]{Items: make([]E, 0, len(items)), HasMore: hasMore}
	for _, item := range items {
		e, err := a.mapping.Decode(item)
		if err != nil {
			return common.Page[E]{}, a.translate(fmt.Errorf("%w: decode %s/%s: %v", errMapping, item.Partition, item.Sort, err))
		}
		out.Items = append(out.Items, e)
	}
	if hasMore && len(items) > 0 {
		last := items[len(items)-1]
		out.Next = encodeCursor(cursor{Partition: last.Partition, Sort: last.Sort, SecondarySort: last.SecondarySort})
	}
	return out, nil
}

// SaveOne persists entity and returns it as stored.
func (a *Adapter[E]) SaveOne(ctx context.Context, entity E) (E, error) {
	var zero E
	item, err := a.mapping.Encode(entity)
	if err != nil {
		return zero, a.translate(fmt.Errorf("%w: encode: %v", errMapping, err))
	}
	stored, err := a.store.Put(ctx, item)
	if err != nil {
		return zero, a.translate(err)
	}
	a.logger.Debug().
		Str("pk", stored.Partition).
		Str("sk", stored.Sort).
		Msg("keystore item saved")
	e, err := a.mapping.Decode(stored)
	if err != nil {
		return zero, a.translate(fmt.Errorf("%w: decode saved item: %v", errMapping, err))
	}
	return e, nil
}

func (a *Adapter[E]) translate(err error) error {
	return common.Translate(SourceName, Translator{}, err)
}

type cursor struct {
	Partition     string `json:"p"`
	Sort          string `json:"s"`
	SecondarySort string `json:"g,omitempty"`
}

func encodeCursor(c cursor) string {
	raw, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeCursor(token string) (cursor, error) {
	if token == "" {
		return cursor{}, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return cursor{}, fmt.Errorf("%w: %v", errInvalidCursor, err)
	}
	var c cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return cursor{}, fmt.Errorf("%w: %v", errInvalidCursor, err)
	}
	return c, nil
}

// Translator maps SQLite and store errors onto status classes.
type Translator struct{}

// StatusClass implements common.Translator.
func (Translator) StatusClass(err error) int {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 404
	case errors.Is(err, errInvalidKey), errors.Is(err, errInvalidCursor):
		return 400
	case errors.Is(err, errMapping):
		return 0
	case errors.Is(err, sql.ErrConnDone):
		return 503
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_CONSTRAINT:
			return 409
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_IOERR, sqlite3.SQLITE_FULL:
			return 503
		}
		return 500
	}
	return 500
}

// Description implements common.Translator.
func (Translator) Description(err error) string {
	return err.Error()
}
