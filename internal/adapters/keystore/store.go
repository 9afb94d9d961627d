// Package keystore is a partition/sort keyed item store with one secondary key
// index, backed by SQLite. It offers key lookups and key-range queries only.
package keystore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// driverName is the database/sql driver registered by modernc.org/sqlite.
const driverName = "sqlite"

// SourceName identifies this backend in canonical errors.
const SourceName = "keystore"

// IndexSecondary selects the secondary key index in keys and queries.
const IndexSecondary = "secondary"

// Item is one stored record. Secondary keys are optional.
type Item struct {
	Partition          string
	Sort               string
	SecondaryPartition string
	SecondarySort      string
	Body               json.RawMessage
	UpdatedAt          time.Time
}

// Key addresses a single item, either by primary key or by secondary key.
type Key struct {
	Index     string
	Partition string
	Sort      string
}

// Query selects the items of one partition, optionally narrowed to sort keys
// starting with SortPrefix.
type Query struct {
	Index      string
	Partition  string
	SortPrefix string
}

// Store owns the SQLite handle shared by every entity adapter.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
	now    func() time.Time
}

// Open opens (and migrates) the store at path.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("keystore: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("keystore: create dir: %w", err)
	}
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("keystore: open sqlite: %w", err)
	}
	return newStore(db, logger)
}

// OpenInMemory opens a private in-memory store.
func OpenInMemory(logger zerolog.Logger) (*Store, error) {
	db, err := sql.Open(driverName, ":memory:")
	if err != nil {
		return nil, fmt.Errorf("keystore: open sqlite memory: %w", err)
	}
	// every pooled connection would otherwise see its own empty database
	db.SetMaxOpenConns(1)
	return newStore(db, logger)
}

func newStore(db *sql.DB, logger zerolog.Logger) (*Store, error) {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	s := &Store{db: db, logger: logger, now: time.Now}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS items (
			pk TEXT NOT NULL,
			sk TEXT NOT NULL,
			gsi_pk TEXT NOT NULL DEFAULT '',
			gsi_sk TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (pk, sk)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_items_secondary ON items(gsi_pk, gsi_sk, pk, sk);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("keystore: migrate: %w", err)
		}
	}
	return nil
}

const selectColumns = `SELECT pk, sk, gsi_pk, gsi_sk, body, updated_at FROM items`

// Get returns the item addressed by key. Secondary key lookups return the
// first matching item in primary key order.
func (s *Store) Get(ctx context.Context, key Key) (Item, error) {
	if strings.TrimSpace(key.Partition) == "" {
		return Item{}, fmt.Errorf("%w: partition is required", errInvalidKey)
	}
	var row *sql.Row
	switch key.Index {
	case "":
		row = s.db.QueryRowContext(ctx, selectColumns+` WHERE pk = ? AND sk = ?`, key.Partition, key.Sort)
	case IndexSecondary:
		row = s.db.QueryRowContext(ctx, selectColumns+` WHERE gsi_pk = ? AND gsi_sk = ? ORDER BY pk, sk LIMIT 1`, key.Partition, key.Sort)
	default:
		return Item{}, fmt.Errorf("%w: unknown index %q", errInvalidKey, key.Index)
	}
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, fmt.Errorf("keystore: no item at %s: %w", key, err)
	}
	return item, err
}

// Put inserts or replaces item.
func (s *Store) Put(ctx context.Context, item Item) (Item, error) {
	if strings.TrimSpace(item.Partition) == "" || strings.TrimSpace(item.Sort) == "" {
		return Item{}, fmt.Errorf("%w: partition and sort keys are required", errInvalidKey)
	}
	if len(item.Body) == 0 {
		item.Body = json.RawMessage("{}")
	}
	item.UpdatedAt = s.now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO items (pk, sk, gsi_pk, gsi_sk, body, updated_at) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(pk, sk) DO UPDATE SET
			gsi_pk = excluded.gsi_pk,
			gsi_sk = excluded.gsi_sk,
			body = excluded.body,
			updated_at = excluded.updated_at`,
		item.Partition, item.Sort, item.SecondaryPartition, item.SecondarySort, string(item.Body), item.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return Item{}, fmt.Errorf("keystore: put %s/%s: %w", item.Partition, item.Sort, err)
	}
	return item, nil
}

// Scan returns up to limit items of q strictly after the cursor position, plus
// whether more items follow.
func (s *Store) Scan(ctx context.Context, q Query, after cursor, limit int) ([]Item, bool, error) {
	if strings.TrimSpace(q.Partition) == "" {
		return nil, false, fmt.Errorf("%w: partition is required", errInvalidKey)
	}
	var (
		rows *sql.Rows
		err  error
	)
	switch q.Index {
	case "":
		rows, err = s.db.QueryContext(ctx, selectColumns+`
			WHERE pk = ? AND substr(sk, 1, length(?)) = ? AND sk > ?
			ORDER BY sk LIMIT ?`,
			q.Partition, q.SortPrefix, q.SortPrefix, after.Sort, limit+1)
	case IndexSecondary:
		rows, err = s.db.QueryContext(ctx, selectColumns+`
			WHERE gsi_pk = ? AND substr(gsi_sk, 1, length(?)) = ? AND (gsi_sk, pk, sk) > (?, ?, ?)
			ORDER BY gsi_sk, pk, sk LIMIT ?`,
			q.Partition, q.SortPrefix, q.SortPrefix, after.SecondarySort, after.Partition, after.Sort, limit+1)
	default:
		return nil, false, fmt.Errorf("%w: unknown index %q", errInvalidKey, q.Index)
	}
	if err != nil {
		return nil, false, fmt.Errorf("keystore: scan %s: %w", q.Partition, err)
	}
	defer rows.Close()

	items := make([]Item, 0, limit)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, false, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("keystore: scan %s: %w", q.Partition, err)
	}
	hasMore := len(items) > limit
	if hasMore {
		items = items[:limit]
	}
	return items, hasMore, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(sc scanner) (Item, error) {
	var (
		item    Item
		body    string
		updated string
	)
	if err := sc.Scan(&item.Partition, &item.Sort, &item.SecondaryPartition, &item.SecondarySort, &body, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Item{}, err
		}
		return Item{}, fmt.Errorf("keystore: scan row: %w", err)
	}
	item.Body = json.RawMessage(body)
	if ts, err := time.Parse(time.RFC3339Nano, updated); err == nil {
		item.UpdatedAt = ts
	}
	return item, nil
}

func (k Key) String() string {
	if k.Index != "" {
		return fmt.Sprintf("%s:%s/%s", k.Index, k.Partition, k.Sort)
	}
	return k.Partition + "/" + k.Sort
}
