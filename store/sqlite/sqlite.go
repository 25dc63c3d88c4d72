/*
Package sqlite provides a SQLite-backed implementation of collection.TxStore.

PURPOSE:
  Persists collection records in a single SQLite file. This is the default
  backend; PostgreSQL (store/postgres) follows the same shape with dialect
  differences only.

KEY TABLE:
  collections: one row per record, keyed by record_id

IDENTITY:
  record_id is INTEGER PRIMARY KEY AUTOINCREMENT, so SQLite never hands out
  an id that was used before, even after the row is deleted.

INDEXES:
  - idx_collections_logical: history lookups by logical_id
  - idx_collections_read_only: editable/read-only listings

CONCURRENCY:
  The pool is capped at one connection and transactions start with
  BEGIN IMMEDIATE (_txlock=immediate), so the read-check-write sequence in
  WithTx cannot interleave with another writer.

TIMESTAMPS:
  last_updated_at is stored as fixed-width UTC text so that text ordering
  matches time ordering. date is stored as YYYY-MM-DD.

USAGE:
  store, err := sqlite.New("./data/collections.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  records := collection.NewRecordStore(store)

SEE ALSO:
  - collection/store.go: Interface definitions
  - collection/store/memory.go: In-memory implementation for testing
  - store/postgres/postgres.go: PostgreSQL implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/collections/collection"
)

var _ collection.TxStore = (*Store)(nil)

// timestampLayout is fixed width so lexical order equals time order.
const timestampLayout = "2006-01-02T15:04:05.000000Z"

// Store implements collection.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex // serializes WithTx callers
	queries
}

// New creates a SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// ":memory:" databases live per connection; WithTx relies on one writer.
	db.SetMaxOpenConns(1)

	store := &Store{db: db, queries: queries{db: db}}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS collections (
		record_id INTEGER PRIMARY KEY AUTOINCREMENT,
		logical_id INTEGER NOT NULL,
		name TEXT,
		email TEXT,
		contact TEXT,
		date TEXT NOT NULL,
		read_only INTEGER NOT NULL DEFAULT 0,
		last_updated_by TEXT NOT NULL,
		last_updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_collections_logical
		ON collections(logical_id, last_updated_at DESC);
	CREATE INDEX IF NOT EXISTS idx_collections_read_only
		ON collections(read_only, record_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(collection.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{db: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return storageErr("commit", err)
	}
	return nil
}

// =============================================================================
// QUERIES - shared by Store and transactions
// =============================================================================

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	db querier
}

const selectColumns = `SELECT record_id, logical_id, name, email, contact, date,
		read_only, last_updated_by, last_updated_at FROM collections`

// Insert persists a new record and assigns its record id.
func (q *queries) Insert(ctx context.Context, rec collection.Record) (collection.Record, error) {
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO collections (logical_id, name, email, contact, date, read_only, last_updated_by, last_updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.LogicalID,
		nullString(rec.Name),
		nullString(rec.Email),
		nullString(rec.Contact),
		collection.FormatDate(rec.Date),
		rec.ReadOnly,
		rec.LastUpdatedBy,
		formatTimestamp(rec.LastUpdatedAt),
	)
	if err != nil {
		return collection.Record{}, storageErr("insert", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return collection.Record{}, storageErr("insert", err)
	}
	rec.RecordID = id
	return rec, nil
}

func (q *queries) Get(ctx context.Context, recordID int64) (collection.Record, error) {
	row := q.db.QueryRowContext(ctx, selectColumns+` WHERE record_id = ?`, recordID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return collection.Record{}, collection.NotFoundError(recordID)
	}
	if err != nil {
		return collection.Record{}, storageErr("get", err)
	}
	return rec, nil
}

func (q *queries) ListByLogicalID(ctx context.Context, logicalID int64) ([]collection.Record, error) {
	return q.query(ctx, "history",
		selectColumns+` WHERE logical_id = ? ORDER BY last_updated_at DESC, record_id DESC`,
		logicalID)
}

func (q *queries) List(ctx context.Context, filter collection.Filter, skip, limit int) ([]collection.Record, error) {
	var (
		where []string
		args  []any
	)
	if filter.LogicalID != nil {
		where = append(where, "logical_id = ?")
		args = append(args, *filter.LogicalID)
	}
	if filter.ReadOnly != nil {
		where = append(where, "read_only = ?")
		args = append(args, *filter.ReadOnly)
	}

	query := selectColumns
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	if skip < 0 {
		skip = 0
	}
	query += " ORDER BY record_id LIMIT ? OFFSET ?"
	args = append(args, limit, skip)

	return q.query(ctx, "list", query, args...)
}

// Save overwrites the mutable columns. read_only is never written here.
func (q *queries) Save(ctx context.Context, rec collection.Record) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE collections
		SET name = ?, email = ?, contact = ?, date = ?, last_updated_by = ?, last_updated_at = ?
		WHERE record_id = ?`,
		nullString(rec.Name),
		nullString(rec.Email),
		nullString(rec.Contact),
		collection.FormatDate(rec.Date),
		rec.LastUpdatedBy,
		formatTimestamp(rec.LastUpdatedAt),
		rec.RecordID,
	)
	if err != nil {
		return storageErr("save", err)
	}
	return requireAffected(res, rec.RecordID, "save")
}

func (q *queries) Remove(ctx context.Context, recordID int64) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM collections WHERE record_id = ?`, recordID)
	if err != nil {
		return storageErr("remove", err)
	}
	return requireAffected(res, recordID, "remove")
}

func (q *queries) query(ctx context.Context, op, query string, args ...any) ([]collection.Record, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr(op, err)
	}
	defer rows.Close()

	result := []collection.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, storageErr(op, err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(op, err)
	}
	return result, nil
}

// =============================================================================
// HELPERS
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (collection.Record, error) {
	var (
		rec                  collection.Record
		name, email, contact sql.NullString
		date, lastUpdatedAt  string
	)
	err := row.Scan(
		&rec.RecordID,
		&rec.LogicalID,
		&name,
		&email,
		&contact,
		&date,
		&rec.ReadOnly,
		&rec.LastUpdatedBy,
		&lastUpdatedAt,
	)
	if err != nil {
		return collection.Record{}, err
	}

	rec.Name = stringPtr(name)
	rec.Email = stringPtr(email)
	rec.Contact = stringPtr(contact)

	d, ok := collection.ParseDate(date)
	if !ok {
		return collection.Record{}, fmt.Errorf("record %d: bad date %q", rec.RecordID, date)
	}
	rec.Date = d

	ts, err := time.Parse(timestampLayout, lastUpdatedAt)
	if err != nil {
		return collection.Record{}, fmt.Errorf("record %d: bad last_updated_at: %w", rec.RecordID, err)
	}
	rec.LastUpdatedAt = ts
	return rec, nil
}

func requireAffected(res sql.Result, recordID int64, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr(op, err)
	}
	if n == 0 {
		return collection.NotFoundError(recordID)
	}
	return nil
}

func storageErr(op string, err error) error {
	return &collection.StorageError{Op: op, Err: err}
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
