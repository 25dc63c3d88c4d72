/*
Package postgres provides a PostgreSQL-backed implementation of
collection.TxStore using a pgx connection pool.

IDENTITY:
  record_id is BIGINT GENERATED ALWAYS AS IDENTITY. Sequences never hand
  out a value twice, so removed ids are not reused.

CONCURRENCY:
  Inside WithTx, Get locks the row with SELECT ... FOR UPDATE. Two
  concurrent updates of the same record serialize on that lock, so the
  read-only check and the write see the same row.

TIMESTAMPS:
  last_updated_at is TIMESTAMPTZ (microsecond precision). Values are
  returned in UTC.

SEE ALSO:
  - store/sqlite/sqlite.go: default backend, same shape
  - collection/store.go: Interface definitions
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/warp/collections/collection"
)

var _ collection.TxStore = (*Store)(nil)

// Config holds pool settings.
type Config struct {
	URL      string
	MaxConns int32
	MinConns int32
}

// Store implements collection.TxStore on PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
	queries
}

// New connects, verifies the connection and creates the schema.
func New(ctx context.Context, cfg Config) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &Store{pool: pool, queries: queries{db: pool}}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS collections (
		record_id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		logical_id BIGINT NOT NULL,
		name TEXT,
		email TEXT,
		contact TEXT,
		date DATE NOT NULL,
		read_only BOOLEAN NOT NULL DEFAULT FALSE,
		last_updated_by TEXT NOT NULL,
		last_updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_collections_logical
		ON collections(logical_id, last_updated_at DESC);
	CREATE INDEX IF NOT EXISTS idx_collections_read_only
		ON collections(read_only, record_id);
	`)
	return err
}

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(collection.Store) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storageErr("begin", err)
	}
	defer tx.Rollback(ctx) // no-op after commit

	if err := fn(&queries{db: tx, forUpdate: true}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return storageErr("commit", err)
	}
	return nil
}

// =============================================================================
// QUERIES
// =============================================================================

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type queries struct {
	db        querier
	forUpdate bool // lock rows read by Get
}

const selectColumns = `SELECT record_id, logical_id, name, email, contact, date,
		read_only, last_updated_by, last_updated_at FROM collections`

func (q *queries) Insert(ctx context.Context, rec collection.Record) (collection.Record, error) {
	err := q.db.QueryRow(ctx, `
		INSERT INTO collections (logical_id, name, email, contact, date, read_only, last_updated_by, last_updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING record_id`,
		rec.LogicalID,
		rec.Name,
		rec.Email,
		rec.Contact,
		rec.Date,
		rec.ReadOnly,
		rec.LastUpdatedBy,
		rec.LastUpdatedAt,
	).Scan(&rec.RecordID)
	if err != nil {
		return collection.Record{}, storageErr("insert", err)
	}
	return rec, nil
}

func (q *queries) Get(ctx context.Context, recordID int64) (collection.Record, error) {
	query := selectColumns + ` WHERE record_id = $1`
	if q.forUpdate {
		query += ` FOR UPDATE`
	}

	rec, err := scanRecord(q.db.QueryRow(ctx, query, recordID))
	if errors.Is(err, pgx.ErrNoRows) {
		return collection.Record{}, collection.NotFoundError(recordID)
	}
	if err != nil {
		return collection.Record{}, storageErr("get", err)
	}
	return rec, nil
}

func (q *queries) ListByLogicalID(ctx context.Context, logicalID int64) ([]collection.Record, error) {
	return q.query(ctx, "history",
		selectColumns+` WHERE logical_id = $1 ORDER BY last_updated_at DESC, record_id DESC`,
		logicalID)
}

func (q *queries) List(ctx context.Context, filter collection.Filter, skip, limit int) ([]collection.Record, error) {
	var (
		where []string
		args  []any
	)
	if filter.LogicalID != nil {
		args = append(args, *filter.LogicalID)
		where = append(where, fmt.Sprintf("logical_id = $%d", len(args)))
	}
	if filter.ReadOnly != nil {
		args = append(args, *filter.ReadOnly)
		where = append(where, fmt.Sprintf("read_only = $%d", len(args)))
	}

	query := selectColumns
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY record_id"

	if skip < 0 {
		skip = 0
	}
	args = append(args, skip)
	query += fmt.Sprintf(" OFFSET $%d", len(args))
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	return q.query(ctx, "list", query, args...)
}

// Save overwrites the mutable columns. read_only is never written here.
func (q *queries) Save(ctx context.Context, rec collection.Record) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE collections
		SET name = $1, email = $2, contact = $3, date = $4, last_updated_by = $5, last_updated_at = $6
		WHERE record_id = $7`,
		rec.Name,
		rec.Email,
		rec.Contact,
		rec.Date,
		rec.LastUpdatedBy,
		rec.LastUpdatedAt,
		rec.RecordID,
	)
	if err != nil {
		return storageErr("save", err)
	}
	if tag.RowsAffected() == 0 {
		return collection.NotFoundError(rec.RecordID)
	}
	return nil
}

func (q *queries) Remove(ctx context.Context, recordID int64) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM collections WHERE record_id = $1`, recordID)
	if err != nil {
		return storageErr("remove", err)
	}
	if tag.RowsAffected() == 0 {
		return collection.NotFoundError(recordID)
	}
	return nil
}

func (q *queries) query(ctx context.Context, op, query string, args ...any) ([]collection.Record, error) {
	rows, err := q.db.Query(ctx, query, args...)
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

func scanRecord(row pgx.Row) (collection.Record, error) {
	var rec collection.Record
	var date, lastUpdatedAt time.Time
	err := row.Scan(
		&rec.RecordID,
		&rec.LogicalID,
		&rec.Name,
		&rec.Email,
		&rec.Contact,
		&date,
		&rec.ReadOnly,
		&rec.LastUpdatedBy,
		&lastUpdatedAt,
	)
	if err != nil {
		return collection.Record{}, err
	}
	rec.Date = collection.DateOf(date)
	rec.LastUpdatedAt = lastUpdatedAt.UTC()
	return rec, nil
}

func storageErr(op string, err error) error {
	return &collection.StorageError{Op: op, Err: err}
}
