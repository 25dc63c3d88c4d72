/*
store.go - Persistence interface for collection records

PURPOSE:
  Defines the interface between the record rules and the database.
  A Store only persists; it enforces no business rule. The read-only
  invariant lives in RecordStore (records.go), which is the only caller
  allowed to mutate through a Store.

KEY INTERFACES:
  Store:   Record persistence (insert, load, list, save, remove)
  TxStore: Store plus WithTx for atomic read-check-write sequences

ATOMIC CHECK-THEN-ACT:
  Update and Delete must read the record, check read_only, then write,
  without a concurrent writer slipping in between. Backends guarantee this
  inside WithTx:
  - memory:   write lock held for the whole callback
  - sqlite:   single connection, BEGIN IMMEDIATE
  - postgres: SELECT ... FOR UPDATE on the target row

IDENTITY:
  Insert assigns RecordID. Identifiers are monotonic and never reused,
  even after the record is removed.

IMPLEMENTATIONS:
  - collection/store/memory.go: In-memory for tests and dev
  - store/sqlite/sqlite.go: SQLite (default)
  - store/postgres/postgres.go: PostgreSQL via pgx

SEE ALSO:
  - records.go: RecordStore built on TxStore
*/
package collection

import "context"

// =============================================================================
// STORE - Interface for record persistence
// =============================================================================

// Store handles persistence of records.
type Store interface {
	// Insert persists a new record and returns it with RecordID assigned.
	Insert(ctx context.Context, rec Record) (Record, error)

	// Get returns the record or an error matching ErrNotFound.
	Get(ctx context.Context, recordID int64) (Record, error)

	// ListByLogicalID returns all records sharing logicalID,
	// ordered by LastUpdatedAt descending, then RecordID descending.
	ListByLogicalID(ctx context.Context, logicalID int64) ([]Record, error)

	// List returns a page of records matching filter in creation order.
	List(ctx context.Context, filter Filter, skip, limit int) ([]Record, error)

	// Save overwrites the mutable columns of an existing record.
	Save(ctx context.Context, rec Record) error

	// Remove deletes a record permanently. Returns ErrNotFound if absent.
	Remove(ctx context.Context, recordID int64) error
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic read-modify-write
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
