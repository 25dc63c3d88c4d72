/*
records.go - RecordStore, the single writer of collection records

PURPOSE:
  Owns the record lifecycle on top of a TxStore backend. Every create,
  update and delete goes through here, and this is the only place the
  read-only invariant is enforced.

CRITICAL INVARIANTS:
  1. READ-ONLY IS FINAL: read_only is fixed at Create and never flipped.
  2. NO MUTATION OF READ-ONLY RECORDS: Update and Delete fail with
     ReadOnlyError before any field is touched.
  3. ATOMIC CHECK: the read, the read_only check and the write run in one
     backend transaction (WithTx).
  4. MONOTONIC CLOCK PER RECORD: last_updated_at never moves backwards
     across a record's own update sequence.
  5. ACTOR REQUIRED: every mutation names who made it.

RETRIES AND TIMEOUTS:
  Each call runs under the configured timeout. Reads are retried on
  storage failures; writes are not (Create has no idempotency key, so a
  retry could duplicate a record).

SEE ALSO:
  - store.go: backend interface
  - importer.go: bulk Create from spreadsheets
  - query.go: read-side presets
*/
package collection

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/warp/collections/logging"
)

// DefaultReadBackoff is the delay before the first read retry; later retries back off linearly.
const DefaultReadBackoff = 50 * time.Millisecond

// =============================================================================
// RECORD STORE
// =============================================================================

// RecordStore creates, reads, updates and deletes records.
type RecordStore struct {
	store       TxStore
	now         func() time.Time
	timeout     time.Duration
	readRetries int
	backoff     time.Duration
}

// Option configures a RecordStore.
type Option func(*RecordStore)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *RecordStore) { s.now = now }
}

// WithTimeout bounds every store operation. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(s *RecordStore) { s.timeout = d }
}

// WithReadRetries retries failed reads up to n extra times.
func WithReadRetries(n int, backoff time.Duration) Option {
	return func(s *RecordStore) {
		s.readRetries = n
		s.backoff = backoff
	}
}

// NewRecordStore creates a RecordStore over the given backend.
func NewRecordStore(store TxStore, opts ...Option) *RecordStore {
	s := &RecordStore{
		store:   store,
		now:     time.Now,
		backoff: DefaultReadBackoff,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// =============================================================================
// WRITES
// =============================================================================

// Create persists a new record. readOnly is fixed for the record's lifetime.
// A zero Date defaults to the creation date.
func (s *RecordStore) Create(ctx context.Context, f Fields, readOnly bool, actor string) (Record, error) {
	defer observe("create", time.Now())

	if err := requireActor(actor); err != nil {
		return Record{}, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	now := s.timestamp()
	if f.Date.IsZero() {
		f.Date = DateOf(now)
	} else {
		f.Date = DateOf(f.Date)
	}

	rec := Record{
		Fields:        f,
		ReadOnly:      readOnly,
		LastUpdatedBy: actor,
		LastUpdatedAt: now,
	}
	return s.store.Insert(ctx, rec)
}

// Update applies the present fields of p to an editable record.
// The actor and timestamp are always refreshed, even for an empty patch.
func (s *RecordStore) Update(ctx context.Context, recordID int64, p Patch, actor string) (Record, error) {
	defer observe("update", time.Now())

	if err := requireActor(actor); err != nil {
		return Record{}, err
	}
	if err := p.Validate(); err != nil {
		return Record{}, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var updated Record
	err := s.store.WithTx(ctx, func(tx Store) error {
		rec, err := tx.Get(ctx, recordID)
		if err != nil {
			return err
		}
		if rec.ReadOnly {
			readOnlyViolations.WithLabelValues("update").Inc()
			return &ReadOnlyError{RecordID: recordID, Op: "update"}
		}

		p.apply(&rec.Fields)

		now := s.timestamp()
		if now.Before(rec.LastUpdatedAt) {
			now = rec.LastUpdatedAt
		}
		rec.LastUpdatedBy = actor
		rec.LastUpdatedAt = now

		if err := tx.Save(ctx, rec); err != nil {
			return err
		}
		updated = rec
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	return updated, nil
}

// Delete removes an editable record. It returns false when no record existed.
func (s *RecordStore) Delete(ctx context.Context, recordID int64) (bool, error) {
	defer observe("delete", time.Now())

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err := s.store.WithTx(ctx, func(tx Store) error {
		rec, err := tx.Get(ctx, recordID)
		if err != nil {
			return err
		}
		if rec.ReadOnly {
			readOnlyViolations.WithLabelValues("delete").Inc()
			return &ReadOnlyError{RecordID: recordID, Op: "delete"}
		}
		return tx.Remove(ctx, recordID)
	})
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// =============================================================================
// READS
// =============================================================================

// Get returns one record by its record id.
func (s *RecordStore) Get(ctx context.Context, recordID int64) (Record, error) {
	defer observe("get", time.Now())

	var rec Record
	err := s.read(ctx, "get", func(ctx context.Context) error {
		var err error
		rec, err = s.store.Get(ctx, recordID)
		return err
	})
	return rec, err
}

// History returns every record sharing logicalID, newest first.
// The result is empty, not nil, when there are none.
func (s *RecordStore) History(ctx context.Context, logicalID int64) ([]Record, error) {
	defer observe("history", time.Now())

	var recs []Record
	err := s.read(ctx, "history", func(ctx context.Context) error {
		var err error
		recs, err = s.store.ListByLogicalID(ctx, logicalID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []Record{}
	}
	return recs, nil
}

// List returns a page of records in creation order.
func (s *RecordStore) List(ctx context.Context, filter Filter, skip, limit int) ([]Record, error) {
	defer observe("list", time.Now())

	var recs []Record
	err := s.read(ctx, "list", func(ctx context.Context) error {
		var err error
		recs, err = s.store.List(ctx, filter, skip, limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []Record{}
	}
	return recs, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// read runs fn with the operation timeout, retrying storage failures.
func (s *RecordStore) read(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil || !IsRetryable(err) || attempt >= s.readRetries || ctx.Err() != nil {
			return err
		}

		logging.FromContext(ctx).Warn("retrying read",
			"op", op,
			"attempt", attempt+1,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return err
		case <-time.After(s.backoff * time.Duration(attempt+1)):
		}
	}
}

func (s *RecordStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// timestamp is truncated to microseconds so it survives a Postgres round trip.
func (s *RecordStore) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func requireActor(actor string) error {
	if strings.TrimSpace(actor) == "" {
		return &ValidationError{Field: "last_updated_by", Message: "actor identity is required"}
	}
	return nil
}

func observe(op string, start time.Time) {
	storeOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
