package collection_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/collections/collection"
	"github.com/warp/collections/collection/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func strPtr(s string) *string { return &s }

// fixedClock returns a settable time source.
type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

func newRecords(t *testing.T, opts ...collection.Option) *collection.RecordStore {
	t.Helper()
	return collection.NewRecordStore(store.NewMemory(), opts...)
}

// flakyStore fails the first n Get and Insert calls with a storage error.
type flakyStore struct {
	collection.TxStore
	failures atomic.Int32
	gets     atomic.Int32
}

func (f *flakyStore) Get(ctx context.Context, id int64) (collection.Record, error) {
	f.gets.Add(1)
	if f.failures.Add(-1) >= 0 {
		return collection.Record{}, &collection.StorageError{Op: "get", Err: errors.New("connection reset")}
	}
	return f.TxStore.Get(ctx, id)
}

func (f *flakyStore) Insert(ctx context.Context, rec collection.Record) (collection.Record, error) {
	if f.failures.Add(-1) >= 0 {
		return collection.Record{}, &collection.StorageError{Op: "insert", Err: errors.New("connection reset")}
	}
	return f.TxStore.Insert(ctx, rec)
}

// =============================================================================
// CREATE
// =============================================================================

func TestCreate_StampsActorAndDefaultsDate(t *testing.T) {
	// GIVEN
	clock := &fixedClock{now: time.Date(2024, 5, 6, 22, 30, 0, 123456789, time.UTC)}
	records := newRecords(t, collection.WithClock(clock.Now))

	// WHEN
	rec, err := records.Create(context.Background(), collection.Fields{LogicalID: 7, Name: strPtr("Jo")}, false, "alice")

	// THEN
	require.NoError(t, err)
	assert.Positive(t, rec.RecordID)
	assert.Equal(t, "alice", rec.LastUpdatedBy)
	assert.Equal(t, time.Date(2024, 5, 6, 22, 30, 0, 123456000, time.UTC), rec.LastUpdatedAt)
	assert.Equal(t, time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC), rec.Date)
	assert.False(t, rec.ReadOnly)
}

func TestCreate_RequiresActor(t *testing.T) {
	records := newRecords(t)

	_, err := records.Create(context.Background(), collection.Fields{LogicalID: 1}, false, "  ")

	assert.ErrorIs(t, err, collection.ErrValidation)
	all, err := records.List(context.Background(), collection.Filter{}, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCreate_IsNotRetried(t *testing.T) {
	backend := &flakyStore{TxStore: store.NewMemory()}
	backend.failures.Store(1)
	records := collection.NewRecordStore(backend, collection.WithReadRetries(3, time.Millisecond))

	_, err := records.Create(context.Background(), collection.Fields{LogicalID: 1}, false, "alice")

	assert.ErrorIs(t, err, collection.ErrStorage)
	all, err := records.List(context.Background(), collection.Filter{}, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, all)
}

// =============================================================================
// UPDATE AND DELETE
// =============================================================================

func TestUpdate_ReadOnlyRecordIsUntouched(t *testing.T) {
	// GIVEN: a read-only record
	ctx := context.Background()
	records := newRecords(t)
	ro, err := records.Create(ctx, collection.Fields{LogicalID: 1, Name: strPtr("orig")}, true, "importer")
	require.NoError(t, err)

	// WHEN
	_, updateErr := records.Update(ctx, ro.RecordID, collection.Patch{Name: collection.Some("new")}, "bob")
	deleted, deleteErr := records.Delete(ctx, ro.RecordID)

	// THEN
	var roErr *collection.ReadOnlyError
	require.ErrorAs(t, updateErr, &roErr)
	assert.Equal(t, "update", roErr.Op)
	assert.ErrorIs(t, deleteErr, collection.ErrReadOnly)
	assert.False(t, deleted)

	got, err := records.Get(ctx, ro.RecordID)
	require.NoError(t, err)
	assert.Equal(t, ro, got)
}

func TestUpdate_AppliesPatch(t *testing.T) {
	ctx := context.Background()
	records := newRecords(t)
	rec, err := records.Create(ctx, collection.Fields{
		LogicalID: 3,
		Name:      strPtr("Jo"),
		Email:     strPtr("jo@example.com"),
		Contact:   strPtr("071"),
	}, false, "alice")
	require.NoError(t, err)

	newDate := time.Date(2024, 2, 1, 15, 0, 0, 0, time.UTC)
	updated, err := records.Update(ctx, rec.RecordID, collection.Patch{
		Name: collection.Null[string](),
		Date: collection.Some(newDate),
	}, "bob")

	require.NoError(t, err)
	assert.Nil(t, updated.Name)
	assert.Equal(t, "jo@example.com", *updated.Email)
	assert.Equal(t, "071", *updated.Contact)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), updated.Date)
	assert.Equal(t, int64(3), updated.LogicalID)
	assert.False(t, updated.ReadOnly)
	assert.Equal(t, "bob", updated.LastUpdatedBy)
}

func TestUpdate_TimestampNeverMovesBackwards(t *testing.T) {
	// GIVEN: a record stamped at noon, then the clock steps back an hour
	ctx := context.Background()
	clock := &fixedClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	records := newRecords(t, collection.WithClock(clock.Now))
	rec, err := records.Create(ctx, collection.Fields{LogicalID: 1}, false, "alice")
	require.NoError(t, err)
	clock.now = clock.now.Add(-time.Hour)

	// WHEN: an empty patch is applied
	updated, err := records.Update(ctx, rec.RecordID, collection.Patch{}, "bob")

	// THEN
	require.NoError(t, err)
	assert.Equal(t, rec.LastUpdatedAt, updated.LastUpdatedAt)
	assert.Equal(t, "bob", updated.LastUpdatedBy)
}

func TestUpdate_Rejections(t *testing.T) {
	ctx := context.Background()
	records := newRecords(t)
	rec, err := records.Create(ctx, collection.Fields{LogicalID: 1}, false, "alice")
	require.NoError(t, err)

	_, err = records.Update(ctx, 999999, collection.Patch{}, "bob")
	assert.ErrorIs(t, err, collection.ErrNotFound)

	_, err = records.Update(ctx, rec.RecordID, collection.Patch{}, "")
	assert.ErrorIs(t, err, collection.ErrValidation)

	_, err = records.Update(ctx, rec.RecordID, collection.Patch{Date: collection.Null[time.Time]()}, "bob")
	assert.ErrorIs(t, err, collection.ErrValidation)

	got, err := records.Get(ctx, rec.RecordID)
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	records := newRecords(t)
	rec, err := records.Create(ctx, collection.Fields{LogicalID: 1}, false, "alice")
	require.NoError(t, err)

	deleted, err := records.Delete(ctx, rec.RecordID)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = records.Delete(ctx, rec.RecordID)
	require.NoError(t, err)
	assert.False(t, deleted, "a missing record is not an error")

	_, err = records.Get(ctx, rec.RecordID)
	assert.ErrorIs(t, err, collection.ErrNotFound)
}

// =============================================================================
// READS
// =============================================================================

func TestGet_RetriesStorageFailures(t *testing.T) {
	// GIVEN: a backend whose first two reads fail
	ctx := context.Background()
	backend := &flakyStore{TxStore: store.NewMemory()}
	records := collection.NewRecordStore(backend, collection.WithReadRetries(2, time.Millisecond))
	rec, err := records.Create(ctx, collection.Fields{LogicalID: 1}, false, "alice")
	require.NoError(t, err)
	backend.failures.Store(2)

	// WHEN
	got, err := records.Get(ctx, rec.RecordID)

	// THEN
	require.NoError(t, err)
	assert.Equal(t, rec.RecordID, got.RecordID)
	assert.Equal(t, int32(3), backend.gets.Load())
}

func TestGet_GivesUpAfterRetries(t *testing.T) {
	ctx := context.Background()
	backend := &flakyStore{TxStore: store.NewMemory()}
	records := collection.NewRecordStore(backend, collection.WithReadRetries(1, time.Millisecond))
	backend.failures.Store(5)

	_, err := records.Get(ctx, 1)

	assert.ErrorIs(t, err, collection.ErrStorage)
	assert.Equal(t, int32(2), backend.gets.Load())
}

func TestGet_NotFoundIsNotRetried(t *testing.T) {
	backend := &flakyStore{TxStore: store.NewMemory()}
	records := collection.NewRecordStore(backend, collection.WithReadRetries(3, time.Millisecond))

	_, err := records.Get(context.Background(), 42)

	assert.ErrorIs(t, err, collection.ErrNotFound)
	assert.Equal(t, int32(1), backend.gets.Load())
}

func TestHistory_EmptyIsNotNil(t *testing.T) {
	records := newRecords(t)

	recs, err := records.History(context.Background(), 404)

	require.NoError(t, err)
	assert.NotNil(t, recs)
	assert.Empty(t, recs)
}

func TestQueryService_Presets(t *testing.T) {
	// GIVEN: 3 read-only and 2 editable records
	ctx := context.Background()
	records := newRecords(t)
	for i := 0; i < 5; i++ {
		_, err := records.Create(ctx, collection.Fields{LogicalID: int64(i % 2)}, i < 3, "alice")
		require.NoError(t, err)
	}
	q := collection.NewQueryService(records)

	// WHEN / THEN
	ro, err := q.ReadOnly(ctx, collection.Page{})
	require.NoError(t, err)
	assert.Len(t, ro, 3)

	ed, err := q.Editable(ctx, collection.Page{})
	require.NoError(t, err)
	assert.Len(t, ed, 2)

	page, err := q.List(ctx, collection.ListParams{Page: collection.Page{Skip: 1, Limit: 2}})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Less(t, page[0].RecordID, page[1].RecordID)

	one := int64(1)
	byID, err := q.List(ctx, collection.ListParams{Filter: collection.Filter{LogicalID: &one}})
	require.NoError(t, err)
	assert.Len(t, byID, 2)
}
