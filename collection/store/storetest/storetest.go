// Package storetest is a conformance suite run against every
// collection.TxStore backend.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/collections/collection"
)

// Factory returns an empty backend for one subtest.
type Factory func(t *testing.T) collection.TxStore

// Run exercises the collection.Store contract against backends built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("InsertAssignsIncreasingIDs", func(t *testing.T) { testInsertAssignsIDs(t, newStore(t)) })
	t.Run("GetRoundTrip", func(t *testing.T) { testGetRoundTrip(t, newStore(t)) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newStore(t)) })
	t.Run("HistoryOrdering", func(t *testing.T) { testHistoryOrdering(t, newStore(t)) })
	t.Run("ListFilterAndPage", func(t *testing.T) { testListFilterAndPage(t, newStore(t)) })
	t.Run("SaveOverwrites", func(t *testing.T) { testSaveOverwrites(t, newStore(t)) })
	t.Run("RemoveNeverReusesID", func(t *testing.T) { testRemoveNeverReusesID(t, newStore(t)) })
	t.Run("TxRollback", func(t *testing.T) { testTxRollback(t, newStore(t)) })
	t.Run("TxCommit", func(t *testing.T) { testTxCommit(t, newStore(t)) })
}

var base = time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

func str(s string) *string { return &s }

func record(logicalID int64, readOnly bool, at time.Time) collection.Record {
	return collection.Record{
		Fields: collection.Fields{
			LogicalID: logicalID,
			Name:      str("John Doe"),
			Contact:   str("0712345678"),
			Date:      time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		},
		ReadOnly:      readOnly,
		LastUpdatedBy: "importer",
		LastUpdatedAt: at,
	}
}

func testInsertAssignsIDs(t *testing.T, s collection.TxStore) {
	ctx := context.Background()

	a, err := s.Insert(ctx, record(1, false, base))
	require.NoError(t, err)
	b, err := s.Insert(ctx, record(1, false, base))
	require.NoError(t, err)

	assert.Positive(t, a.RecordID)
	assert.Greater(t, b.RecordID, a.RecordID)
}

func testGetRoundTrip(t *testing.T, s collection.TxStore) {
	ctx := context.Background()

	// GIVEN: a record with a null email and microsecond timestamp
	in := record(1001, true, base.Add(123456*time.Microsecond))
	created, err := s.Insert(ctx, in)
	require.NoError(t, err)

	// WHEN
	got, err := s.Get(ctx, created.RecordID)
	require.NoError(t, err)

	// THEN: every field survives
	assert.Equal(t, created.RecordID, got.RecordID)
	assert.Equal(t, int64(1001), got.LogicalID)
	assert.Equal(t, "John Doe", *got.Name)
	assert.Equal(t, "0712345678", *got.Contact)
	assert.Nil(t, got.Email)
	assert.True(t, got.ReadOnly)
	assert.Equal(t, "importer", got.LastUpdatedBy)
	assert.True(t, in.Date.Equal(got.Date))
	assert.True(t, in.LastUpdatedAt.Equal(got.LastUpdatedAt), "got %v", got.LastUpdatedAt)
}

func testGetMissing(t *testing.T, s collection.TxStore) {
	_, err := s.Get(context.Background(), 999999)
	assert.True(t, errors.Is(err, collection.ErrNotFound))
}

func testHistoryOrdering(t *testing.T, s collection.TxStore) {
	ctx := context.Background()

	// GIVEN: A, B, C for logical id 7 updated at t1 < t2 < t3, plus noise
	a, err := s.Insert(ctx, record(7, false, base))
	require.NoError(t, err)
	c, err := s.Insert(ctx, record(7, false, base.Add(2*time.Hour)))
	require.NoError(t, err)
	b, err := s.Insert(ctx, record(7, false, base.Add(time.Hour)))
	require.NoError(t, err)
	_, err = s.Insert(ctx, record(8, false, base.Add(3*time.Hour)))
	require.NoError(t, err)

	// WHEN
	history, err := s.ListByLogicalID(ctx, 7)
	require.NoError(t, err)

	// THEN: newest first
	require.Len(t, history, 3)
	assert.Equal(t, []int64{c.RecordID, b.RecordID, a.RecordID},
		[]int64{history[0].RecordID, history[1].RecordID, history[2].RecordID})

	// AND: ties are broken by record id, highest first
	d, err := s.Insert(ctx, record(9, false, base))
	require.NoError(t, err)
	e, err := s.Insert(ctx, record(9, false, base))
	require.NoError(t, err)
	tied, err := s.ListByLogicalID(ctx, 9)
	require.NoError(t, err)
	require.Len(t, tied, 2)
	assert.Equal(t, e.RecordID, tied[0].RecordID)
	assert.Equal(t, d.RecordID, tied[1].RecordID)

	none, err := s.ListByLogicalID(ctx, 404)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testListFilterAndPage(t *testing.T, s collection.TxStore) {
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 5; i++ {
		rec, err := s.Insert(ctx, record(int64(i), i%2 == 0, base))
		require.NoError(t, err)
		ids = append(ids, rec.RecordID)
	}

	all, err := s.List(ctx, collection.Filter{}, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, ids[0], all[0].RecordID)

	page, err := s.List(ctx, collection.Filter{}, 1, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[1], page[0].RecordID)
	assert.Equal(t, ids[2], page[1].RecordID)

	readOnly := true
	ro, err := s.List(ctx, collection.Filter{ReadOnly: &readOnly}, 0, 10)
	require.NoError(t, err)
	assert.Len(t, ro, 3)
	for _, rec := range ro {
		assert.True(t, rec.ReadOnly)
	}

	logical := int64(3)
	one, err := s.List(ctx, collection.Filter{LogicalID: &logical}, 0, 10)
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, ids[3], one[0].RecordID)

	past, err := s.List(ctx, collection.Filter{}, 50, 10)
	require.NoError(t, err)
	assert.Empty(t, past)
}

func testSaveOverwrites(t *testing.T, s collection.TxStore) {
	ctx := context.Background()

	rec, err := s.Insert(ctx, record(1, false, base))
	require.NoError(t, err)

	rec.Name = nil
	rec.Email = str("a@b.c")
	rec.LastUpdatedBy = "alice"
	rec.LastUpdatedAt = base.Add(time.Minute)
	require.NoError(t, s.Save(ctx, rec))

	got, err := s.Get(ctx, rec.RecordID)
	require.NoError(t, err)
	assert.Nil(t, got.Name)
	assert.Equal(t, "a@b.c", *got.Email)
	assert.Equal(t, "alice", got.LastUpdatedBy)
	assert.True(t, rec.LastUpdatedAt.Equal(got.LastUpdatedAt))

	rec.RecordID = 999999
	assert.True(t, errors.Is(s.Save(ctx, rec), collection.ErrNotFound))
}

func testRemoveNeverReusesID(t *testing.T, s collection.TxStore) {
	ctx := context.Background()

	a, err := s.Insert(ctx, record(1, false, base))
	require.NoError(t, err)
	require.NoError(t, s.Remove(ctx, a.RecordID))

	_, err = s.Get(ctx, a.RecordID)
	assert.True(t, errors.Is(err, collection.ErrNotFound))
	assert.True(t, errors.Is(s.Remove(ctx, a.RecordID), collection.ErrNotFound))

	b, err := s.Insert(ctx, record(1, false, base))
	require.NoError(t, err)
	assert.Greater(t, b.RecordID, a.RecordID)
}

func testTxRollback(t *testing.T, s collection.TxStore) {
	ctx := context.Background()

	rec, err := s.Insert(ctx, record(1, false, base))
	require.NoError(t, err)

	// GIVEN: a transaction that writes then fails
	boom := errors.New("boom")
	err = s.WithTx(ctx, func(tx collection.Store) error {
		changed := rec
		changed.LastUpdatedBy = "mallory"
		if err := tx.Save(ctx, changed); err != nil {
			return err
		}
		if _, err := tx.Insert(ctx, record(2, false, base)); err != nil {
			return err
		}
		return boom
	})

	// THEN: the error surfaces and nothing was written
	assert.ErrorIs(t, err, boom)
	got, err := s.Get(ctx, rec.RecordID)
	require.NoError(t, err)
	assert.Equal(t, "importer", got.LastUpdatedBy)

	all, err := s.List(ctx, collection.Filter{}, 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func testTxCommit(t *testing.T, s collection.TxStore) {
	ctx := context.Background()

	rec, err := s.Insert(ctx, record(1, false, base))
	require.NoError(t, err)

	err = s.WithTx(ctx, func(tx collection.Store) error {
		got, err := tx.Get(ctx, rec.RecordID)
		if err != nil {
			return err
		}
		got.LastUpdatedBy = "bob"
		if err := tx.Save(ctx, got); err != nil {
			return err
		}
		history, err := tx.ListByLogicalID(ctx, 1)
		if err != nil {
			return err
		}
		assert.Len(t, history, 1)
		return tx.Remove(ctx, rec.RecordID)
	})
	require.NoError(t, err)

	_, err = s.Get(ctx, rec.RecordID)
	assert.True(t, errors.Is(err, collection.ErrNotFound))
}
