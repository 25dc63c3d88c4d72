// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/collections/collection"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

var _ collection.TxStore = (*Memory)(nil)

// Memory keeps records in insertion order. Record ids come from a counter
// that is never rewound, so removed ids are not reused.
type Memory struct {
	mu      sync.RWMutex
	records []collection.Record
	byID    map[int64]int // record id -> index in records
	nextID  int64
}

func NewMemory() *Memory {
	return &Memory{
		byID:   make(map[int64]int),
		nextID: 1,
	}
}

// Insert assigns the next record id and appends the record.
func (m *Memory) Insert(_ context.Context, rec collection.Record) (collection.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(rec), nil
}

func (m *Memory) insertLocked(rec collection.Record) collection.Record {
	rec.RecordID = m.nextID
	m.nextID++
	m.byID[rec.RecordID] = len(m.records)
	m.records = append(m.records, cloneRecord(rec))
	return cloneRecord(rec)
}

func (m *Memory) Get(_ context.Context, recordID int64) (collection.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLocked(recordID)
}

func (m *Memory) getLocked(recordID int64) (collection.Record, error) {
	i, ok := m.byID[recordID]
	if !ok {
		return collection.Record{}, collection.NotFoundError(recordID)
	}
	return cloneRecord(m.records[i]), nil
}

func (m *Memory) ListByLogicalID(_ context.Context, logicalID int64) ([]collection.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listByLogicalIDLocked(logicalID), nil
}

func (m *Memory) listByLogicalIDLocked(logicalID int64) []collection.Record {
	var result []collection.Record
	for _, rec := range m.records {
		if rec.LogicalID == logicalID {
			result = append(result, cloneRecord(rec))
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		if !result[i].LastUpdatedAt.Equal(result[j].LastUpdatedAt) {
			return result[i].LastUpdatedAt.After(result[j].LastUpdatedAt)
		}
		return result[i].RecordID > result[j].RecordID
	})
	return result
}

func (m *Memory) List(_ context.Context, filter collection.Filter, skip, limit int) ([]collection.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLocked(filter, skip, limit), nil
}

func (m *Memory) listLocked(filter collection.Filter, skip, limit int) []collection.Record {
	result := []collection.Record{}
	matched := 0
	for _, rec := range m.records {
		if filter.LogicalID != nil && rec.LogicalID != *filter.LogicalID {
			continue
		}
		if filter.ReadOnly != nil && rec.ReadOnly != *filter.ReadOnly {
			continue
		}
		matched++
		if matched <= skip {
			continue
		}
		if limit > 0 && len(result) >= limit {
			break
		}
		result = append(result, cloneRecord(rec))
	}
	return result
}

func (m *Memory) Save(_ context.Context, rec collection.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked(rec)
}

func (m *Memory) saveLocked(rec collection.Record) error {
	i, ok := m.byID[rec.RecordID]
	if !ok {
		return collection.NotFoundError(rec.RecordID)
	}
	m.records[i] = cloneRecord(rec)
	return nil
}

func (m *Memory) Remove(_ context.Context, recordID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeLocked(recordID)
}

func (m *Memory) removeLocked(recordID int64) error {
	i, ok := m.byID[recordID]
	if !ok {
		return collection.NotFoundError(recordID)
	}
	m.records = append(m.records[:i], m.records[i+1:]...)
	delete(m.byID, recordID)
	for j := i; j < len(m.records); j++ {
		m.byID[m.records[j].RecordID] = j
	}
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn while holding the write lock. Each write inside fn
// records how to undo itself; on error the undo log is replayed in reverse.
func (m *Memory) WithTx(ctx context.Context, fn func(collection.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &txMemoryView{parent: m}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// insertAtLocked puts rec back at index i and reindexes what follows.
func (m *Memory) insertAtLocked(i int, rec collection.Record) {
	m.records = append(m.records, collection.Record{})
	copy(m.records[i+1:], m.records[i:])
	m.records[i] = rec
	for j := i; j < len(m.records); j++ {
		m.byID[m.records[j].RecordID] = j
	}
}

// txMemoryView runs against the parent with the lock already held.
type txMemoryView struct {
	parent *Memory
	undo   []func()
}

// rollback restores records; nextID is kept so ids are never reused.
func (tv *txMemoryView) rollback() {
	for i := len(tv.undo) - 1; i >= 0; i-- {
		tv.undo[i]()
	}
	tv.undo = nil
}

func (tv *txMemoryView) Insert(_ context.Context, rec collection.Record) (collection.Record, error) {
	m := tv.parent
	inserted := m.insertLocked(rec)
	tv.undo = append(tv.undo, func() { _ = m.removeLocked(inserted.RecordID) })
	return inserted, nil
}

func (tv *txMemoryView) Get(_ context.Context, recordID int64) (collection.Record, error) {
	return tv.parent.getLocked(recordID)
}

func (tv *txMemoryView) ListByLogicalID(_ context.Context, logicalID int64) ([]collection.Record, error) {
	return tv.parent.listByLogicalIDLocked(logicalID), nil
}

func (tv *txMemoryView) List(_ context.Context, filter collection.Filter, skip, limit int) ([]collection.Record, error) {
	return tv.parent.listLocked(filter, skip, limit), nil
}

func (tv *txMemoryView) Save(_ context.Context, rec collection.Record) error {
	m := tv.parent
	i, ok := m.byID[rec.RecordID]
	if !ok {
		return collection.NotFoundError(rec.RecordID)
	}
	prev := m.records[i]
	if err := m.saveLocked(rec); err != nil {
		return err
	}
	tv.undo = append(tv.undo, func() { m.records[m.byID[prev.RecordID]] = prev })
	return nil
}

func (tv *txMemoryView) Remove(_ context.Context, recordID int64) error {
	m := tv.parent
	i, ok := m.byID[recordID]
	if !ok {
		return collection.NotFoundError(recordID)
	}
	prev := m.records[i]
	if err := m.removeLocked(recordID); err != nil {
		return err
	}
	tv.undo = append(tv.undo, func() { m.insertAtLocked(i, prev) })
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// cloneRecord copies the pointer fields so callers cannot mutate stored state.
func cloneRecord(rec collection.Record) collection.Record {
	rec.Name = cloneString(rec.Name)
	rec.Email = cloneString(rec.Email)
	rec.Contact = cloneString(rec.Contact)
	return rec
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
