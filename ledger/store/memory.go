// Package store provides in-process ledger.TxStore implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/freshstock/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps rows per (store, item), sorted by date.
type Memory struct {
	mu   sync.RWMutex
	rows map[ledger.Key][]ledger.Row
}

func NewMemory() *Memory {
	return &Memory{rows: make(map[ledger.Key][]ledger.Row)}
}

func (m *Memory) FetchBuckets(_ context.Context, storeID ledger.StoreID, itemID ledger.ItemID, date ledger.Date) (ledger.Buckets, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fetchBucketsLocked(ledger.Key{StoreID: storeID, ItemID: itemID}, date)
}

func (m *Memory) FetchBucketsBatch(_ context.Context, storeID ledger.StoreID, date ledger.Date, itemIDs []ledger.ItemID) (map[ledger.ItemID]ledger.Buckets, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fetchBatchLocked(storeID, date, itemIDs), nil
}

func (m *Memory) FetchRowsFrom(_ context.Context, storeID ledger.StoreID, itemID ledger.ItemID, start ledger.Date, end *ledger.Date) ([]ledger.Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rowsFromLocked(ledger.Key{StoreID: storeID, ItemID: itemID}, start, end), nil
}

// UpsertRows inserts or overwrites rows. Atomic: the whole batch is applied under one lock.
func (m *Memory) UpsertRows(_ context.Context, rows []ledger.Row) ([]ledger.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upsertLocked(rows), nil
}

func (m *Memory) UpdateRow(_ context.Context, row ledger.Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLocked(row)
}

// RowsOnDate implements ledger.Reader.
func (m *Memory) RowsOnDate(_ context.Context, storeID ledger.StoreID, date ledger.Date) ([]ledger.Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.Row
	for k, rows := range m.rows {
		if k.StoreID != storeID {
			continue
		}
		if i, ok := indexOf(rows, date); ok {
			result = append(result, rows[i])
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ItemID < result[j].ItemID })
	return result, nil
}

// Keys implements ledger.Reader.
func (m *Memory) Keys(_ context.Context) ([]ledger.Key, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]ledger.Key, 0, len(m.rows))
	for k, rows := range m.rows {
		if len(rows) > 0 {
			keys = append(keys, k)
		}
	}
	return ledger.SortKeys(keys), nil
}

// =============================================================================
// LOCKED HELPERS - Caller holds m.mu
// =============================================================================

func (m *Memory) fetchBucketsLocked(k ledger.Key, date ledger.Date) (ledger.Buckets, bool, error) {
	rows := m.rows[k]
	if i, ok := indexOf(rows, date); ok {
		return rows[i].Carryover(), true, nil
	}
	return ledger.Buckets{}, false, nil
}

func (m *Memory) fetchBatchLocked(storeID ledger.StoreID, date ledger.Date, itemIDs []ledger.ItemID) map[ledger.ItemID]ledger.Buckets {
	result := make(map[ledger.ItemID]ledger.Buckets, len(itemIDs))
	for _, id := range itemIDs {
		if b, ok, _ := m.fetchBucketsLocked(ledger.Key{StoreID: storeID, ItemID: id}, date); ok {
			result[id] = b
		}
	}
	return result
}

func (m *Memory) rowsFromLocked(k ledger.Key, start ledger.Date, end *ledger.Date) []ledger.Row {
	var result []ledger.Row
	for _, r := range m.rows[k] {
		if r.Date.Before(start) {
			continue
		}
		if end != nil && r.Date.After(*end) {
			break
		}
		result = append(result, r)
	}
	return result
}

func (m *Memory) upsertLocked(rows []ledger.Row) []ledger.Row {
	out := make([]ledger.Row, len(rows))
	for n, r := range rows {
		k := r.Key()
		existing := m.rows[k]

		if i, ok := indexOf(existing, r.Date); ok {
			r.ID = existing[i].ID
			existing[i] = r
			out[n] = r
			continue
		}

		// Binary search for insertion point
		i := sort.Search(len(existing), func(i int) bool {
			return existing[i].Date.After(r.Date)
		})
		existing = append(existing, ledger.Row{})
		copy(existing[i+1:], existing[i:])
		existing[i] = r
		m.rows[k] = existing
		out[n] = r
	}
	return out
}

func (m *Memory) updateLocked(row ledger.Row) error {
	rows := m.rows[row.Key()]
	i, ok := indexOf(rows, row.Date)
	if !ok {
		return fmt.Errorf("%w: %s on %s", ledger.ErrRowNotFound, row.Key(), row.Date)
	}
	stored := rows[i]
	rows[i] = stored.WithDerived(row.Derived())
	return nil
}

func indexOf(rows []ledger.Row, date ledger.Date) (int, bool) {
	i := sort.Search(len(rows), func(i int) bool { return !rows[i].Date.Before(date) })
	return i, i < len(rows) && rows[i].Date.Equal(date)
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// The write lock is held for the whole of fn, so units of work never interleave.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()

	if err := fn(&txMemoryView{parent: tm}); err != nil {
		tm.rows = snapshot
		return err
	}
	if err := ctx.Err(); err != nil {
		tm.rows = snapshot
		return err
	}
	return nil
}

func (tm *TxMemory) snapshot() map[ledger.Key][]ledger.Row {
	cp := make(map[ledger.Key][]ledger.Row, len(tm.rows))
	for k, v := range tm.rows {
		cp[k] = append([]ledger.Row{}, v...)
	}
	return cp
}

// txMemoryView is the Store handed to fn; the parent lock is already held.
type txMemoryView struct {
	parent *TxMemory
}

func (tv *txMemoryView) FetchBuckets(_ context.Context, storeID ledger.StoreID, itemID ledger.ItemID, date ledger.Date) (ledger.Buckets, bool, error) {
	return tv.parent.fetchBucketsLocked(ledger.Key{StoreID: storeID, ItemID: itemID}, date)
}

func (tv *txMemoryView) FetchBucketsBatch(_ context.Context, storeID ledger.StoreID, date ledger.Date, itemIDs []ledger.ItemID) (map[ledger.ItemID]ledger.Buckets, error) {
	return tv.parent.fetchBatchLocked(storeID, date, itemIDs), nil
}

func (tv *txMemoryView) FetchRowsFrom(_ context.Context, storeID ledger.StoreID, itemID ledger.ItemID, start ledger.Date, end *ledger.Date) ([]ledger.Row, error) {
	return tv.parent.rowsFromLocked(ledger.Key{StoreID: storeID, ItemID: itemID}, start, end), nil
}

func (tv *txMemoryView) UpsertRows(_ context.Context, rows []ledger.Row) ([]ledger.Row, error) {
	return tv.parent.upsertLocked(rows), nil
}

func (tv *txMemoryView) UpdateRow(_ context.Context, row ledger.Row) error {
	return tv.parent.updateLocked(row)
}
