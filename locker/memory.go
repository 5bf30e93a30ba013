/*
Package locker serializes writers per carryover chain.

PURPOSE:
  Two batches touching the same (store, item) both read the previous day's
  buckets and then write; interleaved, one of them computes from stale
  state. Holding the chain lock across read-compute-write excludes that.
  Different chains never wait on each other.

IMPLEMENTATIONS:
  Memory: in-process, one semaphore per key, reference counted
  Redis:  SET NX PX per key, for several server instances sharing one database

ORDERING:
  Keys are deduplicated and acquired in sorted order (ledger.SortKeys),
  so two callers with overlapping key sets cannot deadlock.
*/
package locker

import (
	"context"
	"sync"

	"github.com/warp/freshstock/ledger"
)

// =============================================================================
// MEMORY LOCKER
// =============================================================================

// Memory is an in-process ledger.Locker.
type Memory struct {
	mu    sync.Mutex
	slots map[ledger.Key]*slot
}

type slot struct {
	sem  chan struct{}
	refs int
}

func NewMemory() *Memory {
	return &Memory{slots: make(map[ledger.Key]*slot)}
}

// Lock acquires every key or none. It gives up when ctx is done.
func (m *Memory) Lock(ctx context.Context, keys []ledger.Key) (func(), error) {
	sorted := ledger.SortKeys(keys)
	held := make([]ledger.Key, 0, len(sorted))

	for _, k := range sorted {
		s := m.acquireSlot(k)
		select {
		case s.sem <- struct{}{}:
			held = append(held, k)
		case <-ctx.Done():
			m.releaseSlot(k)
			m.unlock(held)
			return nil, ctx.Err()
		}
	}

	var once sync.Once
	return func() { once.Do(func() { m.unlock(held) }) }, nil
}

func (m *Memory) unlock(keys []ledger.Key) {
	for i := len(keys) - 1; i >= 0; i-- {
		m.mu.Lock()
		s := m.slots[keys[i]]
		m.mu.Unlock()
		<-s.sem
		m.releaseSlot(keys[i])
	}
}

// acquireSlot returns the slot for k, registering interest so it is not dropped.
func (m *Memory) acquireSlot(k ledger.Key) *slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[k]
	if !ok {
		s = &slot{sem: make(chan struct{}, 1)}
		m.slots[k] = s
	}
	s.refs++
	return s
}

func (m *Memory) releaseSlot(k ledger.Key) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.slots[k]
	s.refs--
	if s.refs == 0 {
		delete(m.slots, k)
	}
}

// held reports how many keys currently have holders or waiters. Used by tests.
func (m *Memory) held() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slots)
}
