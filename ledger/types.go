/*
Package ledger provides the perishable-stock ledger engine.

PURPOSE:
  Turns raw daily movements (units received, units sold) per store and item
  into derived stock-aging state: waste, remaining stock, and the two
  carryover buckets that feed the next day. Keeps every later day consistent
  when a historical day is corrected.

KEY CONCEPTS IN THIS FILE (types.go):
  - StoreID / ItemID: opaque identifiers of externally owned entities
  - Key: one (store, item) carryover chain
  - Row: one stored ledger row per (store, item, date)
  - Line / Batch: a client movement submission for one store and date
  - Mode: propagate (rederive later days) or freeze (leave them stale)

COMPONENTS:
  aging.go:     Step, the one-day aging function (3-day shelf life, FIFO)
  engine.go:    Engine.Upsert, the batch upsert engine
  recompute.go: Engine.RecomputeFrom, the forward recompute fold
  store.go:     persistence collaborator interfaces
  summary.go:   range totals and waste ratios for reporting

INVARIANTS (per stored row):
  - at most one row per (store, item, date)
  - every quantity is >= 0
  - Remaining == FreshEnd + AgedEnd
  - Received + carried_in == sold_from_stock + Waste + Remaining

SEE ALSO:
  - ledger/store/memory.go: in-memory TxStore for tests
  - store/sqlstore: sqlite / PostgreSQL TxStore
*/
package ledger

import (
	"fmt"
	"strings"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type StoreID string
type ItemID string

// Key identifies one carryover chain. Different keys never share state.
type Key struct {
	StoreID StoreID
	ItemID  ItemID
}

func (k Key) String() string { return fmt.Sprintf("%s:%s", k.StoreID, k.ItemID) }

func (k Key) less(other Key) bool {
	if k.StoreID != other.StoreID {
		return k.StoreID < other.StoreID
	}
	return k.ItemID < other.ItemID
}

// =============================================================================
// ROW - One ledger row per (store, item, date)
// =============================================================================

// Row is a stored ledger row. Received and Sold are inputs; the rest is derived by Step.
type Row struct {
	ID      string
	StoreID StoreID
	ItemID  ItemID
	Date    Date

	Received int64
	Sold     int64

	Waste     int64
	Remaining int64
	FreshEnd  int64
	AgedEnd   int64
}

func (r Row) Key() Key { return Key{StoreID: r.StoreID, ItemID: r.ItemID} }

// Carryover is the bucket state this row hands to the next day.
func (r Row) Carryover() Buckets { return Buckets{Fresh: r.FreshEnd, Aged: r.AgedEnd} }

// Derived returns the derived fields as a DayResult.
func (r Row) Derived() DayResult {
	return DayResult{Waste: r.Waste, Remaining: r.Remaining, End: r.Carryover()}
}

// WithDerived returns a copy of r with the derived fields replaced by res.
func (r Row) WithDerived(res DayResult) Row {
	r.Waste = res.Waste
	r.Remaining = res.Remaining
	r.FreshEnd = res.End.Fresh
	r.AgedEnd = res.End.Aged
	return r
}

// =============================================================================
// BATCH - Client submission for one store and date
// =============================================================================

// Line is one item's movements for the batch date.
type Line struct {
	ItemID   ItemID
	Received int64
	Sold     int64
}

// IsZero reports a line with no movement. Such lines are dropped, not stored.
func (l Line) IsZero() bool { return l.Received == 0 && l.Sold == 0 }

// Batch is a set of movements for one store on one date.
type Batch struct {
	StoreID StoreID
	Date    Date
	Lines   []Line
	Mode    Mode
}

// Mode selects what happens to later days after a batch is written.
type Mode string

const (
	// ModePropagate rederives every later stored day of each affected item.
	ModePropagate Mode = "propagate"
	// ModeFreeze leaves later days with their previously derived values.
	ModeFreeze Mode = "freeze"
)

// ParseMode accepts "propagate", "freeze", or "" (propagate).
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModePropagate:
		return ModePropagate, nil
	case ModeFreeze:
		return ModeFreeze, nil
	default:
		return "", &InvalidMovementError{Reason: fmt.Sprintf("unknown mode %q", s)}
	}
}
