/*
engine.go - Batch upsert engine

PURPOSE:
  Applies one store's movements for one date: resolves each item's
  previous-day carryover in a single batched lookup, derives the day with
  Step, and upserts the rows keyed by (store, item, date). In propagate
  mode it then rederives every later stored day of each affected item.

ATOMICITY:
  Lookup, upsert and cascade run inside one TxStore.WithTx. Either every
  row of the batch and every cascaded correction commits, or none do.

SERIALIZATION:
  Affected keys are locked through the configured Locker before the unit
  of work starts and released after it ends. Different keys proceed in
  parallel. Without a Locker the store's own transaction isolation is the
  only guard.

IDEMPOTENCE:
  Resubmitting an identical batch rewrites identical values.
*/
package ledger

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// =============================================================================
// ENGINE
// =============================================================================

// Engine runs batch upserts and forward recomputes against a TxStore.
// It holds no cached state between calls.
type Engine struct {
	store    TxStore
	locker   Locker
	observer Observer
	log      zerolog.Logger
	newID    func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLocker serializes each carryover chain through l.
func WithLocker(l Locker) Option { return func(e *Engine) { e.locker = l } }

// WithObserver reports outcomes to o (metrics).
func WithObserver(o Observer) Option { return func(e *Engine) { e.observer = o } }

// WithLogger sets the engine logger.
func WithLogger(l zerolog.Logger) Option { return func(e *Engine) { e.log = l } }

// WithIDGenerator overrides row ID generation.
func WithIDGenerator(fn func() string) Option { return func(e *Engine) { e.newID = fn } }

// NewEngine creates an engine over store.
func NewEngine(store TxStore, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		locker:   nopLocker{},
		observer: nopObserver{},
		log:      zerolog.Nop(),
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// =============================================================================
// BATCH UPSERT
// =============================================================================

// Upsert persists the batch and, in propagate mode, rederives later days.
// Returns the persisted rows in submitted line order, zero lines excluded.
func (e *Engine) Upsert(ctx context.Context, batch Batch) (rows []Row, err error) {
	started := time.Now()
	mode, err := ParseMode(string(batch.Mode))
	if err != nil {
		return nil, err
	}
	defer func() { e.observer.BatchApplied(mode, len(rows), time.Since(started), err) }()

	active, err := activeLines(batch)
	if err != nil {
		return nil, err
	}

	itemIDs := make([]ItemID, len(active))
	keys := make([]Key, len(active))
	for i, l := range active {
		itemIDs[i] = l.ItemID
		keys[i] = Key{StoreID: batch.StoreID, ItemID: l.ItemID}
	}

	unlock, err := e.locker.Lock(ctx, keys)
	if err != nil {
		return nil, Persistence("lock keys", err)
	}
	defer unlock()

	log := e.log.With().
		Str("store_id", string(batch.StoreID)).
		Stringer("date", batch.Date).
		Str("mode", string(mode)).
		Logger()

	var cascades []RecomputeResult
	err = e.store.WithTx(ctx, func(s Store) error {
		prevDate := batch.Date.AddDays(-1)
		prev, err := s.FetchBucketsBatch(ctx, batch.StoreID, prevDate, itemIDs)
		if err != nil {
			return Persistence("fetch carryover", err)
		}

		records := make([]Row, len(active))
		for i, l := range active {
			carry := prev[l.ItemID]
			if !carry.Valid() {
				return &InconsistentCarryoverError{
					Key:     keys[i],
					Date:    prevDate,
					Buckets: carry,
					Reason:  "negative bucket",
				}
			}
			if !carry.CanReceive(l.Received) {
				return &InvalidMovementError{ItemID: l.ItemID, Received: l.Received, Sold: l.Sold,
					Reason: "received exceeds stock capacity"}
			}
			records[i] = Row{
				ID:       e.newID(),
				StoreID:  batch.StoreID,
				ItemID:   l.ItemID,
				Date:     batch.Date,
				Received: l.Received,
				Sold:     l.Sold,
			}.WithDerived(Step(carry, l.Received, l.Sold))
		}

		persisted, err := s.UpsertRows(ctx, records)
		if err != nil {
			return Persistence("upsert rows", err)
		}

		if mode == ModePropagate {
			next := batch.Date.AddDays(1)
			for _, k := range keys {
				res, err := recompute(ctx, s, k, next, nil)
				if err != nil {
					return err
				}
				cascades = append(cascades, res)
			}
		}

		rows = persisted
		return nil
	})
	if err != nil {
		log.Error().Err(err).Int("lines", len(active)).Msg("batch upsert failed")
		return nil, Persistence("commit batch", err)
	}

	updated := 0
	for _, res := range cascades {
		updated += res.Updated
		e.observer.Recomputed(res)
	}
	log.Info().Int("rows", len(rows)).Int("cascade_updated", updated).Msg("batch upserted")
	return rows, nil
}

// activeLines validates the batch and drops zero-movement lines.
func activeLines(batch Batch) ([]Line, error) {
	if batch.StoreID == "" {
		return nil, &InvalidMovementError{Reason: "store_id is required"}
	}
	if batch.Date.IsZero() {
		return nil, &InvalidMovementError{Reason: "date is required"}
	}

	seen := make(map[ItemID]bool, len(batch.Lines))
	active := make([]Line, 0, len(batch.Lines))
	for _, l := range batch.Lines {
		if l.ItemID == "" {
			return nil, &InvalidMovementError{Received: l.Received, Sold: l.Sold, Reason: "item_id is required"}
		}
		if l.Received < 0 || l.Sold < 0 {
			return nil, &InvalidMovementError{ItemID: l.ItemID, Received: l.Received, Sold: l.Sold,
				Reason: "quantities must be non-negative"}
		}
		if seen[l.ItemID] {
			return nil, &InvalidMovementError{ItemID: l.ItemID, Received: l.Received, Sold: l.Sold,
				Reason: "item appears more than once in batch"}
		}
		seen[l.ItemID] = true
		if !l.IsZero() {
			active = append(active, l)
		}
	}
	if len(active) == 0 {
		return nil, ErrNoEffectiveChange
	}
	return active, nil
}

// SortKeys orders keys by store then item, removing duplicates.
// Lockers acquire in this order so two writers never wait on each other in a cycle.
func SortKeys(keys []Key) []Key {
	out := make([]Key, 0, len(keys))
	seen := make(map[Key]bool, len(keys))
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].less(out[j]) })
	return out
}
