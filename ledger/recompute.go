/*
recompute.go - Forward recompute of one carryover chain

PURPOSE:
  After a historical day changes, every later day of the same (store, item)
  depends on it and must be rederived. The walk is a single forward fold over
  the date axis: each day is derivable only from the day before it.

ALGORITHM:
  1. Carryover as of start-1 (missing row => empty buckets)
  2. Stored rows with date >= start (<= end when set), ascending
  3. Calendar days with no stored row age the buckets with no movement and
     are NOT persisted; the ledger stays sparse
  4. A stored row is rederived from its own received/sold; it is rewritten
     only when a derived field differs. received/sold are never touched.
  5. Stops after the last stored row (or end). Never creates rows.
*/
package ledger

import (
	"context"
	"fmt"
	"time"
)

// RecomputeResult describes one recompute walk.
type RecomputeResult struct {
	Key      Key
	Start    Date
	End      *Date
	Examined int   // stored rows visited
	Updated  int   // stored rows rewritten
	GapDays  int   // calendar days aged without a stored row
	Rows     []Row // rewritten rows, ascending by date
}

// RecomputeFrom rederives every stored row of (store, item) from start onwards,
// bounded by end when it is non-nil. It runs in its own unit of work.
func (e *Engine) RecomputeFrom(ctx context.Context, storeID StoreID, itemID ItemID, start Date, end *Date) (RecomputeResult, error) {
	if storeID == "" || itemID == "" {
		return RecomputeResult{}, &InvalidMovementError{Reason: "store_id and item_id are required"}
	}
	if start.IsZero() {
		return RecomputeResult{}, &InvalidMovementError{ItemID: itemID, Reason: "start_date is required"}
	}
	if end != nil && end.Before(start) {
		return RecomputeResult{}, &InvalidMovementError{ItemID: itemID, Reason: "end_date before start_date"}
	}

	key := Key{StoreID: storeID, ItemID: itemID}
	unlock, err := e.locker.Lock(ctx, []Key{key})
	if err != nil {
		return RecomputeResult{}, Persistence("lock keys", err)
	}
	defer unlock()

	started := time.Now()
	var res RecomputeResult
	err = e.store.WithTx(ctx, func(s Store) error {
		var err error
		res, err = recompute(ctx, s, key, start, end)
		return err
	})
	if err != nil {
		e.log.Error().Err(err).Stringer("key", key).Stringer("start", start).Msg("recompute failed")
		return RecomputeResult{}, Persistence("commit recompute", err)
	}

	e.observer.Recomputed(res)
	e.log.Info().
		Str("store_id", string(storeID)).
		Str("item_id", string(itemID)).
		Stringer("start", start).
		Int("examined", res.Examined).
		Int("updated", res.Updated).
		Int("gap_days", res.GapDays).
		Dur("elapsed", time.Since(started)).
		Msg("recompute finished")
	return res, nil
}

// RecomputeAll recomputes every chain known to the store from start onwards,
// one unit of work per chain. It stops at the first failure and returns the
// results of the chains that committed before it.
func (e *Engine) RecomputeAll(ctx context.Context, start Date) ([]RecomputeResult, error) {
	reader, ok := e.store.(Reader)
	if !ok {
		return nil, &PersistenceError{Op: "list keys", Err: errReaderRequired}
	}
	keys, err := reader.Keys(ctx)
	if err != nil {
		return nil, Persistence("list keys", err)
	}

	results := make([]RecomputeResult, 0, len(keys))
	for _, k := range keys {
		res, err := e.RecomputeFrom(ctx, k.StoreID, k.ItemID, start, nil)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// recompute is the fold shared by RecomputeFrom and the Upsert cascade.
// It runs against a Store already bound to the caller's unit of work.
func recompute(ctx context.Context, s Store, key Key, start Date, end *Date) (RecomputeResult, error) {
	res := RecomputeResult{Key: key, Start: start, End: end}

	prevDate := start.AddDays(-1)
	carry, _, err := s.FetchBuckets(ctx, key.StoreID, key.ItemID, prevDate)
	if err != nil {
		return res, Persistence("fetch carryover", err)
	}
	if !carry.Valid() {
		return res, &InconsistentCarryoverError{Key: key, Date: prevDate, Buckets: carry, Reason: "negative bucket"}
	}

	rows, err := s.FetchRowsFrom(ctx, key.StoreID, key.ItemID, start, end)
	if err != nil {
		return res, Persistence("fetch rows", err)
	}

	cur := start
	for _, r := range rows {
		if r.Received < 0 || r.Sold < 0 {
			return res, &InconsistentCarryoverError{Key: key, Date: r.Date, Buckets: r.Carryover(),
				Reason: "negative stored movement"}
		}

		for cur.Before(r.Date) {
			if carry == (Buckets{}) {
				// Empty buckets stay empty on idle days.
				res.GapDays += DaysBetween(cur, r.Date)
				cur = r.Date
				break
			}
			carry = Idle(carry).End
			cur = cur.AddDays(1)
			res.GapDays++
		}

		if !carry.CanReceive(r.Received) {
			return res, &InvalidMovementError{ItemID: key.ItemID, Received: r.Received, Sold: r.Sold,
				Reason: fmt.Sprintf("received on %s exceeds stock capacity", r.Date)}
		}

		res.Examined++
		derived := Step(carry, r.Received, r.Sold)
		if derived != r.Derived() {
			r = r.WithDerived(derived)
			if err := s.UpdateRow(ctx, r); err != nil {
				return res, Persistence("update row", err)
			}
			res.Updated++
			res.Rows = append(res.Rows, r)
		}

		carry = r.Carryover()
		cur = r.Date.AddDays(1)
	}
	return res, nil
}
