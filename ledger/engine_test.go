package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/freshstock/ledger"
	"github.com/warp/freshstock/ledger/store"
	"github.com/warp/freshstock/locker"
)

// =============================================================================
// HELPERS
// =============================================================================

var day1 = ledger.NewDate(2025, time.March, 1)

func day(n int) ledger.Date { return day1.AddDays(n - 1) }

func batch(date ledger.Date, mode ledger.Mode, lines ...ledger.Line) ledger.Batch {
	return ledger.Batch{StoreID: "s1", Date: date, Lines: lines, Mode: mode}
}

func ln(item string, received, sold int64) ledger.Line {
	return ledger.Line{ItemID: ledger.ItemID(item), Received: received, Sold: sold}
}

func rowsOf(t *testing.T, s ledger.Store, item string) []ledger.Row {
	t.Helper()
	rows, err := s.FetchRowsFrom(context.Background(), "s1", ledger.ItemID(item), day1.AddDays(-30), nil)
	require.NoError(t, err)
	return rows
}

// derivedOnly strips identity so chains built by different engines compare equal.
func derivedOnly(rows []ledger.Row) []ledger.Row {
	out := make([]ledger.Row, len(rows))
	for i, r := range rows {
		r.ID = ""
		out[i] = r
	}
	return out
}

type recordingObserver struct {
	mu         sync.Mutex
	batches    []error
	recomputes []ledger.RecomputeResult
}

func (o *recordingObserver) BatchApplied(_ ledger.Mode, _ int, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.batches = append(o.batches, err)
}

func (o *recordingObserver) Recomputed(res ledger.RecomputeResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.recomputes = append(o.recomputes, res)
}

// failingStore fails UpdateRow inside units of work after failAfter successful calls.
type failingStore struct {
	*store.TxMemory
	failAfter int
}

func (f *failingStore) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	return f.TxMemory.WithTx(ctx, func(s ledger.Store) error {
		return fn(&failingView{Store: s, left: f.failAfter})
	})
}

type failingView struct {
	ledger.Store
	left int
}

func (v *failingView) UpdateRow(ctx context.Context, row ledger.Row) error {
	if v.left == 0 {
		return errors.New("disk full")
	}
	v.left--
	return v.Store.UpdateRow(ctx, row)
}

// =============================================================================
// BATCH UPSERT
// =============================================================================

func TestUpsert_FirstDay(t *testing.T) {
	mem := store.NewTxMemory()
	e := ledger.NewEngine(mem)

	rows, err := e.Upsert(context.Background(), batch(day1, "", ln("milk", 10, 4), ln("bread", 5, 0)))

	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, ledger.ItemID("milk"), rows[0].ItemID)
	assert.Equal(t, int64(6), rows[0].Remaining)
	assert.Equal(t, ledger.Buckets{Fresh: 6}, rows[0].Carryover())
	assert.Equal(t, ledger.ItemID("bread"), rows[1].ItemID)
	assert.Equal(t, int64(5), rows[1].Remaining)
}

func TestUpsert_UsesPreviousDayCarryover(t *testing.T) {
	mem := store.NewTxMemory()
	e := ledger.NewEngine(mem)
	ctx := context.Background()

	// GIVEN: days 1 and 2 leave 5 fresh, 2 aged
	_, err := e.Upsert(ctx, batch(day(1), "", ln("milk", 2, 0)))
	require.NoError(t, err)
	_, err = e.Upsert(ctx, batch(day(2), "", ln("milk", 5, 0)))
	require.NoError(t, err)

	// WHEN: day 3 receives 10 and sells 9
	rows, err := e.Upsert(ctx, batch(day(3), "", ln("milk", 10, 9)))

	// THEN
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, ledger.DayResult{Waste: 0, Remaining: 8, End: ledger.Buckets{Fresh: 8}}, rows[0].Derived())
}

func TestUpsert_NoPreviousRowMeansEmptyCarryover(t *testing.T) {
	mem := store.NewTxMemory()
	e := ledger.NewEngine(mem)
	ctx := context.Background()

	// GIVEN: a row two days back, none yesterday
	_, err := e.Upsert(ctx, batch(day(1), "", ln("milk", 10, 0)))
	require.NoError(t, err)

	// WHEN: day 3 is written in freeze mode
	rows, err := e.Upsert(ctx, batch(day(3), ledger.ModeFreeze, ln("milk", 1, 0)))

	// THEN: the day-1 stock is not carried across the missing day 2
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows[0].Remaining)
	assert.Equal(t, int64(0), rows[0].Waste)
}

func TestUpsert_IsIdempotent(t *testing.T) {
	mem := store.NewTxMemory()
	e := ledger.NewEngine(mem)
	ctx := context.Background()

	b := batch(day1, "", ln("milk", 10, 4))
	first, err := e.Upsert(ctx, b)
	require.NoError(t, err)

	second, err := e.Upsert(ctx, b)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, rowsOf(t, mem, "milk"), 1)
}

func TestUpsert_ZeroLinesAreDropped(t *testing.T) {
	mem := store.NewTxMemory()
	e := ledger.NewEngine(mem)

	rows, err := e.Upsert(context.Background(), batch(day1, "", ln("milk", 0, 0), ln("bread", 3, 0)))

	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, ledger.ItemID("bread"), rows[0].ItemID)
	assert.Empty(t, rowsOf(t, mem, "milk"))
}

func TestUpsert_Validation(t *testing.T) {
	cases := []struct {
		name  string
		batch ledger.Batch
		want  error
	}{
		{"all zero", batch(day1, "", ln("milk", 0, 0)), ledger.ErrNoEffectiveChange},
		{"no lines", batch(day1, ""), ledger.ErrNoEffectiveChange},
		{"negative received", batch(day1, "", ln("milk", 5, 0), ln("bread", -1, 0)), ledger.ErrInvalidMovement},
		{"negative sold", batch(day1, "", ln("milk", 0, -2)), ledger.ErrInvalidMovement},
		{"duplicate item", batch(day1, "", ln("milk", 1, 0), ln("milk", 2, 0)), ledger.ErrInvalidMovement},
		{"missing item", batch(day1, "", ln("", 1, 0)), ledger.ErrInvalidMovement},
		{"missing date", batch(ledger.Date{}, "", ln("milk", 1, 0)), ledger.ErrInvalidMovement},
		{"missing store", ledger.Batch{Date: day1, Lines: []ledger.Line{ln("milk", 1, 0)}}, ledger.ErrInvalidMovement},
		{"unknown mode", batch(day1, "sideways", ln("milk", 1, 0)), ledger.ErrInvalidMovement},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mem := store.NewTxMemory()
			e := ledger.NewEngine(mem)

			_, err := e.Upsert(context.Background(), tc.batch)

			require.ErrorIs(t, err, tc.want)
			assert.True(t, ledger.IsClientError(err))
			assert.False(t, ledger.IsRetryable(err))
			assert.Empty(t, rowsOf(t, mem, "milk"))
		})
	}
}

func TestUpsert_NegativeStoredCarryover(t *testing.T) {
	mem := store.NewTxMemory()
	ctx := context.Background()

	// GIVEN: a corrupt stored row
	_, err := mem.UpsertRows(ctx, []ledger.Row{{
		ID: "bad", StoreID: "s1", ItemID: "milk", Date: day(1), FreshEnd: -3, Remaining: -3,
	}})
	require.NoError(t, err)

	// WHEN
	_, err = ledger.NewEngine(mem).Upsert(ctx, batch(day(2), "", ln("milk", 1, 0)))

	// THEN: fatal, not clamped, nothing written
	var ice *ledger.InconsistentCarryoverError
	require.ErrorAs(t, err, &ice)
	assert.Equal(t, day(1), ice.Date)
	assert.False(t, ledger.IsRetryable(err))
	assert.Len(t, rowsOf(t, mem, "milk"), 1)
}

func TestUpsert_ReceivedBeyondCapacityIsInvalid(t *testing.T) {
	mem := store.NewTxMemory()
	e := ledger.NewEngine(mem)
	ctx := context.Background()

	// GIVEN: 10 units carried out of day 1
	_, err := e.Upsert(ctx, batch(day(1), "", ln("milk", 10, 0)))
	require.NoError(t, err)

	// WHEN: day 2 receives more than fits next to them
	_, err = e.Upsert(ctx, batch(day(2), "", ln("milk", math.MaxInt64, 0)))

	// THEN: rejected as bad input, not a retryable storage fault
	require.ErrorIs(t, err, ledger.ErrInvalidMovement)
	assert.Equal(t, ledger.CodeInvalidMovement, ledger.ErrorCode(err))
	assert.False(t, ledger.IsRetryable(err))
	rows := rowsOf(t, mem, "milk")
	require.Len(t, rows, 1)
	assert.Equal(t, int64(10), rows[0].Remaining)
}

func TestUpsert_CascadeBeyondCapacityRollsBack(t *testing.T) {
	mem := store.NewTxMemory()
	e := ledger.NewEngine(mem)
	ctx := context.Background()

	_, err := e.Upsert(ctx, batch(day(2), "", ln("milk", 10, 0)))
	require.NoError(t, err)
	before := rowsOf(t, mem, "milk")

	// WHEN: day 1 fits on its own but overflows day 2 once propagated
	_, err = e.Upsert(ctx, batch(day(1), "", ln("milk", math.MaxInt64, 0)))

	// THEN: the whole batch is rolled back
	require.ErrorIs(t, err, ledger.ErrInvalidMovement)
	assert.Equal(t, before, rowsOf(t, mem, "milk"))
}

// =============================================================================
// PROPAGATE / FREEZE
// =============================================================================

func TestUpsert_PropagateMatchesFromScratch(t *testing.T) {
	ctx := context.Background()
	movements := map[int][]ledger.Line{
		1: {ln("milk", 10, 2), ln("eggs", 12, 0)},
		2: {ln("milk", 0, 3), ln("eggs", 0, 5)},
		3: {ln("milk", 6, 4), ln("eggs", 1, 1)},
		4: {ln("milk", 0, 1), ln("eggs", 6, 2)},
		5: {ln("milk", 8, 9), ln("eggs", 0, 4)},
	}
	corrected := []ledger.Line{ln("milk", 0, 7), ln("eggs", 3, 0)}

	// GIVEN: five days in order, then day 2 rewritten in propagate mode
	mem := store.NewTxMemory()
	e := ledger.NewEngine(mem)
	for d := 1; d <= 5; d++ {
		_, err := e.Upsert(ctx, batch(day(d), "", movements[d]...))
		require.NoError(t, err)
	}
	_, err := e.Upsert(ctx, batch(day(2), ledger.ModePropagate, corrected...))
	require.NoError(t, err)

	// AND: the same history built from scratch with the correction in place
	fresh := store.NewTxMemory()
	ef := ledger.NewEngine(fresh)
	movements[2] = corrected
	for d := 1; d <= 5; d++ {
		_, err := ef.Upsert(ctx, batch(day(d), ledger.ModeFreeze, movements[d]...))
		require.NoError(t, err)
	}

	// THEN: identical derived state
	for _, item := range []string{"milk", "eggs"} {
		assert.Equal(t, derivedOnly(rowsOf(t, fresh, item)), derivedOnly(rowsOf(t, mem, item)), item)

		res, err := e.RecomputeFrom(ctx, "s1", ledger.ItemID(item), day1, nil)
		require.NoError(t, err)
		assert.Equal(t, 0, res.Updated, item)
	}
}

func TestUpsert_FreezeLeavesLaterDaysStale(t *testing.T) {
	mem := store.NewTxMemory()
	e := ledger.NewEngine(mem)
	ctx := context.Background()

	_, err := e.Upsert(ctx, batch(day(1), "", ln("milk", 10, 0)))
	require.NoError(t, err)
	_, err = e.Upsert(ctx, batch(day(2), "", ln("milk", 0, 3)))
	require.NoError(t, err)
	before := rowsOf(t, mem, "milk")[1]

	// WHEN: day 1 is corrected in freeze mode
	rows, err := e.Upsert(ctx, batch(day(1), ledger.ModeFreeze, ln("milk", 20, 0)))
	require.NoError(t, err)

	// THEN: day 1 changed, day 2 did not
	assert.Equal(t, int64(20), rows[0].Remaining)
	assert.Equal(t, before, rowsOf(t, mem, "milk")[1])
}

func TestUpsert_OverwriteKeepsRowID(t *testing.T) {
	mem := store.NewTxMemory()
	ids := 0
	e := ledger.NewEngine(mem, ledger.WithIDGenerator(func() string {
		ids++
		return fmt.Sprintf("row-%d", ids)
	}))
	ctx := context.Background()

	first, err := e.Upsert(ctx, batch(day1, "", ln("milk", 10, 0)))
	require.NoError(t, err)
	second, err := e.Upsert(ctx, batch(day1, "", ln("milk", 12, 0)))
	require.NoError(t, err)

	assert.Equal(t, "row-1", first[0].ID)
	assert.Equal(t, "row-1", second[0].ID)
	assert.Equal(t, int64(12), second[0].Received)
}

// =============================================================================
// ATOMICITY
// =============================================================================

func TestUpsert_CascadeFailureRollsBackBatch(t *testing.T) {
	ctx := context.Background()
	fs := &failingStore{TxMemory: store.NewTxMemory(), failAfter: 1}
	e := ledger.NewEngine(fs)

	// GIVEN: three days of milk (no cascade updates needed when written in order)
	for d := 1; d <= 3; d++ {
		_, err := e.Upsert(ctx, batch(day(d), "", ln("milk", 5, 1)))
		require.NoError(t, err)
	}
	before := rowsOf(t, fs, "milk")

	// WHEN: day 1 is corrected and the second cascaded update fails
	_, err := e.Upsert(ctx, batch(day(1), "", ln("milk", 9, 0)))

	// THEN: retryable persistence failure, and nothing of the batch is visible
	require.ErrorIs(t, err, ledger.ErrPersistence)
	assert.True(t, ledger.IsRetryable(err))
	assert.Equal(t, before, rowsOf(t, fs, "milk"))
}

func TestUpsert_ConcurrentBatchesStayConsistent(t *testing.T) {
	mem := store.NewTxMemory()
	e := ledger.NewEngine(mem, ledger.WithLocker(locker.NewMemory()))
	ctx := context.Background()

	// WHEN: ten days are written concurrently, in no particular order
	var wg sync.WaitGroup
	for d := 1; d <= 10; d++ {
		wg.Add(1)
		go func(d int) {
			defer wg.Done()
			_, err := e.Upsert(ctx, batch(day(d), "", ln("milk", int64(d), int64(d%3))))
			assert.NoError(t, err)
		}(d)
	}
	wg.Wait()

	// THEN: a full recompute finds nothing to fix
	res, err := e.RecomputeFrom(ctx, "s1", "milk", day1, nil)
	require.NoError(t, err)
	assert.Equal(t, 10, res.Examined)
	assert.Equal(t, 0, res.Updated)
}

// =============================================================================
// OBSERVER
// =============================================================================

func TestUpsert_NotifiesObserver(t *testing.T) {
	mem := store.NewTxMemory()
	obs := &recordingObserver{}
	e := ledger.NewEngine(mem, ledger.WithObserver(obs))
	ctx := context.Background()

	_, err := e.Upsert(ctx, batch(day(1), "", ln("milk", 10, 0)))
	require.NoError(t, err)
	_, err = e.Upsert(ctx, batch(day(2), "", ln("milk", 0, 0)))
	require.Error(t, err)

	require.Len(t, obs.batches, 2)
	assert.NoError(t, obs.batches[0])
	assert.ErrorIs(t, obs.batches[1], ledger.ErrNoEffectiveChange)
	require.Len(t, obs.recomputes, 1)
	assert.Equal(t, ledger.Key{StoreID: "s1", ItemID: "milk"}, obs.recomputes[0].Key)
}
