package sqlstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/freshstock/ledger"
)

var d1 = ledger.NewDate(2025, 3, 1)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func row(id, item string, date ledger.Date, received int64) ledger.Row {
	return ledger.Row{
		ID: id, StoreID: "s1", ItemID: ledger.ItemID(item), Date: date,
		Received: received, Remaining: received, FreshEnd: received,
	}
}

func TestDialectFor(t *testing.T) {
	for _, name := range []string{"sqlite", "sqlite3", "SQLite3"} {
		d, err := dialectFor(name)
		require.NoError(t, err)
		assert.Equal(t, DriverSQLite, d.driver)
		assert.True(t, d.serialize)
	}
	for _, name := range []string{"postgres", "postgresql", "pgx"} {
		d, err := dialectFor(name)
		require.NoError(t, err)
		assert.Equal(t, DriverPostgres, d.driver)
		assert.NotEmpty(t, d.keyLockSQL)
	}
	_, err := dialectFor("mysql")
	assert.Error(t, err)
}

func TestDialect_DSN(t *testing.T) {
	d, _ := dialectFor("sqlite3")
	assert.Equal(t, "x.db?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", d.dsn("x.db"))
	assert.Equal(t, "x.db?cache=shared&_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", d.dsn("x.db?cache=shared"))

	pg, _ := dialectFor("pgx")
	assert.Equal(t, "postgres://localhost/db", pg.dsn("postgres://localhost/db"))
}

func TestStore_UpsertAndFetch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// WHEN: two days are inserted
	out, err := s.UpsertRows(ctx, []ledger.Row{row("a", "milk", d1, 4), row("b", "milk", d1.AddDays(1), 6)})

	// THEN: rows come back with their dates intact
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, row("a", "milk", d1, 4), out[0])
	assert.Equal(t, d1.AddDays(1), out[1].Date)

	rows, err := s.FetchRowsFrom(ctx, "s1", "milk", d1, nil)
	require.NoError(t, err)
	assert.Equal(t, out, rows)

	b, found, err := s.FetchBuckets(ctx, "s1", "milk", d1.AddDays(1))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, ledger.Buckets{Fresh: 6}, b)

	_, found, err = s.FetchBuckets(ctx, "s1", "milk", d1.AddDays(2))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_UpsertOverwritesAndKeepsID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertRows(ctx, []ledger.Row{row("a", "milk", d1, 4)})
	require.NoError(t, err)

	out, err := s.UpsertRows(ctx, []ledger.Row{row("other", "milk", d1, 9)})

	require.NoError(t, err)
	assert.Equal(t, "a", out[0].ID)
	assert.Equal(t, int64(9), out[0].Received)

	rows, err := s.FetchRowsFrom(ctx, "s1", "milk", d1, nil)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestStore_FetchBucketsBatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.UpsertRows(ctx, []ledger.Row{
		row("a", "milk", d1, 4), row("b", "eggs", d1, 6), row("c", "bread", d1.AddDays(1), 2),
	})
	require.NoError(t, err)

	got, err := s.FetchBucketsBatch(ctx, "s1", d1, []ledger.ItemID{"milk", "eggs", "bread"})

	require.NoError(t, err)
	assert.Equal(t, map[ledger.ItemID]ledger.Buckets{"milk": {Fresh: 4}, "eggs": {Fresh: 6}}, got)

	empty, err := s.FetchBucketsBatch(ctx, "s1", d1, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStore_FetchRowsFromRange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.UpsertRows(ctx, []ledger.Row{
		row("c", "milk", d1.AddDays(6), 3), row("a", "milk", d1, 1), row("b", "milk", d1.AddDays(3), 2),
	})
	require.NoError(t, err)

	end := d1.AddDays(5)
	rows, err := s.FetchRowsFrom(ctx, "s1", "milk", d1.AddDays(1), &end)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "b", rows[0].ID)

	all, err := s.FetchRowsFrom(ctx, "s1", "milk", d1, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, []string{all[0].ID, all[1].ID, all[2].ID})
}

func TestStore_UpdateRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.UpsertRows(ctx, []ledger.Row{row("a", "milk", d1, 4)})
	require.NoError(t, err)

	upd := row("a", "milk", d1, 4).WithDerived(ledger.DayResult{Waste: 1, Remaining: 3, End: ledger.Buckets{Fresh: 2, Aged: 1}})
	require.NoError(t, s.UpdateRow(ctx, upd))

	rows, err := s.FetchRowsFrom(ctx, "s1", "milk", d1, nil)
	require.NoError(t, err)
	assert.Equal(t, upd, rows[0])

	err = s.UpdateRow(ctx, row("a", "milk", d1.AddDays(1), 4))
	assert.ErrorIs(t, err, ledger.ErrRowNotFound)
}

func TestStore_CheckConstraintsRejectInvalidRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	bad := row("a", "milk", d1, 4)
	bad.Remaining = 5 // != fresh + aged

	_, err := s.UpsertRows(ctx, []ledger.Row{bad})
	assert.Error(t, err)

	neg := row("b", "milk", d1, -1)
	_, err = s.UpsertRows(ctx, []ledger.Row{neg})
	assert.Error(t, err)
}

func TestStore_WithTxRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx ledger.Store) error {
		if _, err := tx.UpsertRows(ctx, []ledger.Row{row("a", "milk", d1, 4)}); err != nil {
			return err
		}
		// Visible inside the unit of work
		b, found, err := tx.FetchBuckets(ctx, "s1", "milk", d1)
		if err != nil {
			return err
		}
		assert.True(t, found)
		assert.Equal(t, int64(4), b.Fresh)
		return boom
	})

	require.ErrorIs(t, err, boom)
	rows, err := s.FetchRowsFrom(ctx, "s1", "milk", d1, nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestStore_Reader(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.UpsertRows(ctx, []ledger.Row{
		row("a", "milk", d1, 1), row("b", "eggs", d1, 1), row("c", "eggs", d1.AddDays(1), 1),
		{ID: "d", StoreID: "s2", ItemID: "milk", Date: d1},
	})
	require.NoError(t, err)

	rows, err := s.RowsOnDate(ctx, "s1", d1)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, ledger.ItemID("eggs"), rows[0].ItemID)
	assert.Equal(t, ledger.ItemID("milk"), rows[1].ItemID)

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []ledger.Key{{StoreID: "s1", ItemID: "eggs"}, {StoreID: "s1", ItemID: "milk"}, {StoreID: "s2", ItemID: "milk"}}, keys)
}

func TestStore_MigrateIsIdempotent(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, s.Ping(context.Background()))
	assert.Equal(t, DriverSQLite, s.Driver())
}

// =============================================================================
// ENGINE ON SQLITE
// =============================================================================

func TestEngine_OnSQLite(t *testing.T) {
	s := newTestStore(t)
	e := ledger.NewEngine(s)
	ctx := context.Background()

	// GIVEN: three days of milk
	for i, l := range []ledger.Line{
		{ItemID: "milk", Received: 10},
		{ItemID: "milk", Sold: 3},
		{ItemID: "milk", Received: 2, Sold: 1},
	} {
		_, err := e.Upsert(ctx, ledger.Batch{StoreID: "s1", Date: d1.AddDays(i), Lines: []ledger.Line{l}})
		require.NoError(t, err)
	}

	// WHEN: day 1 is corrected
	_, err := e.Upsert(ctx, ledger.Batch{StoreID: "s1", Date: d1, Lines: []ledger.Line{{ItemID: "milk", Received: 20}}})
	require.NoError(t, err)

	// THEN: later days were rederived in the same unit of work
	rows, err := s.FetchRowsFrom(ctx, "s1", "milk", d1, nil)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, ledger.DayResult{Remaining: 17, End: ledger.Buckets{Aged: 17}}, rows[1].Derived())
	// day 3: 17 aged, sell 1, 16 expire; 2 received stay fresh
	assert.Equal(t, ledger.DayResult{Waste: 16, Remaining: 2, End: ledger.Buckets{Fresh: 2}}, rows[2].Derived())

	res, err := e.RecomputeFrom(ctx, "s1", "milk", d1, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Updated)
}

func TestEngine_OnSQLiteRollsBackInvalidBatch(t *testing.T) {
	s := newTestStore(t)
	e := ledger.NewEngine(s)
	ctx := context.Background()

	_, err := e.Upsert(ctx, ledger.Batch{StoreID: "s1", Date: d1, Lines: []ledger.Line{
		{ItemID: "milk", Received: 1}, {ItemID: "eggs", Received: -1},
	}})
	require.ErrorIs(t, err, ledger.ErrInvalidMovement)

	rows, err := s.RowsOnDate(ctx, "s1", d1)
	require.NoError(t, err)
	assert.Empty(t, rows)
}
