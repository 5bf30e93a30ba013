/*
Package sqlstore provides a SQL-backed implementation of the ledger storage interfaces.

PURPOSE:
  Implements ledger.TxStore and ledger.Reader on top of sqlx, with two
  drivers: sqlite (embedded, dev, tests) and PostgreSQL via pgx (production).
  Schema and queries are shared; only locking differs.

KEY TABLE:
  inventories: one row per (store_id, item_id, date), unique constraint
               uix_inventory_store_item_date, CHECK constraints for
               non-negativity and remaining = fresh + aged.

UPSERT:
  INSERT ... ON CONFLICT (store_id, item_id, date) DO UPDATE ... RETURNING.
  The existing id and created_at survive an overwrite.

CONCURRENCY:
  sqlite:     one connection, units of work serialized by a mutex.
  PostgreSQL: each unit of work takes pg_advisory_xact_lock per carryover
              chain on first touch, released at commit/rollback. Different
              chains proceed in parallel.

USAGE:
  store, err := sqlstore.OpenSQLite("./data/freshstock.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := ledger.NewEngine(store)

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/warp/freshstock/ledger"
)

// Config selects the driver and pool settings.
type Config struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store implements ledger.TxStore and ledger.Reader.
type Store struct {
	db      *sqlx.DB
	dialect dialect
	mu      sync.RWMutex
	now     func() time.Time
}

// Open connects and migrates the schema.
func Open(cfg Config) (*Store, error) {
	d, err := dialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(d.driver, d.dsn(cfg.DSN))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if d.serialize {
		// One connection: a sqlite ":memory:" database lives and dies with it.
		db.SetMaxOpenConns(1)
	} else {
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		if cfg.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		}
	}

	store := &Store{db: db, dialect: d, now: func() time.Time { return time.Now().UTC() }}
	if err := store.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// OpenSQLite opens a sqlite database at path. Use ":memory:" for an in-memory database.
func OpenSQLite(path string) (*Store, error) {
	return Open(Config{Driver: DriverSQLite, DSN: path})
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Driver returns the database/sql driver name in use.
func (s *Store) Driver() string { return s.dialect.driver }

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// LEDGER STORE (ledger.Store interface, outside any unit of work)
// =============================================================================

func (s *Store) readLock() func() {
	if !s.dialect.serialize {
		return func() {}
	}
	s.mu.RLock()
	return s.mu.RUnlock
}

func (s *Store) writeLock() func() {
	if !s.dialect.serialize {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) queries() *queries {
	return &queries{ext: s.db, now: s.now}
}

func (s *Store) FetchBuckets(ctx context.Context, storeID ledger.StoreID, itemID ledger.ItemID, date ledger.Date) (ledger.Buckets, bool, error) {
	defer s.readLock()()
	return s.queries().fetchBuckets(ctx, storeID, itemID, date)
}

func (s *Store) FetchBucketsBatch(ctx context.Context, storeID ledger.StoreID, date ledger.Date, itemIDs []ledger.ItemID) (map[ledger.ItemID]ledger.Buckets, error) {
	defer s.readLock()()
	return s.queries().fetchBucketsBatch(ctx, storeID, date, itemIDs)
}

func (s *Store) FetchRowsFrom(ctx context.Context, storeID ledger.StoreID, itemID ledger.ItemID, start ledger.Date, end *ledger.Date) ([]ledger.Row, error) {
	defer s.readLock()()
	return s.queries().fetchRowsFrom(ctx, storeID, itemID, start, end)
}

// UpsertRows upserts all rows in one transaction.
func (s *Store) UpsertRows(ctx context.Context, rows []ledger.Row) ([]ledger.Row, error) {
	var out []ledger.Row
	err := s.WithTx(ctx, func(tx ledger.Store) error {
		var err error
		out, err = tx.UpsertRows(ctx, rows)
		return err
	})
	return out, err
}

func (s *Store) UpdateRow(ctx context.Context, row ledger.Row) error {
	return s.WithTx(ctx, func(tx ledger.Store) error {
		return tx.UpdateRow(ctx, row)
	})
}

// =============================================================================
// READER (ledger.Reader interface)
// =============================================================================

// RowsOnDate returns every row of a store on one date, ordered by item.
func (s *Store) RowsOnDate(ctx context.Context, storeID ledger.StoreID, date ledger.Date) ([]ledger.Row, error) {
	defer s.readLock()()

	var records []rowRecord
	query := s.db.Rebind(`SELECT ` + rowColumns + ` FROM inventories
		WHERE store_id = ? AND date = ?
		ORDER BY item_id ASC`)
	if err := s.db.SelectContext(ctx, &records, query, string(storeID), date.Time()); err != nil {
		return nil, fmt.Errorf("failed to query rows on date: %w", err)
	}
	return toRows(records), nil
}

// Keys returns every (store, item) pair with at least one row.
func (s *Store) Keys(ctx context.Context) ([]ledger.Key, error) {
	defer s.readLock()()

	var pairs []struct {
		StoreID string `db:"store_id"`
		ItemID  string `db:"item_id"`
	}
	err := s.db.SelectContext(ctx, &pairs,
		`SELECT DISTINCT store_id, item_id FROM inventories ORDER BY store_id, item_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}

	keys := make([]ledger.Key, len(pairs))
	for i, p := range pairs {
		keys[i] = ledger.Key{StoreID: ledger.StoreID(p.StoreID), ItemID: ledger.ItemID(p.ItemID)}
	}
	return keys, nil
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	defer s.writeLock()()

	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	txStore := &queries{ext: sqlTx, now: s.now}
	if s.dialect.keyLockSQL != "" {
		txStore.lockSQL = sqlTx.Rebind(s.dialect.keyLockSQL)
		txStore.locked = make(map[ledger.Key]bool)
	}
	if err := fn(txStore); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// =============================================================================
// QUERIES - Shared by Store (db) and the transaction view (tx)
// =============================================================================

type queries struct {
	ext sqlx.ExtContext
	now func() time.Time

	// Transaction-scoped key locks (PostgreSQL only).
	lockSQL string
	locked  map[ledger.Key]bool
}

// lockKeys takes the chain lock of every key not yet held by this transaction, in sorted order.
func (q *queries) lockKeys(ctx context.Context, keys ...ledger.Key) error {
	if q.lockSQL == "" {
		return nil
	}
	for _, k := range ledger.SortKeys(keys) {
		if q.locked[k] {
			continue
		}
		if _, err := q.ext.ExecContext(ctx, q.lockSQL, k.String()); err != nil {
			return fmt.Errorf("failed to lock %s: %w", k, err)
		}
		q.locked[k] = true
	}
	return nil
}

func (q *queries) FetchBuckets(ctx context.Context, storeID ledger.StoreID, itemID ledger.ItemID, date ledger.Date) (ledger.Buckets, bool, error) {
	if err := q.lockKeys(ctx, ledger.Key{StoreID: storeID, ItemID: itemID}); err != nil {
		return ledger.Buckets{}, false, err
	}
	return q.fetchBuckets(ctx, storeID, itemID, date)
}

func (q *queries) FetchBucketsBatch(ctx context.Context, storeID ledger.StoreID, date ledger.Date, itemIDs []ledger.ItemID) (map[ledger.ItemID]ledger.Buckets, error) {
	keys := make([]ledger.Key, len(itemIDs))
	for i, id := range itemIDs {
		keys[i] = ledger.Key{StoreID: storeID, ItemID: id}
	}
	if err := q.lockKeys(ctx, keys...); err != nil {
		return nil, err
	}
	return q.fetchBucketsBatch(ctx, storeID, date, itemIDs)
}

func (q *queries) FetchRowsFrom(ctx context.Context, storeID ledger.StoreID, itemID ledger.ItemID, start ledger.Date, end *ledger.Date) ([]ledger.Row, error) {
	if err := q.lockKeys(ctx, ledger.Key{StoreID: storeID, ItemID: itemID}); err != nil {
		return nil, err
	}
	return q.fetchRowsFrom(ctx, storeID, itemID, start, end)
}

func (q *queries) UpsertRows(ctx context.Context, rows []ledger.Row) ([]ledger.Row, error) {
	keys := make([]ledger.Key, len(rows))
	for i, r := range rows {
		keys[i] = r.Key()
	}
	if err := q.lockKeys(ctx, keys...); err != nil {
		return nil, err
	}

	out := make([]ledger.Row, len(rows))
	for i, r := range rows {
		persisted, err := q.upsertRow(ctx, r)
		if err != nil {
			return nil, err
		}
		out[i] = persisted
	}
	return out, nil
}

func (q *queries) UpdateRow(ctx context.Context, row ledger.Row) error {
	if err := q.lockKeys(ctx, row.Key()); err != nil {
		return err
	}

	query := q.ext.Rebind(`UPDATE inventories
		SET waste = ?, remaining = ?, bucket_fresh_end = ?, bucket_aged_end = ?, updated_at = ?
		WHERE store_id = ? AND item_id = ? AND date = ?`)
	res, err := q.ext.ExecContext(ctx, query,
		row.Waste, row.Remaining, row.FreshEnd, row.AgedEnd, q.now(),
		string(row.StoreID), string(row.ItemID), row.Date.Time(),
	)
	if err != nil {
		return fmt.Errorf("failed to update row: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update row: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s on %s", ledger.ErrRowNotFound, row.Key(), row.Date)
	}
	return nil
}

func (q *queries) fetchBuckets(ctx context.Context, storeID ledger.StoreID, itemID ledger.ItemID, date ledger.Date) (ledger.Buckets, bool, error) {
	var rec bucketRecord
	query := q.ext.Rebind(`SELECT item_id, bucket_fresh_end, bucket_aged_end FROM inventories
		WHERE store_id = ? AND item_id = ? AND date = ?`)
	err := sqlx.GetContext(ctx, q.ext, &rec, query, string(storeID), string(itemID), date.Time())
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Buckets{}, false, nil
	}
	if err != nil {
		return ledger.Buckets{}, false, fmt.Errorf("failed to fetch carryover: %w", err)
	}
	return rec.buckets(), true, nil
}

func (q *queries) fetchBucketsBatch(ctx context.Context, storeID ledger.StoreID, date ledger.Date, itemIDs []ledger.ItemID) (map[ledger.ItemID]ledger.Buckets, error) {
	result := make(map[ledger.ItemID]ledger.Buckets, len(itemIDs))
	if len(itemIDs) == 0 {
		return result, nil
	}

	ids := make([]string, len(itemIDs))
	for i, id := range itemIDs {
		ids[i] = string(id)
	}
	query, args, err := sqlx.In(`SELECT item_id, bucket_fresh_end, bucket_aged_end FROM inventories
		WHERE store_id = ? AND date = ? AND item_id IN (?)`, string(storeID), date.Time(), ids)
	if err != nil {
		return nil, err
	}

	var records []bucketRecord
	if err := sqlx.SelectContext(ctx, q.ext, &records, q.ext.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to fetch carryover batch: %w", err)
	}
	for _, rec := range records {
		result[ledger.ItemID(rec.ItemID)] = rec.buckets()
	}
	return result, nil
}

func (q *queries) fetchRowsFrom(ctx context.Context, storeID ledger.StoreID, itemID ledger.ItemID, start ledger.Date, end *ledger.Date) ([]ledger.Row, error) {
	query := `SELECT ` + rowColumns + ` FROM inventories
		WHERE store_id = ? AND item_id = ? AND date >= ?`
	args := []any{string(storeID), string(itemID), start.Time()}
	if end != nil {
		query += ` AND date <= ?`
		args = append(args, end.Time())
	}
	query += ` ORDER BY date ASC`

	var records []rowRecord
	if err := sqlx.SelectContext(ctx, q.ext, &records, q.ext.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to query rows: %w", err)
	}
	return toRows(records), nil
}

func (q *queries) upsertRow(ctx context.Context, r ledger.Row) (ledger.Row, error) {
	now := q.now()
	rec := fromRow(r)
	rec.CreatedAt, rec.UpdatedAt = dbTime{now}, dbTime{now}

	query, args, err := sqlx.Named(`
		INSERT INTO inventories
		(id, store_id, item_id, date, received, sold, waste, remaining,
		 bucket_fresh_end, bucket_aged_end, created_at, updated_at)
		VALUES (:id, :store_id, :item_id, :date, :received, :sold, :waste, :remaining,
		 :bucket_fresh_end, :bucket_aged_end, :created_at, :updated_at)
		ON CONFLICT (store_id, item_id, date) DO UPDATE SET
			received = excluded.received,
			sold = excluded.sold,
			waste = excluded.waste,
			remaining = excluded.remaining,
			bucket_fresh_end = excluded.bucket_fresh_end,
			bucket_aged_end = excluded.bucket_aged_end,
			updated_at = excluded.updated_at
		RETURNING `+rowColumns, rec)
	if err != nil {
		return ledger.Row{}, err
	}

	var out rowRecord
	if err := q.ext.QueryRowxContext(ctx, q.ext.Rebind(query), args...).StructScan(&out); err != nil {
		return ledger.Row{}, fmt.Errorf("failed to upsert row %s on %s: %w", r.Key(), r.Date, err)
	}
	return out.toRow(), nil
}

// =============================================================================
// RECORDS - Column mapping, kept out of the ledger package
// =============================================================================

const rowColumns = `id, store_id, item_id, date, received, sold, waste, remaining,
	bucket_fresh_end, bucket_aged_end, created_at, updated_at`

type rowRecord struct {
	ID        string    `db:"id"`
	StoreID   string    `db:"store_id"`
	ItemID    string    `db:"item_id"`
	Date      dbTime    `db:"date"`
	Received  int64     `db:"received"`
	Sold      int64     `db:"sold"`
	Waste     int64     `db:"waste"`
	Remaining int64     `db:"remaining"`
	FreshEnd  int64     `db:"bucket_fresh_end"`
	AgedEnd   int64     `db:"bucket_aged_end"`
	CreatedAt dbTime    `db:"created_at"`
	UpdatedAt dbTime    `db:"updated_at"`
}

type bucketRecord struct {
	ItemID   string `db:"item_id"`
	FreshEnd int64  `db:"bucket_fresh_end"`
	AgedEnd  int64  `db:"bucket_aged_end"`
}

func (b bucketRecord) buckets() ledger.Buckets {
	return ledger.Buckets{Fresh: b.FreshEnd, Aged: b.AgedEnd}
}

func fromRow(r ledger.Row) rowRecord {
	return rowRecord{
		ID:        r.ID,
		StoreID:   string(r.StoreID),
		ItemID:    string(r.ItemID),
		Date:      dbTime{r.Date.Time()},
		Received:  r.Received,
		Sold:      r.Sold,
		Waste:     r.Waste,
		Remaining: r.Remaining,
		FreshEnd:  r.FreshEnd,
		AgedEnd:   r.AgedEnd,
	}
}

func (rec rowRecord) toRow() ledger.Row {
	return ledger.Row{
		ID:        rec.ID,
		StoreID:   ledger.StoreID(rec.StoreID),
		ItemID:    ledger.ItemID(rec.ItemID),
		Date:      ledger.DateOf(rec.Date.UTC()),
		Received:  rec.Received,
		Sold:      rec.Sold,
		Waste:     rec.Waste,
		Remaining: rec.Remaining,
		FreshEnd:  rec.FreshEnd,
		AgedEnd:   rec.AgedEnd,
	}
}

func toRows(records []rowRecord) []ledger.Row {
	rows := make([]ledger.Row, len(records))
	for i, rec := range records {
		rows[i] = rec.toRow()
	}
	return rows
}
