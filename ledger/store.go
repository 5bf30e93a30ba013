/*
store.go - Persistence collaborator interfaces

PURPOSE:
  Defines what the engines need from storage and nothing more: read the
  carryover for a key, read the stored rows of a key from a date, upsert
  rows keyed by (store, item, date), and update one row's derived fields.

KEY INTERFACES:
  Store:   the five operations used by the engines
  TxStore: Store + WithTx, the scoped unit of work
  Reader:  read-side queries for the HTTP layer and the CLI
  Locker:  serialization of one carryover chain across writers

UNIT OF WORK:
  WithTx acquires a transaction, runs fn against a Store bound to it,
  commits when fn returns nil, rolls back on any error, and always
  releases. Nothing written inside a failed fn is visible afterwards.

IMPLEMENTATIONS:
  - ledger/store/memory.go: in-memory, for tests
  - store/sqlstore:         sqlite and PostgreSQL via sqlx
*/
package ledger

import "context"

// Store is the persistence collaborator used by the engines.
type Store interface {
	// FetchBuckets returns the carryover stored for (store, item, date).
	// found is false when no row exists.
	FetchBuckets(ctx context.Context, storeID StoreID, itemID ItemID, date Date) (b Buckets, found bool, err error)

	// FetchBucketsBatch returns the carryover of every listed item that has a row on date.
	// Items without a row are omitted.
	FetchBucketsBatch(ctx context.Context, storeID StoreID, date Date, itemIDs []ItemID) (map[ItemID]Buckets, error)

	// FetchRowsFrom returns rows of (store, item) with date >= start (and <= end when set),
	// ascending by date.
	FetchRowsFrom(ctx context.Context, storeID StoreID, itemID ItemID, start Date, end *Date) ([]Row, error)

	// UpsertRows inserts each row or overwrites the row with the same (store, item, date).
	// Returns the persisted rows, in input order, with their IDs.
	UpsertRows(ctx context.Context, rows []Row) ([]Row, error)

	// UpdateRow overwrites the derived fields of an existing row.
	UpdateRow(ctx context.Context, row Row) error
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// Reader answers read-only queries outside the engines.
type Reader interface {
	// RowsOnDate returns every row of a store on one date, ordered by item.
	RowsOnDate(ctx context.Context, storeID StoreID, date Date) ([]Row, error)

	// Keys returns every (store, item) pair that has at least one row.
	Keys(ctx context.Context) ([]Key, error)
}

// Locker serializes work on carryover chains. Lock blocks until every key is held
// or ctx is done. The returned unlock releases all keys.
type Locker interface {
	Lock(ctx context.Context, keys []Key) (unlock func(), err error)
}
