package sqlstore

import (
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Driver names registered with database/sql.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

// dialect captures the few places where sqlite and PostgreSQL differ.
// The schema and every query are shared.
type dialect struct {
	driver string

	// serialize makes the store run one unit of work at a time behind a mutex
	// over a single connection (sqlite has a single writer anyway).
	serialize bool

	// keyLockSQL takes a transaction-scoped lock on one carryover chain.
	// Empty when serialize already excludes concurrent writers.
	keyLockSQL string
}

func dialectFor(driver string) (dialect, error) {
	switch strings.ToLower(driver) {
	case "sqlite", DriverSQLite:
		return dialect{driver: DriverSQLite, serialize: true}, nil
	case "postgres", "postgresql", DriverPostgres:
		return dialect{
			driver:     DriverPostgres,
			keyLockSQL: "SELECT pg_advisory_xact_lock(hashtext(?))",
		}, nil
	default:
		return dialect{}, fmt.Errorf("unsupported database driver %q (use %s or %s)", driver, DriverSQLite, DriverPostgres)
	}
}

func (d dialect) dsn(dsn string) string {
	if d.driver != DriverSQLite {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"
}
