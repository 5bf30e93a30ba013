/*
main.go - Application entry point

PURPOSE:
  CLI for the perishable-stock ledger: runs the HTTP server, applies the
  schema, and runs forward recomputes from the command line.

COMMANDS:
  serve      HTTP server with graceful shutdown
  migrate    Apply the database schema
  recompute  Rederive stored rows of one item, or of every item, from a date

CONFIGURATION:
  Environment (and .env) first, see config/config.go. Flags override:
    --db-driver   sqlite3 | pgx
    --db-dsn      database path or URL (":memory:" for an in-memory sqlite)
    --log-level   debug | info | warn | error
    --log-human   console log output instead of JSON

EXAMPLES:
  freshstock serve --addr :3000
  freshstock migrate --db-driver pgx --db-dsn postgres://localhost/freshstock
  freshstock recompute --store s1 --item milk --from 2025-03-01
  freshstock recompute --all --from 2025-03-01

SEE ALSO:
  - api/server.go: Router configuration
  - ledger/engine.go: Batch upsert engine
*/
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/warp/freshstock/config"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cfg := config.Load()

	root := &cobra.Command{
		Use:   "freshstock",
		Short: "Perishable stock ledger service",
		Long: `freshstock keeps a daily ledger of perishable stock per store and item.
Each day's receipts and sales are aged through a three-day shelf life, and
later days are rederived whenever a historical day is corrected.`,
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfg.Database.Driver, "db-driver", cfg.Database.Driver, "Database driver (sqlite3 or pgx)")
	flags.StringVar(&cfg.Database.DSN, "db-dsn", cfg.Database.DSN, "Database path or connection URL")
	flags.StringVar(&cfg.Logger.Level, "log-level", cfg.Logger.Level, "Log level")
	flags.BoolVar(&cfg.Logger.Human, "log-human", cfg.Logger.Human, "Human-friendly console logs")

	root.AddCommand(serveCmd(cfg))
	root.AddCommand(migrateCmd(cfg))
	root.AddCommand(recomputeCmd(cfg))
	return root
}
