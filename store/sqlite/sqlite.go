/*
Package sqlite provides a SQLite-backed ledger.Store.

PURPOSE:
  Opens a SQLite database with mattn/go-sqlite3 and plugs the SQLite
  dialect into the shared database/sql implementation in store/sqlstore.
  This is the default driver for local development, demos and tests.

CONCURRENCY:
  The pool is limited to a single connection. A unit of work holds that
  connection for its whole duration, so SQLite units of work are
  serialized process-wide, which is stronger than the per-user exclusion
  the ledger requires. Transactions begin IMMEDIATE (_txlock=immediate) and
  wait on busy_timeout, so a second process writing the same file cannot
  interleave either.

  A single connection is also what makes ":memory:" usable: every
  connection to ":memory:" would otherwise see its own empty database.

WAL MODE:
  File databases are opened with WAL (Write-Ahead Logging):
  - Readers don't block the writer
  - Better crash recovery

USAGE:
  store, err := sqlite.New(ctx, "./data/wastewise.db", 5*time.Second)
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). All statements are idempotent
  (CREATE ... IF NOT EXISTS).

SEE ALSO:
  - store/sqlstore: queries shared with PostgreSQL
  - store/memory: in-memory implementation for unit tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/wastewise/ledger"
	"github.com/warp/wastewise/store/sqlstore"
)

// New opens (creating if needed) the database at dbPath and migrates it.
// Use ":memory:" for an in-memory database.
func New(ctx context.Context, dbPath string, txTimeout time.Duration) (*sqlstore.Store, error) {
	db, err := sql.Open("sqlite3", DSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := sqlstore.New(db, Dialect{}, txTimeout)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// DSN builds the connection string for dbPath.
func DSN(dbPath string) string {
	params := "_foreign_keys=on&_busy_timeout=5000&_txlock=immediate"
	if dbPath != ":memory:" {
		params += "&_journal_mode=WAL"
	}
	return dbPath + "?" + params
}

// =============================================================================
// DIALECT
// =============================================================================

type Dialect struct{}

var _ sqlstore.Dialect = Dialect{}

func (Dialect) Name() string   { return "sqlite" }
func (Dialect) Numbered() bool { return false }

func (Dialect) IsUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// LockUser is a no-op: the single pooled connection and the IMMEDIATE
// transaction already exclude every other writer.
func (Dialect) LockUser(context.Context, *sql.Tx, ledger.UserID, time.Duration) error {
	return nil
}

func (Dialect) Schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS ledger_entries (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			user_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			points INTEGER NOT NULL CHECK (points <> 0),
			ref_type TEXT,
			ref_id TEXT,
			description TEXT,
			idempotency_key TEXT,
			created_at INTEGER NOT NULL
		)`,
		// Balance folding (hot path)
		`CREATE INDEX IF NOT EXISTS idx_ledger_entries_user_seq
			ON ledger_entries(user_id, seq)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_entries_idempotency
			ON ledger_entries(user_id, idempotency_key) WHERE idempotency_key IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_entries_reference
			ON ledger_entries(ref_type, ref_id) WHERE ref_id IS NOT NULL`,

		`CREATE TABLE IF NOT EXISTS rewards (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT,
			reward_type TEXT NOT NULL,
			points_required INTEGER NOT NULL CHECK (points_required > 0),
			max_redemptions INTEGER,
			current_redemptions INTEGER NOT NULL DEFAULT 0,
			expiry_days INTEGER NOT NULL DEFAULT 0,
			is_active INTEGER NOT NULL DEFAULT 1,
			created_at INTEGER NOT NULL,
			CHECK (max_redemptions IS NULL OR current_redemptions <= max_redemptions)
		)`,

		`CREATE TABLE IF NOT EXISTS redemptions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			reward_id TEXT NOT NULL REFERENCES rewards(id),
			code TEXT NOT NULL UNIQUE,
			status TEXT NOT NULL,
			expires_at INTEGER NOT NULL,
			ledger_entry_id TEXT NOT NULL UNIQUE REFERENCES ledger_entries(id),
			redeemed_at INTEGER NOT NULL,
			used_at INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_redemptions_user
			ON redemptions(user_id, redeemed_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_redemptions_status_expiry
			ON redemptions(status, expires_at)`,

		`CREATE TABLE IF NOT EXISTS pickups (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			status TEXT NOT NULL,
			waste_type TEXT NOT NULL,
			pickup_date INTEGER NOT NULL,
			address TEXT NOT NULL,
			special_instructions TEXT,
			estimated_weight_kg TEXT,
			actual_weight_kg TEXT,
			points_awarded INTEGER,
			driver_id TEXT,
			driver_notes TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			completed_at INTEGER,
			emergency_fee_points INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pickups_user
			ON pickups(user_id, pickup_date DESC)`,

		`CREATE TABLE IF NOT EXISTS utilities (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT,
			category TEXT NOT NULL,
			price_points INTEGER NOT NULL CHECK (price_points > 0),
			availability TEXT NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 1,
			created_at INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS purchases (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			utility_id TEXT NOT NULL REFERENCES utilities(id),
			quantity INTEGER NOT NULL CHECK (quantity > 0),
			points_spent INTEGER NOT NULL,
			delivery_address TEXT NOT NULL,
			delivery_status TEXT NOT NULL,
			tracking_number TEXT,
			ledger_entry_id TEXT NOT NULL UNIQUE REFERENCES ledger_entries(id),
			refund_entry_id TEXT UNIQUE REFERENCES ledger_entries(id),
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_purchases_user
			ON purchases(user_id, created_at DESC)`,
	}
}
