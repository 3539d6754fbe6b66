/*
Package postgres provides a PostgreSQL-backed ledger.Store.

PURPOSE:
  Production driver. Uses the pgx stdlib adapter so the shared
  database/sql implementation in store/sqlstore runs unchanged; only the
  dialect differs.

PER-USER LOCKING:
  Every user has an anchor row in point_accounts. A unit of work:
    1. bounds lock waits with lock_timeout (transaction-local)
    2. inserts the anchor row if missing (ON CONFLICT DO NOTHING)
    3. locks it with SELECT ... FOR UPDATE
  Units of work for the same user queue on that row lock. Different
  users never share a lock. Reward caps across users are enforced by the
  guarded UPDATE in sqlstore, not by these locks.

ERRORS:
  Unique violations are recognised by SQLSTATE 23505. A lock wait that
  exceeds lock_timeout (55P03) surfaces as a StoreError, which callers
  see as ErrStoreUnavailable.

USAGE:
  store, err := postgres.New(ctx, dsn, postgres.Options{TxTimeout: 5 * time.Second})
*/
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/warp/wastewise/ledger"
	"github.com/warp/wastewise/store/sqlstore"
)

const (
	uniqueViolation  = "23505"
	lockNotAvailable = "55P03"
)

// Options configures the connection pool.
type Options struct {
	TxTimeout       time.Duration
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// New connects to dsn, verifies the connection and migrates the schema.
func New(ctx context.Context, dsn string, opts Options) (*sqlstore.Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	store := sqlstore.New(db, Dialect{}, opts.TxTimeout)
	if err := store.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// DSN assembles a connection URL from its parts.
func DSN(host string, port int, user, password, name, sslMode string) string {
	if sslMode == "" {
		sslMode = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(user, password),
		Host:     net.JoinHostPort(host, strconv.Itoa(port)),
		Path:     "/" + name,
		RawQuery: url.Values{"sslmode": {sslMode}}.Encode(),
	}
	return u.String()
}

// =============================================================================
// DIALECT
// =============================================================================

type Dialect struct{}

var _ sqlstore.Dialect = Dialect{}

func (Dialect) Name() string   { return "postgres" }
func (Dialect) Numbered() bool { return true }

func (Dialect) IsUniqueViolation(err error) bool {
	return hasCode(err, uniqueViolation)
}

func isLockTimeout(err error) bool {
	return hasCode(err, lockNotAvailable)
}

func hasCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

func (Dialect) LockUser(ctx context.Context, tx *sql.Tx, userID ledger.UserID, timeout time.Duration) error {
	ms := strconv.FormatInt(timeout.Milliseconds(), 10) + "ms"
	if _, err := tx.ExecContext(ctx, `SELECT set_config('lock_timeout', $1, true)`, ms); err != nil {
		return fmt.Errorf("set lock_timeout: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO point_accounts (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`,
		string(userID),
	); err != nil {
		return fmt.Errorf("create account row: %w", err)
	}
	var locked string
	if err := tx.QueryRowContext(ctx,
		`SELECT user_id FROM point_accounts WHERE user_id = $1 FOR UPDATE`,
		string(userID),
	).Scan(&locked); err != nil {
		if isLockTimeout(err) {
			return fmt.Errorf("user %s is busy: %w", userID, err)
		}
		return fmt.Errorf("lock account row: %w", err)
	}
	return nil
}

func (Dialect) Schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS point_accounts (
			user_id TEXT PRIMARY KEY
		)`,

		`CREATE TABLE IF NOT EXISTS ledger_entries (
			seq BIGSERIAL PRIMARY KEY,
			id UUID NOT NULL UNIQUE,
			user_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			points BIGINT NOT NULL CHECK (points <> 0),
			ref_type TEXT,
			ref_id UUID,
			description TEXT,
			idempotency_key TEXT,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_entries_user_seq
			ON ledger_entries(user_id, seq)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_entries_idempotency
			ON ledger_entries(user_id, idempotency_key) WHERE idempotency_key IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_entries_reference
			ON ledger_entries(ref_type, ref_id) WHERE ref_id IS NOT NULL`,

		`CREATE TABLE IF NOT EXISTS rewards (
			id UUID PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT,
			reward_type TEXT NOT NULL,
			points_required BIGINT NOT NULL CHECK (points_required > 0),
			max_redemptions INTEGER,
			current_redemptions INTEGER NOT NULL DEFAULT 0,
			expiry_days INTEGER NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at BIGINT NOT NULL,
			CHECK (max_redemptions IS NULL OR current_redemptions <= max_redemptions)
		)`,

		`CREATE TABLE IF NOT EXISTS redemptions (
			id UUID PRIMARY KEY,
			user_id TEXT NOT NULL,
			reward_id UUID NOT NULL REFERENCES rewards(id),
			code TEXT NOT NULL UNIQUE,
			status TEXT NOT NULL,
			expires_at BIGINT NOT NULL,
			ledger_entry_id UUID NOT NULL UNIQUE REFERENCES ledger_entries(id),
			redeemed_at BIGINT NOT NULL,
			used_at BIGINT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_redemptions_user
			ON redemptions(user_id, redeemed_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_redemptions_status_expiry
			ON redemptions(status, expires_at)`,

		`CREATE TABLE IF NOT EXISTS pickups (
			id UUID PRIMARY KEY,
			user_id TEXT NOT NULL,
			status TEXT NOT NULL,
			waste_type TEXT NOT NULL,
			pickup_date BIGINT NOT NULL,
			address TEXT NOT NULL,
			special_instructions TEXT,
			estimated_weight_kg NUMERIC(10,2),
			actual_weight_kg NUMERIC(10,2),
			points_awarded BIGINT,
			driver_id TEXT,
			driver_notes TEXT,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			completed_at BIGINT,
			emergency_fee_points BIGINT CHECK (emergency_fee_points >= 0)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pickups_user
			ON pickups(user_id, pickup_date DESC)`,

		`CREATE TABLE IF NOT EXISTS utilities (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT,
			category TEXT NOT NULL,
			price_points BIGINT NOT NULL CHECK (price_points > 0),
			availability TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at BIGINT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS purchases (
			id UUID PRIMARY KEY,
			user_id TEXT NOT NULL,
			utility_id UUID NOT NULL REFERENCES utilities(id),
			quantity INTEGER NOT NULL CHECK (quantity > 0),
			points_spent BIGINT NOT NULL,
			delivery_address TEXT NOT NULL,
			delivery_status TEXT NOT NULL,
			tracking_number TEXT,
			ledger_entry_id UUID NOT NULL UNIQUE REFERENCES ledger_entries(id),
			refund_entry_id UUID UNIQUE REFERENCES ledger_entries(id),
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_purchases_user
			ON purchases(user_id, created_at DESC)`,
	}
}
