/*
Package sqlstore implements ledger.Store on top of database/sql.

PURPOSE:
  SQLite and PostgreSQL share one implementation. The differences are
  isolated in a Dialect: placeholder syntax, schema, unique-violation
  detection, and how a unit of work takes exclusive access to a user.

KEY TABLES:
  ledger_entries: Immutable ledger (seq is the store-assigned order)
  rewards:        Rewards catalog with the redemption counter
  redemptions:    One row per successful redeem (unique code)
  pickups:        Pickup records and their status
  utilities:      Eco-store items
  purchases:      Eco-store orders
  point_accounts: Per-user anchor rows (PostgreSQL row locks)

APPEND-ONLY ENFORCEMENT:
  There is no UPDATE or DELETE statement on ledger_entries anywhere in
  this package. The other tables are mutable records.

TIMESTAMPS:
  Stored as BIGINT unix nanoseconds (UTC). Integer columns order
  correctly and round-trip exactly across both drivers.

SEQUENCES:
  ledger_entries.seq is an AUTOINCREMENT / BIGSERIAL key returned with
  INSERT ... RETURNING. Per-user entries are written under the per-user
  lock, so within one user's ledger seq order is commit order.

SEE ALSO:
  - store/sqlite: SQLite dialect (mattn/go-sqlite3)
  - store/postgres: PostgreSQL dialect (pgx stdlib)
*/
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/warp/wastewise/ledger"
)

// ErrDuplicate marks a unique constraint violation.
var ErrDuplicate = errors.New("duplicate key")

// =============================================================================
// DIALECT
// =============================================================================

// Dialect captures the per-database differences.
type Dialect interface {
	Name() string

	// Schema returns DDL statements, executed in order by Migrate.
	Schema() []string

	// Numbered reports whether placeholders are $1, $2 rather than ?.
	Numbered() bool

	// IsUniqueViolation reports whether err is a unique constraint failure.
	IsUniqueViolation(err error) bool

	// LockUser runs first inside every unit of work. It must block other
	// units of work for the same user until tx ends.
	LockUser(ctx context.Context, tx *sql.Tx, userID ledger.UserID, timeout time.Duration) error
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// STORE
// =============================================================================

type Store struct {
	queries
	db        *sql.DB
	txTimeout time.Duration
}

var _ ledger.Store = (*Store)(nil)

// New wraps an open database. The caller configures the pool.
func New(db *sql.DB, dialect Dialect, txTimeout time.Duration) *Store {
	if txTimeout <= 0 {
		txTimeout = 5 * time.Second
	}
	return &Store{
		queries:   queries{q: db, d: dialect},
		db:        db,
		txTimeout: txTimeout,
	}
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the database schema.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range s.d.Schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return ledger.WrapStore("migrate", fmt.Errorf("%s: %w", firstLine(stmt), err))
		}
	}
	return nil
}

// Ping verifies the connection.
func (s *Store) Ping(ctx context.Context) error {
	return ledger.WrapStore("ping", s.db.PingContext(ctx))
}

// WithUserTx executes fn within a database transaction that holds the
// user's lock. The whole unit of work is bounded by the store's
// transaction timeout.
func (s *Store) WithUserTx(ctx context.Context, userID ledger.UserID, fn func(ledger.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.WrapStore("begin", err)
	}
	defer sqlTx.Rollback()

	if err := s.d.LockUser(ctx, sqlTx, userID, s.txTimeout); err != nil {
		return ledger.WrapStore("lock user", err)
	}

	if err := fn(queries{q: sqlTx, d: s.d}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return ledger.WrapStore("commit", err)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

type queries struct {
	q querier
	d Dialect
}

var _ ledger.Tx = queries{}

// bind rewrites ? placeholders for numbered dialects.
func (qs queries) bind(query string) string {
	if !qs.d.Numbered() {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (qs queries) exec(ctx context.Context, op, query string, args ...any) (sql.Result, error) {
	res, err := qs.q.ExecContext(ctx, qs.bind(query), args...)
	if err != nil {
		return nil, qs.wrap(op, err)
	}
	return res, nil
}

func (qs queries) wrap(op string, err error) error {
	if qs.d.IsUniqueViolation(err) {
		return &ledger.StoreError{Op: op, Err: fmt.Errorf("%w: %v", ErrDuplicate, err)}
	}
	return ledger.WrapStore(op, err)
}

// expectRow turns a zero-row update into a NotFoundError.
func expectRow(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return ledger.WrapStore("rows affected", err)
	}
	if n == 0 {
		return &ledger.NotFoundError{Resource: resource, ID: id}
	}
	return nil
}

func nanos(t time.Time) int64 { return t.UTC().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: nanos(*t), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func firstLine(stmt string) string {
	stmt = strings.TrimSpace(stmt)
	if i := strings.IndexByte(stmt, '\n'); i >= 0 {
		return stmt[:i]
	}
	return stmt
}
