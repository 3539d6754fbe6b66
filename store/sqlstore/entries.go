package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/warp/wastewise/ledger"
)

// =============================================================================
// LEDGER ENTRIES (append-only)
// =============================================================================

const entryColumns = `seq, id, user_id, kind, points, ref_type, ref_id, description, idempotency_key, created_at`

// AppendEntry inserts e and sets e.Seq.
func (qs queries) AppendEntry(ctx context.Context, e *ledger.Entry) error {
	var refType sql.NullString
	var refID uuid.NullUUID
	if e.Reference != nil {
		refType = nullString(string(e.Reference.Type))
		refID = uuid.NullUUID{UUID: e.Reference.ID, Valid: true}
	}

	query := `
		INSERT INTO ledger_entries
		(id, user_id, kind, points, ref_type, ref_id, description, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING seq
	`
	err := qs.q.QueryRowContext(ctx, qs.bind(query),
		e.ID,
		string(e.UserID),
		string(e.Kind),
		int64(e.Points),
		refType,
		refID,
		e.Description,
		nullString(e.IdempotencyKey),
		nanos(e.CreatedAt),
	).Scan(&e.Seq)
	if err != nil {
		return qs.wrap("append entry", err)
	}
	return nil
}

// Entries returns the user's entries ordered by seq.
func (qs queries) Entries(ctx context.Context, userID ledger.UserID, q ledger.EntryQuery) ([]ledger.Entry, error) {
	var where strings.Builder
	where.WriteString("user_id = ? AND seq > ?")
	args := []any{string(userID), q.AfterSeq}
	if q.Before != nil {
		where.WriteString(" AND created_at < ?")
		args = append(args, nanos(*q.Before))
	}

	query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE ` + where.String() + ` ORDER BY seq ASC`
	rows, err := qs.q.QueryContext(ctx, qs.bind(query), args...)
	if err != nil {
		return nil, qs.wrap("query entries", err)
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, qs.wrap("query entries", err)
	}
	return entries, nil
}

func (qs queries) LatestSeq(ctx context.Context, userID ledger.UserID) (int64, error) {
	var seq sql.NullInt64
	err := qs.q.QueryRowContext(ctx,
		qs.bind(`SELECT MAX(seq) FROM ledger_entries WHERE user_id = ?`),
		string(userID),
	).Scan(&seq)
	if err != nil {
		return 0, qs.wrap("latest seq", err)
	}
	return seq.Int64, nil
}

func (qs queries) EntryByIdempotencyKey(ctx context.Context, userID ledger.UserID, key string) (ledger.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE user_id = ? AND idempotency_key = ?`
	e, err := scanEntry(qs.q.QueryRowContext(ctx, qs.bind(query), string(userID), key))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Entry{}, &ledger.NotFoundError{Resource: "entry", ID: key}
	}
	if err != nil {
		return ledger.Entry{}, qs.wrap("entry by key", err)
	}
	return e, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (ledger.Entry, error) {
	var (
		e         ledger.Entry
		userID    string
		kind      string
		points    int64
		refType   sql.NullString
		refID     uuid.NullUUID
		desc      sql.NullString
		idemKey   sql.NullString
		createdAt int64
	)
	err := row.Scan(&e.Seq, &e.ID, &userID, &kind, &points, &refType, &refID, &desc, &idemKey, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return e, err
		}
		return e, ledger.WrapStore("scan entry", err)
	}
	e.UserID = ledger.UserID(userID)
	e.Kind = ledger.EntryKind(kind)
	e.Points = ledger.Points(points)
	if refType.Valid && refID.Valid {
		e.Reference = &ledger.Reference{Type: ledger.RefType(refType.String), ID: refID.UUID}
	}
	e.Description = desc.String
	e.IdempotencyKey = idemKey.String
	e.CreatedAt = fromNanos(createdAt)
	return e, nil
}
