/*
ledger.go - Append-only points ledger

PURPOSE:
  The Ledger is the immutable source of truth for all balance changes.
  Every award, redemption, purchase, refund, bonus and penalty is
  recorded here. Balance is always computed by folding entries; there is
  no separate balance field that can get out of sync.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. EVER.
  2. NON-NEGATIVE: an entry is rejected if it would take the balance
     below zero.
  3. SERIALIZED: the balance check and the write happen in the same
     per-user unit of work, so two concurrent spends cannot both pass
     a check against the same balance.
  4. IDEMPOTENT: an entry carrying an IdempotencyKey that was already
     written returns the original entry instead of writing a new one.

CORRECTIONS:
  Mistakes are never edited. A refund compensates a spend; a penalty
  compensates an over-award. Both entries remain in the history.

EXAMPLE FLOW:
  1. Pickup completed, 10kg plastic:  earned    +100
  2. Reward redeemed:                  redeemed   -80
  3. Purchase cancelled:               refund     +30 (after purchased -30)

  Ledger: [+100, -80, -30, +30] = 20 points

SEE ALSO:
  - store.go: Low-level persistence interface
  - balance.go: Projector
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	store     Store
	projector *Projector
	clock     Clock
	logger    *zap.Logger
}

type Option func(*Ledger)

func WithClock(c Clock) Option {
	return func(l *Ledger) { l.clock = c }
}

func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		clock:  SystemClock{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.projector = NewProjector(store, l.clock)
	return l
}

func (l *Ledger) Store() Store          { return l.store }
func (l *Ledger) Projector() *Projector { return l.projector }
func (l *Ledger) Clock() Clock          { return l.clock }

// Append writes e in its own per-user unit of work.
func (l *Ledger) Append(ctx context.Context, e Entry) (Entry, error) {
	var written Entry
	err := l.store.WithUserTx(ctx, e.UserID, func(tx Tx) error {
		var err error
		written, err = l.AppendTx(ctx, tx, e)
		return err
	})
	if err != nil {
		l.logger.Warn("ledger append failed",
			zap.String("user_id", string(e.UserID)),
			zap.String("kind", string(e.Kind)),
			zap.Int64("points", int64(e.Points)),
			zap.Error(err))
		return Entry{}, err
	}
	l.Committed(e.UserID)
	return written, nil
}

// AppendTx writes e inside a unit of work the caller already holds for
// e.UserID. The caller must call Committed after the unit of work commits.
func (l *Ledger) AppendTx(ctx context.Context, tx Tx, e Entry) (Entry, error) {
	if err := e.Validate(); err != nil {
		return Entry{}, err
	}

	if e.IdempotencyKey != "" {
		existing, err := tx.EntryByIdempotencyKey(ctx, e.UserID, e.IdempotencyKey)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Entry{}, err
		}
	}

	if e.Points < 0 {
		balance, err := l.projector.BalanceTx(ctx, tx, e.UserID)
		if err != nil {
			return Entry{}, err
		}
		if balance+e.Points < 0 {
			return Entry{}, NewValidationError("negative_balance",
				fmt.Sprintf("entry of %d points would leave a balance of %d", e.Points, balance+e.Points),
				FieldError{Field: "points", Message: "exceeds balance"})
		}
	}

	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.clock.Now()
	}
	if err := tx.AppendEntry(ctx, &e); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// BalanceTx returns the user's balance as seen inside tx.
func (l *Ledger) BalanceTx(ctx context.Context, tx Tx, userID UserID) (Points, error) {
	return l.projector.BalanceTx(ctx, tx, userID)
}

// Committed tells the projector that userID's ledger changed.
func (l *Ledger) Committed(userID UserID) {
	l.projector.Invalidate(userID)
}

// EntriesForUser returns the user's entries oldest first. When before is
// set only entries created strictly before it are returned. Each call
// re-reads the store.
func (l *Ledger) EntriesForUser(ctx context.Context, userID UserID, before *time.Time) ([]Entry, error) {
	return l.store.Entries(ctx, userID, EntryQuery{Before: before})
}
