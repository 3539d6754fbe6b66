/*
Package rewards turns points into rewards and eco-store products.

PURPOSE:
  Spends are the dangerous half of the ledger: they must never overdraw a
  balance and never exceed a reward's cap. Every spend in this package
  runs as one per-user unit of work (ledger.Store.WithUserTx) in which the
  checks and all writes happen together.

REDEMPTION FLOW (Coordinator.Redeem):
  ┌──────────────────────────────────────────────────────────────────┐
  │ WithUserTx(user)                                                 │
  │   1. load reward            missing/inactive → NotFound          │
  │   2. cap reached?           → SoldOut                            │
  │   3. balance < cost?        → InsufficientPoints                 │
  │   4. append redeemed entry  (-points_required)                   │
  │   5. create redemption      (unique code, expiry)                │
  │   6. guarded increment      cap hit by another user → SoldOut    │
  │ commit, or roll back everything                                  │
  └──────────────────────────────────────────────────────────────────┘

REDEMPTION STATUS:
  active ──use──▶ used
     │
     └──(expiry passes)──▶ expired

  Expiry is applied lazily: reads report expired once expiry_date has
  passed, and Use persists the expired status before refusing.

KEY COMPONENTS:
  Coordinator: Redeem, Use, ListRedemptions
  Catalog:     reward and eco-store item administration
  Shop:        eco-store purchases, delivery, cancellation with refund

SEE ALSO:
  - ledger/ledger.go: AppendTx enforces the non-negative balance
  - store/sqlstore: guarded IncrementRedemptions
*/
package rewards

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/wastewise/ledger"
)

// DefaultExpiryDays applies when a reward does not set its own.
const DefaultExpiryDays = 30

// =============================================================================
// COORDINATOR
// =============================================================================

type Coordinator struct {
	ledger     *ledger.Ledger
	store      ledger.Store
	clock      ledger.Clock
	codes      CodeGenerator
	expiryDays int
	logger     *zap.Logger
}

type Option func(*Coordinator)

func WithCodeGenerator(g CodeGenerator) Option {
	return func(c *Coordinator) { c.codes = g }
}

// WithDefaultExpiryDays overrides DefaultExpiryDays.
func WithDefaultExpiryDays(days int) Option {
	return func(c *Coordinator) {
		if days > 0 {
			c.expiryDays = days
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

func NewCoordinator(l *ledger.Ledger, opts ...Option) *Coordinator {
	c := &Coordinator{
		ledger:     l,
		store:      l.Store(),
		clock:      l.Clock(),
		codes:      NewCode,
		expiryDays: DefaultExpiryDays,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Redeem spends the reward's points and issues a redemption code.
func (c *Coordinator) Redeem(ctx context.Context, userID ledger.UserID, rewardID uuid.UUID) (ledger.Redemption, error) {
	if userID == "" {
		return ledger.Redemption{}, ledger.NewValidationError("invalid_request", "user id is required")
	}

	var redemption ledger.Redemption
	err := c.store.WithUserTx(ctx, userID, func(tx ledger.Tx) error {
		reward, err := tx.GetReward(ctx, rewardID)
		if err != nil {
			return err
		}
		if !reward.Active {
			return &ledger.NotFoundError{Resource: "reward", ID: rewardID.String()}
		}
		if reward.SoldOut() {
			return fmt.Errorf("reward %q: %w", reward.Title, ledger.ErrSoldOut)
		}

		balance, err := c.ledger.BalanceTx(ctx, tx, userID)
		if err != nil {
			return err
		}
		if balance < reward.PointsRequired {
			return &ledger.InsufficientPointsError{UserID: userID, Available: balance, Required: reward.PointsRequired}
		}

		now := c.clock.Now()
		entry, err := c.ledger.AppendTx(ctx, tx, ledger.Entry{
			UserID:      userID,
			Kind:        ledger.EntryRedeemed,
			Points:      -reward.PointsRequired,
			Reference:   ledger.RewardRef(reward.ID),
			Description: "Redeemed: " + reward.Title,
			CreatedAt:   now,
		})
		if err != nil {
			return err
		}

		code, err := c.codes(now)
		if err != nil {
			return err
		}
		days := reward.ExpiryDays
		if days <= 0 {
			days = c.expiryDays
		}
		redemption = ledger.Redemption{
			ID:            uuid.New(),
			UserID:        userID,
			RewardID:      reward.ID,
			Code:          code,
			Status:        ledger.RedemptionActive,
			ExpiresAt:     now.AddDate(0, 0, days),
			LedgerEntryID: entry.ID,
			RedeemedAt:    now,
		}
		if err := tx.CreateRedemption(ctx, redemption); err != nil {
			return err
		}
		return tx.IncrementRedemptions(ctx, reward.ID)
	})
	if err != nil {
		c.logger.Warn("redeem failed",
			zap.String("user_id", string(userID)),
			zap.Stringer("reward_id", rewardID),
			zap.String("error_kind", string(ledger.KindOf(err))),
			zap.Error(err))
		return ledger.Redemption{}, err
	}
	c.ledger.Committed(userID)

	c.logger.Info("reward redeemed",
		zap.String("user_id", string(userID)),
		zap.Stringer("reward_id", rewardID),
		zap.String("code", redemption.Code))
	return redemption, nil
}

// Use marks an active redemption as used. A redemption past its expiry is
// persisted as expired and InvalidTransition is returned.
func (c *Coordinator) Use(ctx context.Context, userID ledger.UserID, code string) (ledger.Redemption, error) {
	var (
		result  ledger.Redemption
		refusal error
	)
	err := c.store.WithUserTx(ctx, userID, func(tx ledger.Tx) error {
		r, err := tx.GetRedemptionByCode(ctx, code)
		if err != nil {
			return err
		}
		if r.UserID != userID {
			return &ledger.NotFoundError{Resource: "redemption", ID: code}
		}

		now := c.clock.Now()
		switch r.StatusAt(now) {
		case ledger.RedemptionActive:
			r.Status = ledger.RedemptionUsed
			r.UsedAt = &now
			if err := tx.UpdateRedemption(ctx, r); err != nil {
				return err
			}
		case ledger.RedemptionExpired:
			refusal = &ledger.InvalidTransitionError{Resource: "redemption", From: string(ledger.RedemptionExpired), To: string(ledger.RedemptionUsed)}
			if r.Status != ledger.RedemptionExpired {
				r.Status = ledger.RedemptionExpired
				if err := tx.UpdateRedemption(ctx, r); err != nil {
					return err
				}
			}
		default:
			return &ledger.InvalidTransitionError{Resource: "redemption", From: string(r.Status), To: string(ledger.RedemptionUsed)}
		}
		result = r
		return nil
	})
	if err == nil {
		err = refusal
	}
	if err != nil {
		return ledger.Redemption{}, err
	}

	c.logger.Info("redemption used",
		zap.String("user_id", string(userID)),
		zap.String("code", code))
	return result, nil
}

// ListRedemptions returns the user's redemptions, newest first, with
// expiry applied to the reported status.
func (c *Coordinator) ListRedemptions(ctx context.Context, userID ledger.UserID) ([]ledger.Redemption, error) {
	list, err := c.store.ListRedemptions(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := c.clock.Now()
	for i := range list {
		list[i].Status = list[i].StatusAt(now)
	}
	return list, nil
}

// ExpiresIn reports how long until r expires, or zero if it already has.
func ExpiresIn(r ledger.Redemption, now time.Time) time.Duration {
	if d := r.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}
