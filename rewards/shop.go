package rewards

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/wastewise/ledger"
)

// =============================================================================
// SHOP - Eco-store purchases paid in points
// =============================================================================

// MaxQuantity caps a single order line.
const MaxQuantity = 99

// nextDelivery is the only forward move from each delivery status.
// Cancellation goes through CancelPurchase because it must refund.
var nextDelivery = map[ledger.DeliveryStatus]ledger.DeliveryStatus{
	ledger.DeliveryPending:   ledger.DeliveryConfirmed,
	ledger.DeliveryConfirmed: ledger.DeliveryShipped,
	ledger.DeliveryShipped:   ledger.DeliveryDelivered,
}

type Shop struct {
	ledger *ledger.Ledger
	store  ledger.Store
	clock  ledger.Clock
	logger *zap.Logger
}

func NewShop(l *ledger.Ledger, logger *zap.Logger) *Shop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Shop{ledger: l, store: l.Store(), clock: l.Clock(), logger: logger}
}

// Purchase spends price × quantity points on an eco-store item. The
// balance check, the purchased entry and the order are one unit of work.
func (s *Shop) Purchase(ctx context.Context, userID ledger.UserID, utilityID uuid.UUID, quantity int, address string) (ledger.Purchase, error) {
	var fields []ledger.FieldError
	if userID == "" {
		fields = append(fields, ledger.FieldError{Field: "user_id", Message: "required"})
	}
	if quantity < 1 || quantity > MaxQuantity {
		fields = append(fields, ledger.FieldError{Field: "quantity", Message: fmt.Sprintf("must be between 1 and %d", MaxQuantity)})
	}
	if strings.TrimSpace(address) == "" {
		fields = append(fields, ledger.FieldError{Field: "delivery_address", Message: "required"})
	}
	if len(fields) > 0 {
		return ledger.Purchase{}, ledger.NewValidationError("invalid_purchase", "purchase is invalid", fields...)
	}

	var purchase ledger.Purchase
	err := s.store.WithUserTx(ctx, userID, func(tx ledger.Tx) error {
		item, err := tx.GetUtility(ctx, utilityID)
		if err != nil {
			return err
		}
		if !item.Active || item.Availability == ledger.AvailabilityDiscontinued {
			return &ledger.NotFoundError{Resource: "utility", ID: utilityID.String()}
		}
		if item.Availability == ledger.AvailabilityOutOfStock {
			return fmt.Errorf("utility %q: %w", item.Name, ledger.ErrSoldOut)
		}

		if item.PricePoints > math.MaxInt64/ledger.Points(quantity) {
			return ledger.NewValidationError("invalid_purchase", "order total is out of range",
				ledger.FieldError{Field: "quantity", Message: "order total is out of range"})
		}
		cost := item.PricePoints * ledger.Points(quantity)
		balance, err := s.ledger.BalanceTx(ctx, tx, userID)
		if err != nil {
			return err
		}
		if balance < cost {
			return &ledger.InsufficientPointsError{UserID: userID, Available: balance, Required: cost}
		}

		now := s.clock.Now()
		purchase = ledger.Purchase{
			ID:              uuid.New(),
			UserID:          userID,
			UtilityID:       item.ID,
			Quantity:        quantity,
			PointsSpent:     cost,
			DeliveryAddress: strings.TrimSpace(address),
			DeliveryStatus:  ledger.DeliveryPending,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		entry, err := s.ledger.AppendTx(ctx, tx, ledger.Entry{
			UserID:      userID,
			Kind:        ledger.EntryPurchased,
			Points:      -cost,
			Reference:   ledger.PurchaseRef(purchase.ID),
			Description: fmt.Sprintf("Eco-store: %s x%d", item.Name, quantity),
			CreatedAt:   now,
		})
		if err != nil {
			return err
		}
		purchase.LedgerEntryID = entry.ID
		return tx.CreatePurchase(ctx, purchase)
	})
	if err != nil {
		s.logger.Warn("purchase failed",
			zap.String("user_id", string(userID)),
			zap.Stringer("utility_id", utilityID),
			zap.Error(err))
		return ledger.Purchase{}, err
	}
	s.ledger.Committed(userID)

	s.logger.Info("purchase placed",
		zap.String("user_id", string(userID)),
		zap.Stringer("purchase_id", purchase.ID),
		zap.Int64("points", int64(purchase.PointsSpent)))
	return purchase, nil
}

// AdvanceDelivery moves a purchase one step along
// pending → confirmed → shipped → delivered.
func (s *Shop) AdvanceDelivery(ctx context.Context, purchaseID uuid.UUID, to ledger.DeliveryStatus, tracking string) (ledger.Purchase, error) {
	current, err := s.store.GetPurchase(ctx, purchaseID)
	if err != nil {
		return ledger.Purchase{}, err
	}

	var updated ledger.Purchase
	err = s.store.WithUserTx(ctx, current.UserID, func(tx ledger.Tx) error {
		p, err := tx.GetPurchase(ctx, purchaseID)
		if err != nil {
			return err
		}
		if next, ok := nextDelivery[p.DeliveryStatus]; !ok || next != to {
			return &ledger.InvalidTransitionError{Resource: "purchase", From: string(p.DeliveryStatus), To: string(to)}
		}
		p.DeliveryStatus = to
		if tracking != "" {
			p.TrackingNumber = tracking
		}
		p.UpdatedAt = s.clock.Now()
		if err := tx.UpdatePurchase(ctx, p); err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		return ledger.Purchase{}, err
	}

	s.logger.Info("delivery advanced",
		zap.Stringer("purchase_id", purchaseID),
		zap.String("status", string(to)))
	return updated, nil
}

// CancelPurchase cancels a pending or confirmed order and refunds its
// points. Cancelling an already cancelled order returns it unchanged.
func (s *Shop) CancelPurchase(ctx context.Context, userID ledger.UserID, purchaseID uuid.UUID) (ledger.Purchase, error) {
	var (
		result   ledger.Purchase
		refunded bool
	)
	err := s.store.WithUserTx(ctx, userID, func(tx ledger.Tx) error {
		p, err := tx.GetPurchase(ctx, purchaseID)
		if err != nil {
			return err
		}
		if p.UserID != userID {
			return &ledger.NotFoundError{Resource: "purchase", ID: purchaseID.String()}
		}

		switch p.DeliveryStatus {
		case ledger.DeliveryCancelled:
			result = p
			return nil
		case ledger.DeliveryPending, ledger.DeliveryConfirmed:
		default:
			return &ledger.InvalidTransitionError{Resource: "purchase", From: string(p.DeliveryStatus), To: string(ledger.DeliveryCancelled)}
		}

		now := s.clock.Now()
		refund, err := s.ledger.AppendTx(ctx, tx, ledger.Entry{
			UserID:         userID,
			Kind:           ledger.EntryRefund,
			Points:         p.PointsSpent,
			Reference:      ledger.PurchaseRef(p.ID),
			Description:    "Refund: cancelled eco-store order",
			IdempotencyKey: "refund:" + p.ID.String(),
			CreatedAt:      now,
		})
		if err != nil {
			return err
		}
		p.DeliveryStatus = ledger.DeliveryCancelled
		p.RefundEntryID = &refund.ID
		p.UpdatedAt = now
		if err := tx.UpdatePurchase(ctx, p); err != nil {
			return err
		}
		result = p
		refunded = true
		return nil
	})
	if err != nil {
		return ledger.Purchase{}, err
	}
	if refunded {
		s.ledger.Committed(userID)
		s.logger.Info("purchase cancelled",
			zap.String("user_id", string(userID)),
			zap.Stringer("purchase_id", purchaseID),
			zap.Int64("refunded", int64(result.PointsSpent)))
	}
	return result, nil
}

func (s *Shop) ListPurchases(ctx context.Context, userID ledger.UserID) ([]ledger.Purchase, error) {
	return s.store.ListPurchases(ctx, userID)
}
