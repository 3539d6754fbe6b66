package pickup

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/wastewise/ledger"
)

// =============================================================================
// SERVICE
// =============================================================================

const (
	// EmergencyFee is debited when an emergency pickup is booked.
	EmergencyFee ledger.Points = 50

	// EmergencyWindow is how far ahead an emergency pickup may be booked.
	EmergencyWindow = 24 * time.Hour
)

// MaxWeightKg bounds estimated and measured weights. Weights are kept to
// two decimal places.
var MaxWeightKg = decimal.NewFromInt(10000)

// ScheduleParams is what a user supplies when booking a pickup.
type ScheduleParams struct {
	WasteType           ledger.WasteType
	PickupDate          time.Time
	Address             string
	SpecialInstructions string
	EstimatedWeightKg   *decimal.Decimal
	Emergency           bool
}

type Service struct {
	ledger *ledger.Ledger
	store  ledger.Store
	clock  ledger.Clock
	logger *zap.Logger
}

func NewService(l *ledger.Ledger, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{ledger: l, store: l.Store(), clock: l.Clock(), logger: logger}
}

// Schedule books a new pickup in the scheduled state. An emergency pickup
// must fall between the start of today and EmergencyWindow from now, and
// its fee is debited in the same unit of work that books it.
func (s *Service) Schedule(ctx context.Context, userID ledger.UserID, p ScheduleParams) (ledger.Pickup, error) {
	now := s.clock.Now()
	var estimate *decimal.Decimal
	if p.EstimatedWeightKg != nil {
		w := p.EstimatedWeightKg.Round(2)
		estimate = &w
	}

	var fields []ledger.FieldError
	if userID == "" {
		fields = append(fields, ledger.FieldError{Field: "user_id", Message: "required"})
	}
	if _, ok := Lookup(p.WasteType); !ok {
		fields = append(fields, ledger.FieldError{Field: "waste_type", Message: "unknown waste type"})
	}
	switch {
	case p.PickupDate.IsZero():
		fields = append(fields, ledger.FieldError{Field: "pickup_date", Message: "required"})
	case p.Emergency && (p.PickupDate.After(now.Add(EmergencyWindow)) || p.PickupDate.Before(now.Truncate(24*time.Hour))):
		fields = append(fields, ledger.FieldError{Field: "pickup_date", Message: "emergency pickups must be within the next 24 hours"})
	}
	if strings.TrimSpace(p.Address) == "" {
		fields = append(fields, ledger.FieldError{Field: "address", Message: "required"})
	}
	if estimate != nil && estimate.IsNegative() {
		fields = append(fields, ledger.FieldError{Field: "estimated_weight_kg", Message: "must not be negative"})
	} else if estimate != nil && estimate.GreaterThan(MaxWeightKg) {
		fields = append(fields, ledger.FieldError{Field: "estimated_weight_kg", Message: "must be at most " + MaxWeightKg.String()})
	}
	if len(fields) > 0 {
		return ledger.Pickup{}, ledger.NewValidationError("invalid_pickup", "pickup is invalid", fields...)
	}

	pickup := ledger.Pickup{
		ID:                  uuid.New(),
		UserID:              userID,
		Status:              ledger.PickupScheduled,
		WasteType:           p.WasteType,
		PickupDate:          p.PickupDate.UTC(),
		Address:             strings.TrimSpace(p.Address),
		SpecialInstructions: p.SpecialInstructions,
		EstimatedWeightKg:   estimate,
		Emergency:           p.Emergency,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if p.Emergency {
		pickup.EmergencyFee = EmergencyFee
		if err := s.scheduleEmergency(ctx, pickup); err != nil {
			s.logger.Warn("emergency pickup refused",
				zap.String("user_id", string(userID)),
				zap.Error(err))
			return ledger.Pickup{}, err
		}
		s.ledger.Committed(userID)
	} else if err := s.store.CreatePickup(ctx, pickup); err != nil {
		return ledger.Pickup{}, err
	}

	s.logger.Info("pickup scheduled",
		zap.String("user_id", string(userID)),
		zap.Stringer("pickup_id", pickup.ID),
		zap.String("waste_type", string(p.WasteType)),
		zap.Bool("emergency", p.Emergency))
	return pickup, nil
}

// scheduleEmergency books p and debits its fee together.
func (s *Service) scheduleEmergency(ctx context.Context, p ledger.Pickup) error {
	return s.store.WithUserTx(ctx, p.UserID, func(tx ledger.Tx) error {
		balance, err := s.ledger.BalanceTx(ctx, tx, p.UserID)
		if err != nil {
			return err
		}
		if balance < p.EmergencyFee {
			return &ledger.InsufficientPointsError{UserID: p.UserID, Available: balance, Required: p.EmergencyFee}
		}
		if err := tx.CreatePickup(ctx, p); err != nil {
			return err
		}
		_, err = s.ledger.AppendTx(ctx, tx, ledger.Entry{
			UserID:         p.UserID,
			Kind:           ledger.EntryPenalty,
			Points:         -p.EmergencyFee,
			Reference:      ledger.PickupRef(p.ID),
			Description:    "Emergency pickup fee",
			IdempotencyKey: "emergency:" + p.ID.String(),
			CreatedAt:      p.CreatedAt,
		})
		return err
	})
}

// Start assigns a driver and moves scheduled → in_progress.
func (s *Service) Start(ctx context.Context, pickupID uuid.UUID, driverID string) (ledger.Pickup, error) {
	return s.transition(ctx, pickupID, func(_ ledger.Tx, p *ledger.Pickup) error {
		if err := checkTransition(p.Status, ledger.PickupInProgress); err != nil {
			return err
		}
		p.Status = ledger.PickupInProgress
		if driverID != "" {
			p.DriverID = driverID
		}
		return nil
	})
}

// Complete moves in_progress → completed and awards points for the
// measured weight. Awarding and the status change commit together, so a
// pickup is credited at most once.
func (s *Service) Complete(ctx context.Context, pickupID uuid.UUID, actualWeightKg decimal.Decimal, driverNotes string) (ledger.Pickup, error) {
	weight := actualWeightKg.Round(2)
	if !weight.IsPositive() {
		return ledger.Pickup{}, ledger.NewValidationError("invalid_weight", "actual weight must be positive",
			ledger.FieldError{Field: "actual_weight_kg", Message: "must be positive"})
	}
	if weight.GreaterThan(MaxWeightKg) {
		return ledger.Pickup{}, ledger.NewValidationError("invalid_weight", "actual weight is too large",
			ledger.FieldError{Field: "actual_weight_kg", Message: "must be at most " + MaxWeightKg.String()})
	}

	return s.transition(ctx, pickupID, func(tx ledger.Tx, p *ledger.Pickup) error {
		if err := checkTransition(p.Status, ledger.PickupCompleted); err != nil {
			return err
		}

		now := s.clock.Now()
		points := Award(p.WasteType, weight)
		if points > 0 {
			_, err := s.ledger.AppendTx(ctx, tx, ledger.Entry{
				UserID:         p.UserID,
				Kind:           ledger.EntryEarned,
				Points:         points,
				Reference:      ledger.PickupRef(p.ID),
				Description:    "Pickup completed: " + weight.String() + "kg " + string(p.WasteType),
				IdempotencyKey: "pickup:" + p.ID.String(),
				CreatedAt:      now,
			})
			if err != nil {
				return err
			}
		}

		p.Status = ledger.PickupCompleted
		p.ActualWeightKg = &weight
		p.PointsAwarded = &points
		p.CompletedAt = &now
		if driverNotes != "" {
			p.DriverNotes = driverNotes
		}
		return nil
	})
}

// Cancel moves scheduled or in_progress → cancelled. Only the owner may
// cancel; cancelling an already cancelled pickup is a no-op. An emergency
// fee is refunded once.
func (s *Service) Cancel(ctx context.Context, userID ledger.UserID, pickupID uuid.UUID) (ledger.Pickup, error) {
	return s.transition(ctx, pickupID, func(tx ledger.Tx, p *ledger.Pickup) error {
		if p.UserID != userID {
			return &ledger.NotFoundError{Resource: "pickup", ID: pickupID.String()}
		}
		if p.Status == ledger.PickupCancelled {
			return errNoChange
		}
		if err := checkTransition(p.Status, ledger.PickupCancelled); err != nil {
			return err
		}
		p.Status = ledger.PickupCancelled
		if p.Emergency && p.EmergencyFee > 0 {
			_, err := s.ledger.AppendTx(ctx, tx, ledger.Entry{
				UserID:         p.UserID,
				Kind:           ledger.EntryRefund,
				Points:         p.EmergencyFee,
				Reference:      ledger.PickupRef(p.ID),
				Description:    "Emergency pickup fee refunded",
				IdempotencyKey: "refund:" + p.ID.String(),
				CreatedAt:      s.clock.Now(),
			})
			return err
		}
		return nil
	})
}

func (s *Service) Get(ctx context.Context, pickupID uuid.UUID) (ledger.Pickup, error) {
	return s.store.GetPickup(ctx, pickupID)
}

// List returns the user's pickups, latest pickup date first.
func (s *Service) List(ctx context.Context, userID ledger.UserID) ([]ledger.Pickup, error) {
	return s.store.ListPickups(ctx, userID)
}

// =============================================================================
// HELPERS
// =============================================================================

// errNoChange tells transition to return the pickup without writing.
var errNoChange = errors.New("no change")

// transition loads the pickup inside its owner's unit of work, applies
// mutate and persists the result.
func (s *Service) transition(ctx context.Context, pickupID uuid.UUID, mutate func(ledger.Tx, *ledger.Pickup) error) (ledger.Pickup, error) {
	current, err := s.store.GetPickup(ctx, pickupID)
	if err != nil {
		return ledger.Pickup{}, err
	}

	var (
		result  ledger.Pickup
		changed bool
	)
	err = s.store.WithUserTx(ctx, current.UserID, func(tx ledger.Tx) error {
		p, err := tx.GetPickup(ctx, pickupID)
		if err != nil {
			return err
		}
		from := p.Status
		if err := mutate(tx, &p); err != nil {
			if errors.Is(err, errNoChange) {
				result = p
				return nil
			}
			return err
		}
		p.UpdatedAt = s.clock.Now()
		if err := tx.UpdatePickup(ctx, p); err != nil {
			return err
		}
		s.logger.Debug("pickup transition",
			zap.Stringer("pickup_id", p.ID),
			zap.String("from", string(from)),
			zap.String("to", string(p.Status)))
		result = p
		changed = true
		return nil
	})
	if err != nil {
		s.logger.Warn("pickup transition failed",
			zap.Stringer("pickup_id", pickupID),
			zap.Error(err))
		return ledger.Pickup{}, err
	}
	if changed {
		s.ledger.Committed(result.UserID)
		s.logger.Info("pickup updated",
			zap.Stringer("pickup_id", result.ID),
			zap.String("status", string(result.Status)))
	}
	return result, nil
}
