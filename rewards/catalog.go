package rewards

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/wastewise/ledger"
)

// =============================================================================
// CATALOG - Rewards and eco-store item administration
// =============================================================================

// UtilityCategories lists the eco-store categories accepted on create.
var UtilityCategories = []string{
	"recycling_tools",
	"eco_products",
	"energy_saving",
	"water_saving",
	"composting",
	"other",
}

type Catalog struct {
	store  ledger.Store
	clock  ledger.Clock
	logger *zap.Logger
}

func NewCatalog(store ledger.Store, clock ledger.Clock, logger *zap.Logger) *Catalog {
	if clock == nil {
		clock = ledger.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{store: store, clock: clock, logger: logger}
}

func (c *Catalog) ListRewards(ctx context.Context, activeOnly bool) ([]ledger.Reward, error) {
	return c.store.ListRewards(ctx, activeOnly)
}

func (c *Catalog) GetReward(ctx context.Context, id uuid.UUID) (ledger.Reward, error) {
	return c.store.GetReward(ctx, id)
}

// CreateReward validates r and stores it as a new catalog entry. A zero
// ID is assigned; the redemption counter always starts at zero.
func (c *Catalog) CreateReward(ctx context.Context, r ledger.Reward) (ledger.Reward, error) {
	if err := ValidateReward(r); err != nil {
		return ledger.Reward{}, err
	}
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	r.CurrentRedemptions = 0
	if r.CreatedAt.IsZero() {
		r.CreatedAt = c.clock.Now()
	}
	if err := c.store.SaveReward(ctx, r); err != nil {
		return ledger.Reward{}, err
	}
	c.logger.Info("reward created", zap.Stringer("reward_id", r.ID), zap.String("title", r.Title))
	return r, nil
}

// ValidateReward checks the catalog fields of r.
func ValidateReward(r ledger.Reward) error {
	var fields []ledger.FieldError
	if strings.TrimSpace(r.Title) == "" {
		fields = append(fields, ledger.FieldError{Field: "title", Message: "required"})
	}
	if !r.Type.Valid() {
		fields = append(fields, ledger.FieldError{Field: "reward_type", Message: "must be one of discount, voucher, product, cashback"})
	}
	if r.PointsRequired <= 0 {
		fields = append(fields, ledger.FieldError{Field: "points_required", Message: "must be positive"})
	} else if r.PointsRequired > ledger.MaxCatalogPoints {
		fields = append(fields, ledger.FieldError{Field: "points_required", Message: "must be at most 1000000"})
	}
	if r.MaxRedemptions != nil && *r.MaxRedemptions < 1 {
		fields = append(fields, ledger.FieldError{Field: "max_redemptions", Message: "must be at least 1"})
	}
	if r.ExpiryDays < 0 {
		fields = append(fields, ledger.FieldError{Field: "expiry_days", Message: "must not be negative"})
	}
	if len(fields) > 0 {
		return ledger.NewValidationError("invalid_reward", "reward is invalid", fields...)
	}
	return nil
}

func (c *Catalog) ListUtilities(ctx context.Context, activeOnly bool) ([]ledger.Utility, error) {
	return c.store.ListUtilities(ctx, activeOnly)
}

func (c *Catalog) GetUtility(ctx context.Context, id uuid.UUID) (ledger.Utility, error) {
	return c.store.GetUtility(ctx, id)
}

// CreateUtility validates u and stores it. Availability defaults to
// available.
func (c *Catalog) CreateUtility(ctx context.Context, u ledger.Utility) (ledger.Utility, error) {
	if u.Availability == "" {
		u.Availability = ledger.AvailabilityAvailable
	}
	if err := ValidateUtility(u); err != nil {
		return ledger.Utility{}, err
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = c.clock.Now()
	}
	if err := c.store.SaveUtility(ctx, u); err != nil {
		return ledger.Utility{}, err
	}
	c.logger.Info("utility created", zap.Stringer("utility_id", u.ID), zap.String("name", u.Name))
	return u, nil
}

// SetAvailability changes an item's stock state.
func (c *Catalog) SetAvailability(ctx context.Context, id uuid.UUID, a ledger.Availability) (ledger.Utility, error) {
	u, err := c.store.GetUtility(ctx, id)
	if err != nil {
		return ledger.Utility{}, err
	}
	u.Availability = a
	if err := ValidateUtility(u); err != nil {
		return ledger.Utility{}, err
	}
	if err := c.store.SaveUtility(ctx, u); err != nil {
		return ledger.Utility{}, err
	}
	return u, nil
}

func ValidateUtility(u ledger.Utility) error {
	var fields []ledger.FieldError
	if strings.TrimSpace(u.Name) == "" {
		fields = append(fields, ledger.FieldError{Field: "name", Message: "required"})
	}
	if !validCategory(u.Category) {
		fields = append(fields, ledger.FieldError{Field: "category", Message: "must be one of " + strings.Join(UtilityCategories, ", ")})
	}
	if u.PricePoints <= 0 {
		fields = append(fields, ledger.FieldError{Field: "price_points", Message: "must be positive"})
	} else if u.PricePoints > ledger.MaxCatalogPoints {
		fields = append(fields, ledger.FieldError{Field: "price_points", Message: "must be at most 1000000"})
	}
	switch u.Availability {
	case ledger.AvailabilityAvailable, ledger.AvailabilityOutOfStock, ledger.AvailabilityDiscontinued:
	default:
		fields = append(fields, ledger.FieldError{Field: "availability", Message: "unknown"})
	}
	if len(fields) > 0 {
		return ledger.NewValidationError("invalid_utility", "utility is invalid", fields...)
	}
	return nil
}

func validCategory(c string) bool {
	for _, known := range UtilityCategories {
		if c == known {
			return true
		}
	}
	return false
}
