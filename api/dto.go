/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Records from the
  ledger package already carry their JSON names and are returned as is;
  the types here cover request bodies and responses that combine or
  extend records.

NAMING CONVENTION:
  - *Request: Request body types from clients
  - *DTO: Response types returned to clients
  - *Response: Complex response wrappers

VALIDATION:
  Request types carry validate tags (go-playground/validator). Field names
  in errors are the JSON names. Business rules (balance, caps, state
  machine) are checked by the services, not here.

SEE ALSO:
  - handlers.go: Uses these types
  - validate.go: Validator setup
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/wastewise/ledger"
	"github.com/warp/wastewise/pickup"
	"github.com/warp/wastewise/rewards"
)

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string              `json:"error"`
	Code      string              `json:"code,omitempty"`
	Message   string              `json:"message,omitempty"`
	Fields    []ledger.FieldError `json:"fields,omitempty"`
	Available *ledger.Points      `json:"available,omitempty"`
	Required  *ledger.Points      `json:"required,omitempty"`
}

// =============================================================================
// BALANCE AND LEDGER
// =============================================================================

// BalanceAtDTO answers a point-in-time balance query.
type BalanceAtDTO struct {
	UserID  ledger.UserID `json:"user_id"`
	Balance ledger.Points `json:"balance"`
	AsOf    time.Time     `json:"as_of"`
}

type LedgerResponse struct {
	UserID  ledger.UserID  `json:"user_id"`
	Entries []ledger.Entry `json:"entries"`
	Total   ledger.Points  `json:"total"`
}

// DashboardResponse is the caller's overview.
type DashboardResponse struct {
	Summary           ledger.Summary    `json:"summary"`
	RecentEntries     []ledger.Entry    `json:"recent_entries"`
	UpcomingPickups   []ledger.Pickup   `json:"upcoming_pickups"`
	CompletedPickups  int               `json:"completed_pickups"`
	CollectedKg       decimal.Decimal   `json:"collected_kg"`
	ActiveRedemptions []RedemptionDTO   `json:"active_redemptions"`
	OpenPurchases     []ledger.Purchase `json:"open_purchases"`
}

// =============================================================================
// REWARDS
// =============================================================================

// RewardDTO adds the remaining count to a reward.
type RewardDTO struct {
	ledger.Reward
	Remaining *int `json:"remaining,omitempty"` // nil when unlimited
}

func toRewardDTO(r ledger.Reward) RewardDTO {
	dto := RewardDTO{Reward: r}
	if left := r.Remaining(); left >= 0 {
		dto.Remaining = &left
	}
	return dto
}

// RedemptionDTO adds the time left before expiry.
type RedemptionDTO struct {
	ledger.Redemption
	ExpiresInSeconds int64 `json:"expires_in_seconds"`
}

func toRedemptionDTO(r ledger.Redemption, now time.Time) RedemptionDTO {
	return RedemptionDTO{
		Redemption:       r,
		ExpiresInSeconds: int64(rewards.ExpiresIn(r, now) / time.Second),
	}
}

type CreateRewardRequest struct {
	Title          string `json:"title" validate:"required,max=200"`
	Description    string `json:"description" validate:"max=2000"`
	RewardType     string `json:"reward_type" validate:"required,oneof=discount voucher product cashback"`
	PointsRequired int64  `json:"points_required" validate:"required,gt=0,lte=1000000"`
	MaxRedemptions *int   `json:"max_redemptions" validate:"omitempty,gt=0"`
	ExpiryDays     int    `json:"expiry_days" validate:"gte=0,lte=3650"`
	IsActive       *bool  `json:"is_active"`
}

// =============================================================================
// PICKUPS
// =============================================================================

type SchedulePickupRequest struct {
	WasteType           string           `json:"waste_type" validate:"required,oneof=plastic paper glass metal electronic organic mixed"`
	PickupDate          time.Time        `json:"pickup_date" validate:"required"`
	Address             string           `json:"address" validate:"required,max=500"`
	SpecialInstructions string           `json:"special_instructions" validate:"max=1000"`
	EstimatedWeightKg   *decimal.Decimal `json:"estimated_weight_kg"`
	Emergency           bool             `json:"is_emergency"`
}

type StartPickupRequest struct {
	DriverID string `json:"driver_id" validate:"max=100"`
}

type CompletePickupRequest struct {
	ActualWeightKg decimal.Decimal `json:"actual_weight_kg"`
	DriverNotes    string          `json:"driver_notes" validate:"max=1000"`
}

// WasteTypesResponse lists the rate table.
type WasteTypesResponse struct {
	WasteTypes []pickup.WasteInfo `json:"waste_types"`
}

// =============================================================================
// ECO-STORE
// =============================================================================

type PurchaseRequest struct {
	Quantity        int    `json:"quantity" validate:"required,gte=1,lte=99"`
	DeliveryAddress string `json:"delivery_address" validate:"required,max=500"`
}

type AdvanceDeliveryRequest struct {
	Status         string `json:"status" validate:"required,oneof=confirmed shipped delivered"`
	TrackingNumber string `json:"tracking_number" validate:"max=100"`
}

type CreateUtilityRequest struct {
	Name         string `json:"name" validate:"required,max=200"`
	Description  string `json:"description" validate:"max=2000"`
	Category     string `json:"category" validate:"required"`
	PricePoints  int64  `json:"price_points" validate:"required,gt=0,lte=1000000"`
	Availability string `json:"availability" validate:"omitempty,oneof=available out_of_stock discontinued"`
	IsActive     *bool  `json:"is_active"`
}

type SetAvailabilityRequest struct {
	Availability string `json:"availability" validate:"required,oneof=available out_of_stock discontinued"`
}

// =============================================================================
// ADMIN AND ASSISTANT
// =============================================================================

// AdjustmentRequest grants a bonus or applies a penalty. Points is the
// magnitude; the sign follows the kind.
type AdjustmentRequest struct {
	UserID         string `json:"user_id" validate:"required,max=100"`
	Kind           string `json:"kind" validate:"required,oneof=bonus penalty"`
	Points         int64  `json:"points" validate:"required,gt=0,lte=1000000"`
	Description    string `json:"description" validate:"required,max=500"`
	IdempotencyKey string `json:"idempotency_key" validate:"max=200"`
}

type AssistantRequest struct {
	Message string `json:"message" validate:"required,max=2000"`
}
