/*
records.go - Records that reference ledger entries

PURPOSE:
  The ledger holds points; these records hold everything else that a
  spend or an award is attached to. Each record that moves points keeps
  the id of the entry it produced, and each such entry references the
  record back. The two are always written in the same unit of work.

RECORDS:
  Reward:     catalog item redeemable for points (optionally capped)
  Redemption: the result of a successful redeem, carries the code
  Pickup:     scheduled waste collection, earns points on completion
  Utility:    eco-store product bought with points
  Purchase:   one eco-store order, refunded when cancelled

SEE ALSO:
  - store.go: persistence contracts for these records
  - rewards/: redemption and purchase flows
  - pickup/: pickup state machine
*/
package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// REWARDS CATALOG
// =============================================================================

type RewardType string

const (
	RewardDiscount RewardType = "discount"
	RewardVoucher  RewardType = "voucher"
	RewardProduct  RewardType = "product"
	RewardCashback RewardType = "cashback"
)

func (t RewardType) Valid() bool {
	switch t {
	case RewardDiscount, RewardVoucher, RewardProduct, RewardCashback:
		return true
	}
	return false
}

type Reward struct {
	ID                 uuid.UUID  `json:"id"`
	Title              string     `json:"title"`
	Description        string     `json:"description,omitempty"`
	Type               RewardType `json:"reward_type"`
	PointsRequired     Points     `json:"points_required"`
	MaxRedemptions     *int       `json:"max_redemptions"` // nil = unlimited
	CurrentRedemptions int        `json:"current_redemptions"`
	ExpiryDays         int        `json:"expiry_days"` // 0 = service default
	Active             bool       `json:"is_active"`
	CreatedAt          time.Time  `json:"created_at"`
}

// SoldOut reports whether the cap has been reached.
func (r Reward) SoldOut() bool {
	return r.MaxRedemptions != nil && r.CurrentRedemptions >= *r.MaxRedemptions
}

// Remaining returns how many redemptions are left, or -1 if unlimited.
func (r Reward) Remaining() int {
	if r.MaxRedemptions == nil {
		return -1
	}
	if left := *r.MaxRedemptions - r.CurrentRedemptions; left > 0 {
		return left
	}
	return 0
}

// =============================================================================
// REDEMPTIONS
// =============================================================================

type RedemptionStatus string

const (
	RedemptionActive  RedemptionStatus = "active"
	RedemptionUsed    RedemptionStatus = "used"
	RedemptionExpired RedemptionStatus = "expired"
)

type Redemption struct {
	ID            uuid.UUID        `json:"id"`
	UserID        UserID           `json:"user_id"`
	RewardID      uuid.UUID        `json:"reward_id"`
	Code          string           `json:"redemption_code"`
	Status        RedemptionStatus `json:"status"`
	ExpiresAt     time.Time        `json:"expiry_date"`
	LedgerEntryID uuid.UUID        `json:"ledger_entry_id"`
	RedeemedAt    time.Time        `json:"redeemed_at"`
	UsedAt        *time.Time       `json:"used_at,omitempty"`
}

// StatusAt returns the status as observed at now. Active redemptions past
// their expiry read as expired even before the store is updated.
func (r Redemption) StatusAt(now time.Time) RedemptionStatus {
	if r.Status == RedemptionActive && !now.Before(r.ExpiresAt) {
		return RedemptionExpired
	}
	return r.Status
}

// =============================================================================
// PICKUPS
// =============================================================================

type WasteType string

const (
	WastePlastic    WasteType = "plastic"
	WastePaper      WasteType = "paper"
	WasteGlass      WasteType = "glass"
	WasteMetal      WasteType = "metal"
	WasteElectronic WasteType = "electronic"
	WasteOrganic    WasteType = "organic"
	WasteMixed      WasteType = "mixed"
)

type PickupStatus string

const (
	PickupScheduled  PickupStatus = "scheduled"
	PickupInProgress PickupStatus = "in_progress"
	PickupCompleted  PickupStatus = "completed"
	PickupCancelled  PickupStatus = "cancelled"
)

// Terminal reports whether no transition leaves this status.
func (s PickupStatus) Terminal() bool {
	return s == PickupCompleted || s == PickupCancelled
}

type Pickup struct {
	ID                  uuid.UUID        `json:"id"`
	UserID              UserID           `json:"user_id"`
	Status              PickupStatus     `json:"status"`
	WasteType           WasteType        `json:"waste_type"`
	PickupDate          time.Time        `json:"pickup_date"`
	Address             string           `json:"address"`
	SpecialInstructions string           `json:"special_instructions,omitempty"`
	EstimatedWeightKg   *decimal.Decimal `json:"estimated_weight_kg,omitempty"`
	ActualWeightKg      *decimal.Decimal `json:"actual_weight_kg,omitempty"`
	PointsAwarded       *Points          `json:"points_awarded,omitempty"` // set exactly once on completion
	Emergency           bool             `json:"is_emergency"`
	EmergencyFee        Points           `json:"emergency_fee_points,omitempty"`
	DriverID            string           `json:"driver_id,omitempty"`
	DriverNotes         string           `json:"driver_notes,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
	CompletedAt         *time.Time       `json:"completed_at,omitempty"`
}

// =============================================================================
// ECO-STORE
// =============================================================================

type Availability string

const (
	AvailabilityAvailable    Availability = "available"
	AvailabilityOutOfStock   Availability = "out_of_stock"
	AvailabilityDiscontinued Availability = "discontinued"
)

type Utility struct {
	ID           uuid.UUID    `json:"id"`
	Name         string       `json:"name"`
	Description  string       `json:"description,omitempty"`
	Category     string       `json:"category"`
	PricePoints  Points       `json:"price_points"`
	Availability Availability `json:"availability"`
	Active       bool         `json:"is_active"`
	CreatedAt    time.Time    `json:"created_at"`
}

type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryConfirmed DeliveryStatus = "confirmed"
	DeliveryShipped   DeliveryStatus = "shipped"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryCancelled DeliveryStatus = "cancelled"
)

type Purchase struct {
	ID              uuid.UUID      `json:"id"`
	UserID          UserID         `json:"user_id"`
	UtilityID       uuid.UUID      `json:"utility_id"`
	Quantity        int            `json:"quantity"`
	PointsSpent     Points         `json:"points_spent"`
	DeliveryAddress string         `json:"delivery_address"`
	DeliveryStatus  DeliveryStatus `json:"delivery_status"`
	TrackingNumber  string         `json:"tracking_number,omitempty"`
	LedgerEntryID   uuid.UUID      `json:"ledger_entry_id"`
	RefundEntryID   *uuid.UUID     `json:"refund_entry_id,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}
