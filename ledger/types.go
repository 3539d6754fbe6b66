/*
Package ledger provides the points ledger engine.

PURPOSE:
  This package contains the append-only points ledger, the balance
  projection that folds it, the error taxonomy shared by every domain
  package, and the persistence contracts the stores implement. Rewards,
  eco-store purchases, and waste pickups all move points exclusively
  through this package.

KEY CONCEPTS IN THIS FILE (types.go):
  - Points: signed integer quantity (never floating point)
  - Entry: an immutable ledger entry recording a balance change
  - EntryKind: why the balance changed (earned, redeemed, ...)
  - Reference: what caused the change (pickup, reward, purchase)
  - Summary: a projection of the ledger for one user

DESIGN PRINCIPLES:
  1. Immutability: entries are never modified, only compensated
  2. Integers: points are int64; fractional inputs are rounded at award time
  3. Type Safety: UserID is distinct from record UUIDs
  4. Ordering: the store assigns a strictly increasing Seq to each entry

USAGE:
  entry := ledger.Entry{
      UserID: "user-123",
      Kind:   ledger.EntryBonus,
      Points: 50,
  }
  written, err := l.Append(ctx, entry)

SEE ALSO:
  - ledger.go: append with the non-negative balance check
  - balance.go: Projector (balance folding and caching)
  - store.go: persistence interfaces
*/
package ledger

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// IDENTIFIERS & QUANTITIES
// =============================================================================

// UserID is the stable identifier supplied by the identity provider.
type UserID string

// Points is a signed amount of reward points.
type Points int64

const (
	// MaxCatalogPoints bounds a reward cost, an item price or an admin
	// adjustment.
	MaxCatalogPoints Points = 1_000_000

	// MaxEntryPoints bounds the magnitude of a single ledger entry.
	MaxEntryPoints Points = 1_000_000_000
)

// =============================================================================
// ENTRY KINDS
// =============================================================================

type EntryKind string

const (
	EntryEarned    EntryKind = "earned"    // Pickup completed
	EntryRedeemed  EntryKind = "redeemed"  // Reward redeemed (always paired with a Redemption)
	EntryBonus     EntryKind = "bonus"     // Promotional or admin grant
	EntryPenalty   EntryKind = "penalty"   // Admin deduction
	EntryRefund    EntryKind = "refund"    // Compensation for a cancelled spend
	EntryPurchased EntryKind = "purchased" // Eco-store purchase (always paired with a Purchase)
)

// EntryKinds lists every valid kind in display order.
var EntryKinds = []EntryKind{EntryEarned, EntryRedeemed, EntryBonus, EntryPenalty, EntryRefund, EntryPurchased}

func (k EntryKind) Valid() bool {
	switch k {
	case EntryEarned, EntryRedeemed, EntryBonus, EntryPenalty, EntryRefund, EntryPurchased:
		return true
	}
	return false
}

// Credit reports whether entries of this kind must carry a positive delta.
// Debit kinds must carry a negative one.
func (k EntryKind) Credit() bool {
	return k == EntryEarned || k == EntryBonus || k == EntryRefund
}

// =============================================================================
// REFERENCES
// =============================================================================

type RefType string

const (
	RefPickup   RefType = "pickup"
	RefReward   RefType = "reward"
	RefPurchase RefType = "purchase"
)

// Reference points at the record that caused an entry.
type Reference struct {
	Type RefType   `json:"type"`
	ID   uuid.UUID `json:"id"`
}

func PickupRef(id uuid.UUID) *Reference   { return &Reference{Type: RefPickup, ID: id} }
func RewardRef(id uuid.UUID) *Reference   { return &Reference{Type: RefReward, ID: id} }
func PurchaseRef(id uuid.UUID) *Reference { return &Reference{Type: RefPurchase, ID: id} }

// =============================================================================
// ENTRY - Immutable change to a user's balance
// =============================================================================

type Entry struct {
	ID             uuid.UUID  `json:"id"`
	Seq            int64      `json:"seq"` // assigned by the store on append
	UserID         UserID     `json:"user_id"`
	Kind           EntryKind  `json:"kind"`
	Points         Points     `json:"points"`
	Reference      *Reference `json:"reference,omitempty"`
	Description    string     `json:"description,omitempty"`
	IdempotencyKey string     `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Validate checks the entry shape. It does not look at the balance.
func (e Entry) Validate() error {
	if e.UserID == "" {
		return NewValidationError("invalid_entry", "user id is required", FieldError{Field: "user_id", Message: "required"})
	}
	if !e.Kind.Valid() {
		return NewValidationError("invalid_entry", "unknown entry kind "+string(e.Kind), FieldError{Field: "kind", Message: "unknown"})
	}
	if e.Points == 0 {
		return NewValidationError("invalid_entry", "points must be non-zero", FieldError{Field: "points", Message: "must be non-zero"})
	}
	if e.Points > MaxEntryPoints || e.Points < -MaxEntryPoints {
		return NewValidationError("invalid_entry", "points out of range", FieldError{Field: "points", Message: "must be within 1000000000 of zero"})
	}
	if e.Kind.Credit() && e.Points < 0 {
		return NewValidationError("invalid_entry", string(e.Kind)+" entries must be positive", FieldError{Field: "points", Message: "must be positive"})
	}
	if !e.Kind.Credit() && e.Points > 0 {
		return NewValidationError("invalid_entry", string(e.Kind)+" entries must be negative", FieldError{Field: "points", Message: "must be negative"})
	}
	return nil
}

// EntryQuery narrows a per-user entry scan.
type EntryQuery struct {
	// AfterSeq returns only entries with Seq > AfterSeq.
	AfterSeq int64
	// Before returns only entries created strictly before this instant.
	Before *time.Time
}

// =============================================================================
// SUMMARY - Projection of a user's ledger
// =============================================================================

type Summary struct {
	UserID    UserID    `json:"user_id"`
	Balance   Points    `json:"balance"`
	Earned    Points    `json:"earned"`
	Bonus     Points    `json:"bonus"`
	Refunded  Points    `json:"refunded"`
	Redeemed  Points    `json:"redeemed"`  // reported as a positive amount
	Purchased Points    `json:"purchased"` // reported as a positive amount
	Penalties Points    `json:"penalties"` // reported as a positive amount
	Entries   int       `json:"entries"`
	LastSeq   int64     `json:"last_seq"`
	AsOf      time.Time `json:"as_of"`
}

// Apply folds one entry into the summary.
func (s *Summary) Apply(e Entry) {
	s.Balance += e.Points
	s.Entries++
	if e.Seq > s.LastSeq {
		s.LastSeq = e.Seq
	}
	switch e.Kind {
	case EntryEarned:
		s.Earned += e.Points
	case EntryBonus:
		s.Bonus += e.Points
	case EntryRefund:
		s.Refunded += e.Points
	case EntryRedeemed:
		s.Redeemed -= e.Points
	case EntryPurchased:
		s.Purchased -= e.Points
	case EntryPenalty:
		s.Penalties -= e.Points
	}
}

// Fold sums the entries.
func Fold(entries []Entry) Points {
	var total Points
	for _, e := range entries {
		total += e.Points
	}
	return total
}
