/*
store.go - Persistence interfaces for the ledger and its records

PURPOSE:
  Defines the interface between the domain logic and the database.
  Implementations use SQLite, PostgreSQL, or in-memory storage.

KEY INTERFACES:
  EntryReader:  Ordered per-user entry scans (what the Projector needs)
  EntryStore:   EntryReader plus the single append operation
  RewardStore:  Rewards catalog and redemptions
  PickupStore:  Pickup records
  UtilityStore: Eco-store items and purchases
  Tx:           All of the above, bound to one unit of work
  Store:        Tx plus WithUserTx, the atomic per-user section

APPEND-ONLY CONTRACT:
  Ledger entries are never updated or deleted. Corrections are written
  as new compensating entries (refund, penalty).

PER-USER UNITS OF WORK:
  WithUserTx runs fn with exclusive access to one user's ledger. Every
  write that fn performs through the Tx commits together or not at all.
  Two units of work for the same user never interleave. The wait for
  exclusivity is bounded; on timeout the call fails with a StoreError
  (ErrStoreUnavailable) and nothing is written.

IMPLEMENTATIONS:
  - store/sqlite:   SQLite via mattn/go-sqlite3
  - store/postgres: PostgreSQL via pgx
  - store/memory:   In-memory for tests and demos

SEE ALSO:
  - ledger.go: Higher-level append with balance checks
  - store/sqlstore: shared SQL implementation
*/
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ENTRIES - Append-only
// =============================================================================

//go:generate mockgen -destination=entryreader_mock.go -package=ledger . EntryReader

// EntryReader reads a user's entries in ascending Seq order.
type EntryReader interface {
	// Entries returns the user's entries matching q, oldest first.
	Entries(ctx context.Context, userID UserID, q EntryQuery) ([]Entry, error)

	// LatestSeq returns the highest Seq written for the user, or 0.
	LatestSeq(ctx context.Context, userID UserID) (int64, error)
}

type EntryStore interface {
	EntryReader

	// AppendEntry persists e and sets its Seq. This is the ONLY ledger
	// write operation.
	AppendEntry(ctx context.Context, e *Entry) error

	// EntryByIdempotencyKey returns the entry previously written under key.
	// Returns a NotFoundError when none exists.
	EntryByIdempotencyKey(ctx context.Context, userID UserID, key string) (Entry, error)
}

// =============================================================================
// RECORDS
// =============================================================================

type RewardStore interface {
	GetReward(ctx context.Context, id uuid.UUID) (Reward, error)
	SaveReward(ctx context.Context, r Reward) error
	ListRewards(ctx context.Context, activeOnly bool) ([]Reward, error)

	// IncrementRedemptions adds one to the reward's counter if it is below
	// the cap. Returns ErrSoldOut otherwise.
	IncrementRedemptions(ctx context.Context, rewardID uuid.UUID) error

	CreateRedemption(ctx context.Context, r Redemption) error
	GetRedemptionByCode(ctx context.Context, code string) (Redemption, error)
	UpdateRedemption(ctx context.Context, r Redemption) error
	// ListRedemptions returns the user's redemptions, newest first.
	ListRedemptions(ctx context.Context, userID UserID) ([]Redemption, error)
	// ListLapsedRedemptions returns up to limit redemptions of any user
	// still stored as active whose expiry is at or before now, soonest
	// expiry first.
	ListLapsedRedemptions(ctx context.Context, now time.Time, limit int) ([]Redemption, error)
}

type PickupStore interface {
	CreatePickup(ctx context.Context, p Pickup) error
	GetPickup(ctx context.Context, id uuid.UUID) (Pickup, error)
	UpdatePickup(ctx context.Context, p Pickup) error
	// ListPickups returns the user's pickups, newest pickup date first.
	ListPickups(ctx context.Context, userID UserID) ([]Pickup, error)
}

type UtilityStore interface {
	SaveUtility(ctx context.Context, u Utility) error
	GetUtility(ctx context.Context, id uuid.UUID) (Utility, error)
	ListUtilities(ctx context.Context, activeOnly bool) ([]Utility, error)

	CreatePurchase(ctx context.Context, p Purchase) error
	GetPurchase(ctx context.Context, id uuid.UUID) (Purchase, error)
	UpdatePurchase(ctx context.Context, p Purchase) error
	// ListPurchases returns the user's purchases, newest first.
	ListPurchases(ctx context.Context, userID UserID) ([]Purchase, error)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// Tx is the full store surface bound to a single unit of work.
type Tx interface {
	EntryStore
	RewardStore
	PickupStore
	UtilityStore
}

// Store is the root persistence handle. Outside WithUserTx each call is
// its own unit of work.
type Store interface {
	Tx

	// WithUserTx executes fn within a unit of work that holds exclusive
	// access to userID's ledger. If fn returns an error, every write is
	// rolled back. If fn returns nil, the writes are committed.
	WithUserTx(ctx context.Context, userID UserID, fn func(Tx) error) error

	// Migrate creates the schema if it does not exist.
	Migrate(ctx context.Context) error

	Close() error
}
