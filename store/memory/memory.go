// Package memory provides an in-memory ledger.Store.
//
// The store has a single writer: every call, and every WithUserTx unit of
// work, holds one lock for its duration. A unit of work is simulated with a
// snapshot that is restored if fn returns an error. Waiting for the lock is
// bounded by the configured transaction timeout.
package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/warp/wastewise/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

const DefaultTxTimeout = 5 * time.Second

type Store struct {
	sem       chan struct{}
	txTimeout time.Duration
	state     *state
}

type Option func(*Store)

// WithTxTimeout bounds how long a call waits for the store lock.
func WithTxTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.txTimeout = d
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		sem:       make(chan struct{}, 1),
		txTimeout: DefaultTxTimeout,
		state:     newState(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ ledger.Store = (*Store)(nil)

func (s *Store) Migrate(context.Context) error { return nil }
func (s *Store) Close() error                  { return nil }

func (s *Store) acquire(ctx context.Context, op string) error {
	ctx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return &ledger.StoreError{Op: op, Err: fmt.Errorf("waiting for lock: %w", ctx.Err())}
	}
}

func (s *Store) release() { <-s.sem }

// do runs fn while holding the store lock.
func (s *Store) do(ctx context.Context, op string, fn func(st *state) error) error {
	if err := s.acquire(ctx, op); err != nil {
		return err
	}
	defer s.release()
	return fn(s.state)
}

// WithUserTx executes fn within a unit of work.
// For the memory store this is a snapshot plus rollback on error or panic.
func (s *Store) WithUserTx(ctx context.Context, _ ledger.UserID, fn func(ledger.Tx) error) error {
	if err := s.acquire(ctx, "begin"); err != nil {
		return err
	}
	defer s.release()

	snapshot := s.state.clone()
	defer func() {
		if r := recover(); r != nil {
			s.state = snapshot
			panic(r)
		}
	}()
	if err := fn(s.state); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

// =============================================================================
// LOCKED ACCESSORS - ledger.Tx outside a unit of work
// =============================================================================

func (s *Store) Entries(ctx context.Context, userID ledger.UserID, q ledger.EntryQuery) (out []ledger.Entry, err error) {
	err = s.do(ctx, "entries", func(st *state) (err error) {
		out, err = st.Entries(ctx, userID, q)
		return
	})
	return
}

func (s *Store) LatestSeq(ctx context.Context, userID ledger.UserID) (seq int64, err error) {
	err = s.do(ctx, "latest seq", func(st *state) (err error) {
		seq, err = st.LatestSeq(ctx, userID)
		return
	})
	return
}

func (s *Store) AppendEntry(ctx context.Context, e *ledger.Entry) error {
	return s.do(ctx, "append entry", func(st *state) error { return st.AppendEntry(ctx, e) })
}

func (s *Store) EntryByIdempotencyKey(ctx context.Context, userID ledger.UserID, key string) (e ledger.Entry, err error) {
	err = s.do(ctx, "entry by key", func(st *state) (err error) {
		e, err = st.EntryByIdempotencyKey(ctx, userID, key)
		return
	})
	return
}

func (s *Store) GetReward(ctx context.Context, id uuid.UUID) (r ledger.Reward, err error) {
	err = s.do(ctx, "get reward", func(st *state) (err error) {
		r, err = st.GetReward(ctx, id)
		return
	})
	return
}

func (s *Store) SaveReward(ctx context.Context, r ledger.Reward) error {
	return s.do(ctx, "save reward", func(st *state) error { return st.SaveReward(ctx, r) })
}

func (s *Store) ListRewards(ctx context.Context, activeOnly bool) (out []ledger.Reward, err error) {
	err = s.do(ctx, "list rewards", func(st *state) (err error) {
		out, err = st.ListRewards(ctx, activeOnly)
		return
	})
	return
}

func (s *Store) IncrementRedemptions(ctx context.Context, rewardID uuid.UUID) error {
	return s.do(ctx, "increment redemptions", func(st *state) error { return st.IncrementRedemptions(ctx, rewardID) })
}

func (s *Store) CreateRedemption(ctx context.Context, r ledger.Redemption) error {
	return s.do(ctx, "create redemption", func(st *state) error { return st.CreateRedemption(ctx, r) })
}

func (s *Store) GetRedemptionByCode(ctx context.Context, code string) (r ledger.Redemption, err error) {
	err = s.do(ctx, "get redemption", func(st *state) (err error) {
		r, err = st.GetRedemptionByCode(ctx, code)
		return
	})
	return
}

func (s *Store) UpdateRedemption(ctx context.Context, r ledger.Redemption) error {
	return s.do(ctx, "update redemption", func(st *state) error { return st.UpdateRedemption(ctx, r) })
}

func (s *Store) ListRedemptions(ctx context.Context, userID ledger.UserID) (out []ledger.Redemption, err error) {
	err = s.do(ctx, "list redemptions", func(st *state) (err error) {
		out, err = st.ListRedemptions(ctx, userID)
		return
	})
	return
}

func (s *Store) ListLapsedRedemptions(ctx context.Context, now time.Time, limit int) (out []ledger.Redemption, err error) {
	err = s.do(ctx, "list lapsed redemptions", func(st *state) (err error) {
		out, err = st.ListLapsedRedemptions(ctx, now, limit)
		return
	})
	return
}

func (s *Store) CreatePickup(ctx context.Context, p ledger.Pickup) error {
	return s.do(ctx, "create pickup", func(st *state) error { return st.CreatePickup(ctx, p) })
}

func (s *Store) GetPickup(ctx context.Context, id uuid.UUID) (p ledger.Pickup, err error) {
	err = s.do(ctx, "get pickup", func(st *state) (err error) {
		p, err = st.GetPickup(ctx, id)
		return
	})
	return
}

func (s *Store) UpdatePickup(ctx context.Context, p ledger.Pickup) error {
	return s.do(ctx, "update pickup", func(st *state) error { return st.UpdatePickup(ctx, p) })
}

func (s *Store) ListPickups(ctx context.Context, userID ledger.UserID) (out []ledger.Pickup, err error) {
	err = s.do(ctx, "list pickups", func(st *state) (err error) {
		out, err = st.ListPickups(ctx, userID)
		return
	})
	return
}

func (s *Store) SaveUtility(ctx context.Context, u ledger.Utility) error {
	return s.do(ctx, "save utility", func(st *state) error { return st.SaveUtility(ctx, u) })
}

func (s *Store) GetUtility(ctx context.Context, id uuid.UUID) (u ledger.Utility, err error) {
	err = s.do(ctx, "get utility", func(st *state) (err error) {
		u, err = st.GetUtility(ctx, id)
		return
	})
	return
}

func (s *Store) ListUtilities(ctx context.Context, activeOnly bool) (out []ledger.Utility, err error) {
	err = s.do(ctx, "list utilities", func(st *state) (err error) {
		out, err = st.ListUtilities(ctx, activeOnly)
		return
	})
	return
}

func (s *Store) CreatePurchase(ctx context.Context, p ledger.Purchase) error {
	return s.do(ctx, "create purchase", func(st *state) error { return st.CreatePurchase(ctx, p) })
}

func (s *Store) GetPurchase(ctx context.Context, id uuid.UUID) (p ledger.Purchase, err error) {
	err = s.do(ctx, "get purchase", func(st *state) (err error) {
		p, err = st.GetPurchase(ctx, id)
		return
	})
	return
}

func (s *Store) UpdatePurchase(ctx context.Context, p ledger.Purchase) error {
	return s.do(ctx, "update purchase", func(st *state) error { return st.UpdatePurchase(ctx, p) })
}

func (s *Store) ListPurchases(ctx context.Context, userID ledger.UserID) (out []ledger.Purchase, err error) {
	err = s.do(ctx, "list purchases", func(st *state) (err error) {
		out, err = st.ListPurchases(ctx, userID)
		return
	})
	return
}

// =============================================================================
// STATE - Unlocked data, also the ledger.Tx handed to WithUserTx
// =============================================================================

type idemKey struct {
	UserID ledger.UserID
	Key    string
}

type state struct {
	seq         int64
	entries     map[ledger.UserID][]ledger.Entry
	idempotency map[idemKey]ledger.Entry
	rewards     map[uuid.UUID]ledger.Reward
	redemptions map[string]ledger.Redemption // by code
	pickups     map[uuid.UUID]ledger.Pickup
	utilities   map[uuid.UUID]ledger.Utility
	purchases   map[uuid.UUID]ledger.Purchase
}

func newState() *state {
	return &state{
		entries:     make(map[ledger.UserID][]ledger.Entry),
		idempotency: make(map[idemKey]ledger.Entry),
		rewards:     make(map[uuid.UUID]ledger.Reward),
		redemptions: make(map[string]ledger.Redemption),
		pickups:     make(map[uuid.UUID]ledger.Pickup),
		utilities:   make(map[uuid.UUID]ledger.Utility),
		purchases:   make(map[uuid.UUID]ledger.Purchase),
	}
}

func (st *state) clone() *state {
	c := newState()
	c.seq = st.seq
	for k, v := range st.entries {
		c.entries[k] = append([]ledger.Entry(nil), v...)
	}
	copyMap(c.idempotency, st.idempotency)
	copyMap(c.rewards, st.rewards)
	copyMap(c.redemptions, st.redemptions)
	copyMap(c.pickups, st.pickups)
	copyMap(c.utilities, st.utilities)
	copyMap(c.purchases, st.purchases)
	return c
}

func copyMap[K comparable, V any](dst, src map[K]V) {
	for k, v := range src {
		dst[k] = v
	}
}

var _ ledger.Tx = (*state)(nil)

func (st *state) Entries(_ context.Context, userID ledger.UserID, q ledger.EntryQuery) ([]ledger.Entry, error) {
	var result []ledger.Entry
	for _, e := range st.entries[userID] {
		if e.Seq <= q.AfterSeq {
			continue
		}
		if q.Before != nil && !e.CreatedAt.Before(*q.Before) {
			continue
		}
		result = append(result, e)
	}
	return result, nil
}

func (st *state) LatestSeq(_ context.Context, userID ledger.UserID) (int64, error) {
	entries := st.entries[userID]
	if len(entries) == 0 {
		return 0, nil
	}
	return entries[len(entries)-1].Seq, nil
}

func (st *state) AppendEntry(_ context.Context, e *ledger.Entry) error {
	if e.IdempotencyKey != "" {
		if _, ok := st.idempotency[idemKey{e.UserID, e.IdempotencyKey}]; ok {
			return &ledger.StoreError{Op: "append entry", Err: fmt.Errorf("duplicate idempotency key %q", e.IdempotencyKey)}
		}
	}
	st.seq++
	e.Seq = st.seq
	st.entries[e.UserID] = append(st.entries[e.UserID], *e)
	if e.IdempotencyKey != "" {
		st.idempotency[idemKey{e.UserID, e.IdempotencyKey}] = *e
	}
	return nil
}

func (st *state) EntryByIdempotencyKey(_ context.Context, userID ledger.UserID, key string) (ledger.Entry, error) {
	e, ok := st.idempotency[idemKey{userID, key}]
	if !ok {
		return ledger.Entry{}, &ledger.NotFoundError{Resource: "entry", ID: key}
	}
	return e, nil
}

// Rewards

func (st *state) GetReward(_ context.Context, id uuid.UUID) (ledger.Reward, error) {
	r, ok := st.rewards[id]
	if !ok {
		return ledger.Reward{}, &ledger.NotFoundError{Resource: "reward", ID: id.String()}
	}
	return r, nil
}

func (st *state) SaveReward(_ context.Context, r ledger.Reward) error {
	if existing, ok := st.rewards[r.ID]; ok {
		r.CurrentRedemptions = existing.CurrentRedemptions
		r.CreatedAt = existing.CreatedAt
	}
	st.rewards[r.ID] = r
	return nil
}

func (st *state) ListRewards(_ context.Context, activeOnly bool) ([]ledger.Reward, error) {
	var result []ledger.Reward
	for _, r := range st.rewards {
		if activeOnly && !r.Active {
			continue
		}
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].PointsRequired != result[j].PointsRequired {
			return result[i].PointsRequired < result[j].PointsRequired
		}
		return result[i].Title < result[j].Title
	})
	return result, nil
}

func (st *state) IncrementRedemptions(_ context.Context, rewardID uuid.UUID) error {
	r, ok := st.rewards[rewardID]
	if !ok {
		return &ledger.NotFoundError{Resource: "reward", ID: rewardID.String()}
	}
	if r.SoldOut() {
		return fmt.Errorf("reward %s: %w", rewardID, ledger.ErrSoldOut)
	}
	r.CurrentRedemptions++
	st.rewards[rewardID] = r
	return nil
}

func (st *state) CreateRedemption(_ context.Context, r ledger.Redemption) error {
	if _, ok := st.redemptions[r.Code]; ok {
		return &ledger.StoreError{Op: "create redemption", Err: fmt.Errorf("duplicate code %q", r.Code)}
	}
	st.redemptions[r.Code] = r
	return nil
}

func (st *state) GetRedemptionByCode(_ context.Context, code string) (ledger.Redemption, error) {
	r, ok := st.redemptions[code]
	if !ok {
		return ledger.Redemption{}, &ledger.NotFoundError{Resource: "redemption", ID: code}
	}
	return r, nil
}

func (st *state) UpdateRedemption(_ context.Context, r ledger.Redemption) error {
	if _, ok := st.redemptions[r.Code]; !ok {
		return &ledger.NotFoundError{Resource: "redemption", ID: r.Code}
	}
	st.redemptions[r.Code] = r
	return nil
}

func (st *state) ListRedemptions(_ context.Context, userID ledger.UserID) ([]ledger.Redemption, error) {
	var result []ledger.Redemption
	for _, r := range st.redemptions {
		if r.UserID == userID {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].RedeemedAt.Equal(result[j].RedeemedAt) {
			return result[i].RedeemedAt.After(result[j].RedeemedAt)
		}
		return result[i].Code > result[j].Code
	})
	return result, nil
}

func (st *state) ListLapsedRedemptions(_ context.Context, now time.Time, limit int) ([]ledger.Redemption, error) {
	var result []ledger.Redemption
	for _, r := range st.redemptions {
		if r.Status == ledger.RedemptionActive && !r.ExpiresAt.After(now) {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].ExpiresAt.Equal(result[j].ExpiresAt) {
			return result[i].ExpiresAt.Before(result[j].ExpiresAt)
		}
		return result[i].Code < result[j].Code
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Pickups

func (st *state) CreatePickup(_ context.Context, p ledger.Pickup) error {
	st.pickups[p.ID] = p
	return nil
}

func (st *state) GetPickup(_ context.Context, id uuid.UUID) (ledger.Pickup, error) {
	p, ok := st.pickups[id]
	if !ok {
		return ledger.Pickup{}, &ledger.NotFoundError{Resource: "pickup", ID: id.String()}
	}
	return p, nil
}

func (st *state) UpdatePickup(_ context.Context, p ledger.Pickup) error {
	if _, ok := st.pickups[p.ID]; !ok {
		return &ledger.NotFoundError{Resource: "pickup", ID: p.ID.String()}
	}
	st.pickups[p.ID] = p
	return nil
}

func (st *state) ListPickups(_ context.Context, userID ledger.UserID) ([]ledger.Pickup, error) {
	var result []ledger.Pickup
	for _, p := range st.pickups {
		if p.UserID == userID {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].PickupDate.Equal(result[j].PickupDate) {
			return result[i].PickupDate.After(result[j].PickupDate)
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// Eco-store

func (st *state) SaveUtility(_ context.Context, u ledger.Utility) error {
	if existing, ok := st.utilities[u.ID]; ok {
		u.CreatedAt = existing.CreatedAt
	}
	st.utilities[u.ID] = u
	return nil
}

func (st *state) GetUtility(_ context.Context, id uuid.UUID) (ledger.Utility, error) {
	u, ok := st.utilities[id]
	if !ok {
		return ledger.Utility{}, &ledger.NotFoundError{Resource: "utility", ID: id.String()}
	}
	return u, nil
}

func (st *state) ListUtilities(_ context.Context, activeOnly bool) ([]ledger.Utility, error) {
	var result []ledger.Utility
	for _, u := range st.utilities {
		if activeOnly && !u.Active {
			continue
		}
		result = append(result, u)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].PricePoints != result[j].PricePoints {
			return result[i].PricePoints < result[j].PricePoints
		}
		return result[i].Name < result[j].Name
	})
	return result, nil
}

func (st *state) CreatePurchase(_ context.Context, p ledger.Purchase) error {
	st.purchases[p.ID] = p
	return nil
}

func (st *state) GetPurchase(_ context.Context, id uuid.UUID) (ledger.Purchase, error) {
	p, ok := st.purchases[id]
	if !ok {
		return ledger.Purchase{}, &ledger.NotFoundError{Resource: "purchase", ID: id.String()}
	}
	return p, nil
}

func (st *state) UpdatePurchase(_ context.Context, p ledger.Purchase) error {
	if _, ok := st.purchases[p.ID]; !ok {
		return &ledger.NotFoundError{Resource: "purchase", ID: p.ID.String()}
	}
	st.purchases[p.ID] = p
	return nil
}

func (st *state) ListPurchases(_ context.Context, userID ledger.UserID) ([]ledger.Purchase, error) {
	var result []ledger.Purchase
	for _, p := range st.purchases {
		if p.UserID == userID {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}
