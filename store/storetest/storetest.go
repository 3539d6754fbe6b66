/*
Package storetest is the behaviour every ledger.Store must show. Store
packages run it from their own tests:

	func TestContract(t *testing.T) {
		storetest.Run(t, func(t *testing.T) ledger.Store { return memory.New() })
	}

Each subtest gets a fresh store from the factory.
*/
package storetest

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/warp/wastewise/ledger"
)

// Factory returns an empty, migrated store. It should register its own
// cleanup.
type Factory func(t *testing.T) ledger.Store

var t0 = time.Date(2025, time.June, 1, 8, 0, 0, 0, time.UTC)

// Run executes the whole contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("EntriesInSeqOrder", func(t *testing.T) { testEntriesInSeqOrder(t, newStore(t)) })
	t.Run("RollbackOnError", func(t *testing.T) { testRollbackOnError(t, newStore(t)) })
	t.Run("ConcurrentSameUserSerialized", func(t *testing.T) { testConcurrentSameUserSerialized(t, newStore(t)) })
	t.Run("IdempotencyKey", func(t *testing.T) { testIdempotencyKey(t, newStore(t)) })
	t.Run("RewardCap", func(t *testing.T) { testRewardCap(t, newStore(t)) })
	t.Run("Redemptions", func(t *testing.T) { testRedemptions(t, newStore(t)) })
	t.Run("Pickups", func(t *testing.T) { testPickups(t, newStore(t)) })
	t.Run("UtilitiesAndPurchases", func(t *testing.T) { testUtilitiesAndPurchases(t, newStore(t)) })
}

// =============================================================================
// HELPERS
// =============================================================================

func appendEntry(t *testing.T, s ledger.Store, e ledger.Entry) ledger.Entry {
	t.Helper()
	ctx := context.Background()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = t0
	}
	err := s.WithUserTx(ctx, e.UserID, func(tx ledger.Tx) error {
		return tx.AppendEntry(ctx, &e)
	})
	require.NoError(t, err)
	return e
}

func saveReward(t *testing.T, s ledger.Store, maxRedemptions *int) ledger.Reward {
	t.Helper()
	r := ledger.Reward{
		ID:             uuid.New(),
		Title:          "Coffee",
		Type:           ledger.RewardVoucher,
		PointsRequired: 80,
		MaxRedemptions: maxRedemptions,
		Active:         true,
		CreatedAt:      t0,
	}
	require.NoError(t, s.SaveReward(context.Background(), r))
	return r
}

func intPtr(n int) *int { return &n }

// =============================================================================
// ENTRIES
// =============================================================================

func testEntriesInSeqOrder(t *testing.T, s ledger.Store) {
	ctx := context.Background()

	seq, err := s.LatestSeq(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, seq)

	a := appendEntry(t, s, ledger.Entry{UserID: "alice", Kind: ledger.EntryEarned, Points: 100, CreatedAt: t0})
	appendEntry(t, s, ledger.Entry{UserID: "bob", Kind: ledger.EntryEarned, Points: 5, CreatedAt: t0})
	b := appendEntry(t, s, ledger.Entry{
		UserID: "alice", Kind: ledger.EntryRedeemed, Points: -80, CreatedAt: t0.Add(time.Hour),
		Reference: ledger.RewardRef(uuid.New()), Description: "Redeemed: Coffee",
	})

	assert.Greater(t, b.Seq, a.Seq)

	entries, err := s.Entries(ctx, "alice", ledger.EntryQuery{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, a.ID, entries[0].ID)
	assert.Equal(t, b.ID, entries[1].ID)
	assert.Equal(t, ledger.Points(20), ledger.Fold(entries))
	assert.True(t, entries[1].CreatedAt.Equal(t0.Add(time.Hour)))
	require.NotNil(t, entries[1].Reference)
	assert.Equal(t, ledger.RefReward, entries[1].Reference.Type)
	assert.Equal(t, b.Reference.ID, entries[1].Reference.ID)
	assert.Equal(t, "Redeemed: Coffee", entries[1].Description)

	seq, err = s.LatestSeq(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, b.Seq, seq)

	after, err := s.Entries(ctx, "alice", ledger.EntryQuery{AfterSeq: a.Seq})
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, b.ID, after[0].ID)

	cutoff := t0.Add(time.Hour)
	before, err := s.Entries(ctx, "alice", ledger.EntryQuery{Before: &cutoff})
	require.NoError(t, err)
	require.Len(t, before, 1)
	assert.Equal(t, a.ID, before[0].ID)
}

func testConcurrentSameUserSerialized(t *testing.T, s ledger.Store) {
	// GIVEN: 100 points and eight units of work that each spend 80
	ctx := context.Background()
	appendEntry(t, s, ledger.Entry{UserID: "alice", Kind: ledger.EntryEarned, Points: 100})
	errShort := errors.New("balance too low")

	var (
		committed atomic.Int32
		g         errgroup.Group
	)
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			err := s.WithUserTx(ctx, "alice", func(tx ledger.Tx) error {
				entries, err := tx.Entries(ctx, "alice", ledger.EntryQuery{})
				if err != nil {
					return err
				}
				if ledger.Fold(entries) < 80 {
					return errShort
				}
				e := ledger.Entry{
					ID: uuid.New(), UserID: "alice", Kind: ledger.EntryRedeemed, Points: -80,
					Reference: ledger.RewardRef(uuid.New()), CreatedAt: t0,
				}
				return tx.AppendEntry(ctx, &e)
			})
			switch {
			case err == nil:
				committed.Add(1)
				return nil
			case errors.Is(err, errShort):
				return nil
			default:
				return err
			}
		})
	}
	require.NoError(t, g.Wait())

	// THEN: each unit of work saw the previous one's write, so one spend committed
	assert.EqualValues(t, 1, committed.Load())
	entries, err := s.Entries(ctx, "alice", ledger.EntryQuery{})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Equal(t, ledger.Points(20), ledger.Fold(entries))
}

func testRollbackOnError(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithUserTx(ctx, "alice", func(tx ledger.Tx) error {
		e := ledger.Entry{ID: uuid.New(), UserID: "alice", Kind: ledger.EntryEarned, Points: 10, CreatedAt: t0}
		if err := tx.AppendEntry(ctx, &e); err != nil {
			return err
		}
		p := ledger.Pickup{
			ID: uuid.New(), UserID: "alice", Status: ledger.PickupScheduled, WasteType: ledger.WastePaper,
			PickupDate: t0, Address: "1 Main St", CreatedAt: t0, UpdatedAt: t0,
		}
		if err := tx.CreatePickup(ctx, p); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	entries, err := s.Entries(ctx, "alice", ledger.EntryQuery{})
	require.NoError(t, err)
	assert.Empty(t, entries)

	pickups, err := s.ListPickups(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, pickups)
}

func testIdempotencyKey(t *testing.T, s ledger.Store) {
	ctx := context.Background()

	first := appendEntry(t, s, ledger.Entry{UserID: "alice", Kind: ledger.EntryEarned, Points: 10, IdempotencyKey: "pickup:1"})

	got, err := s.EntryByIdempotencyKey(ctx, "alice", "pickup:1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	_, err = s.EntryByIdempotencyKey(ctx, "bob", "pickup:1")
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	dup := ledger.Entry{ID: uuid.New(), UserID: "alice", Kind: ledger.EntryEarned, Points: 10, IdempotencyKey: "pickup:1", CreatedAt: t0}
	err = s.WithUserTx(ctx, "alice", func(tx ledger.Tx) error { return tx.AppendEntry(ctx, &dup) })
	assert.ErrorIs(t, err, ledger.ErrStoreUnavailable)

	entries, err := s.Entries(ctx, "alice", ledger.EntryQuery{})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

// =============================================================================
// RECORDS
// =============================================================================

func testRewardCap(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	capped := saveReward(t, s, intPtr(2))

	require.NoError(t, s.IncrementRedemptions(ctx, capped.ID))
	require.NoError(t, s.IncrementRedemptions(ctx, capped.ID))
	assert.ErrorIs(t, s.IncrementRedemptions(ctx, capped.ID), ledger.ErrSoldOut)

	got, err := s.GetReward(ctx, capped.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentRedemptions)
	assert.True(t, got.SoldOut())

	// saving catalog fields again keeps the counter
	got.Title = "Large coffee"
	got.CurrentRedemptions = 0
	require.NoError(t, s.SaveReward(ctx, got))
	got, err = s.GetReward(ctx, capped.ID)
	require.NoError(t, err)
	assert.Equal(t, "Large coffee", got.Title)
	assert.Equal(t, 2, got.CurrentRedemptions)

	unlimited := saveReward(t, s, nil)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.IncrementRedemptions(ctx, unlimited.ID))
	}

	assert.ErrorIs(t, s.IncrementRedemptions(ctx, uuid.New()), ledger.ErrNotFound)
	_, err = s.GetReward(ctx, uuid.New())
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	inactive := ledger.Reward{ID: uuid.New(), Title: "Old", Type: ledger.RewardProduct, PointsRequired: 1, CreatedAt: t0}
	require.NoError(t, s.SaveReward(ctx, inactive))
	active, err := s.ListRewards(ctx, true)
	require.NoError(t, err)
	assert.Len(t, active, 2)
	all, err := s.ListRewards(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, inactive.ID, all[0].ID, "cheapest first")
}

func testRedemptions(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	reward := saveReward(t, s, nil)

	newRedemption := func(code string, redeemedAt, expiresAt time.Time) ledger.Redemption {
		e := appendEntry(t, s, ledger.Entry{UserID: "alice", Kind: ledger.EntryBonus, Points: 1})
		r := ledger.Redemption{
			ID: uuid.New(), UserID: "alice", RewardID: reward.ID, Code: code,
			Status: ledger.RedemptionActive, ExpiresAt: expiresAt, LedgerEntryID: e.ID, RedeemedAt: redeemedAt,
		}
		require.NoError(t, s.CreateRedemption(ctx, r))
		return r
	}
	older := newRedemption("WWAAA-000001", t0, t0.Add(24*time.Hour))
	newer := newRedemption("WWBBB-000002", t0.Add(time.Hour), t0.Add(48*time.Hour))

	got, err := s.GetRedemptionByCode(ctx, older.Code)
	require.NoError(t, err)
	assert.Equal(t, older.ID, got.ID)
	assert.True(t, got.ExpiresAt.Equal(older.ExpiresAt))
	assert.Nil(t, got.UsedAt)

	list, err := s.ListRedemptions(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer.Code, list[0].Code, "newest first")

	lapsed, err := s.ListLapsedRedemptions(ctx, t0.Add(30*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, lapsed, 1)
	assert.Equal(t, older.Code, lapsed[0].Code)

	used := t0.Add(2 * time.Hour)
	got.Status = ledger.RedemptionUsed
	got.UsedAt = &used
	require.NoError(t, s.UpdateRedemption(ctx, got))
	got, err = s.GetRedemptionByCode(ctx, older.Code)
	require.NoError(t, err)
	assert.Equal(t, ledger.RedemptionUsed, got.Status)
	require.NotNil(t, got.UsedAt)
	assert.True(t, got.UsedAt.Equal(used))

	lapsed, err = s.ListLapsedRedemptions(ctx, t0.Add(30*time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, lapsed, "used codes never lapse")

	_, err = s.GetRedemptionByCode(ctx, "WWNOPE-000000")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func testPickups(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	est := decimal.RequireFromString("4.5")

	first := ledger.Pickup{
		ID: uuid.New(), UserID: "alice", Status: ledger.PickupScheduled, WasteType: ledger.WastePlastic,
		PickupDate: t0.Add(24 * time.Hour), Address: "1 Main St", EstimatedWeightKg: &est,
		CreatedAt: t0, UpdatedAt: t0,
	}
	second := first
	second.ID = uuid.New()
	second.PickupDate = t0.Add(72 * time.Hour)
	second.EstimatedWeightKg = nil
	second.Emergency = true
	second.EmergencyFee = 50
	require.NoError(t, s.CreatePickup(ctx, first))
	require.NoError(t, s.CreatePickup(ctx, second))

	got, err := s.GetPickup(ctx, first.ID)
	require.NoError(t, err)
	require.NotNil(t, got.EstimatedWeightKg)
	assert.True(t, got.EstimatedWeightKg.Equal(est))
	assert.Nil(t, got.PointsAwarded)
	assert.False(t, got.Emergency)
	assert.Zero(t, got.EmergencyFee)

	urgent, err := s.GetPickup(ctx, second.ID)
	require.NoError(t, err)
	assert.True(t, urgent.Emergency)
	assert.Equal(t, ledger.Points(50), urgent.EmergencyFee)

	actual := decimal.RequireFromString("10.25")
	awarded := ledger.Points(103)
	done := t0.Add(25 * time.Hour)
	got.Status = ledger.PickupCompleted
	got.ActualWeightKg = &actual
	got.PointsAwarded = &awarded
	got.CompletedAt = &done
	got.DriverID = "driver-7"
	require.NoError(t, s.UpdatePickup(ctx, got))

	got, err = s.GetPickup(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.PickupCompleted, got.Status)
	require.NotNil(t, got.ActualWeightKg)
	assert.True(t, got.ActualWeightKg.Equal(actual))
	require.NotNil(t, got.PointsAwarded)
	assert.Equal(t, awarded, *got.PointsAwarded)
	assert.Equal(t, "driver-7", got.DriverID)

	list, err := s.ListPickups(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID, "latest pickup date first")

	missing := first
	missing.ID = uuid.New()
	assert.ErrorIs(t, s.UpdatePickup(ctx, missing), ledger.ErrNotFound)
}

func testUtilitiesAndPurchases(t *testing.T, s ledger.Store) {
	ctx := context.Background()

	bin := ledger.Utility{
		ID: uuid.New(), Name: "Compost bin", Category: "composting", PricePoints: 300,
		Availability: ledger.AvailabilityAvailable, Active: true, CreatedAt: t0,
	}
	bulbs := ledger.Utility{
		ID: uuid.New(), Name: "LED bulbs", Category: "energy_saving", PricePoints: 180,
		Availability: ledger.AvailabilityOutOfStock, Active: true, CreatedAt: t0,
	}
	require.NoError(t, s.SaveUtility(ctx, bin))
	require.NoError(t, s.SaveUtility(ctx, bulbs))

	list, err := s.ListUtilities(ctx, true)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, bulbs.ID, list[0].ID, "cheapest first")

	bulbs.Availability = ledger.AvailabilityAvailable
	require.NoError(t, s.SaveUtility(ctx, bulbs))
	got, err := s.GetUtility(ctx, bulbs.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.AvailabilityAvailable, got.Availability)

	spend := appendEntry(t, s, ledger.Entry{UserID: "alice", Kind: ledger.EntryBonus, Points: 600})
	p := ledger.Purchase{
		ID: uuid.New(), UserID: "alice", UtilityID: bin.ID, Quantity: 2, PointsSpent: 600,
		DeliveryAddress: "1 Main St", DeliveryStatus: ledger.DeliveryPending, LedgerEntryID: spend.ID,
		CreatedAt: t0, UpdatedAt: t0,
	}
	require.NoError(t, s.CreatePurchase(ctx, p))

	refund := appendEntry(t, s, ledger.Entry{UserID: "alice", Kind: ledger.EntryRefund, Points: 600})
	p.DeliveryStatus = ledger.DeliveryCancelled
	p.RefundEntryID = &refund.ID
	require.NoError(t, s.UpdatePurchase(ctx, p))

	gotP, err := s.GetPurchase(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.DeliveryCancelled, gotP.DeliveryStatus)
	require.NotNil(t, gotP.RefundEntryID)
	assert.Equal(t, refund.ID, *gotP.RefundEntryID)

	purchases, err := s.ListPurchases(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, purchases, 1)

	_, err = s.GetPurchase(ctx, uuid.New())
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}
