package rewards_test

import (
	"context"
	"errors"
	"regexp"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/warp/wastewise/ledger"
	"github.com/warp/wastewise/rewards"
)

// =============================================================================
// REDEEM
// =============================================================================

func TestRedeem_SpendsPointsAndIssuesCode(t *testing.T) {
	// GIVEN: 100 points and a reward of 80 limited to one redemption
	f := newFixture(t)
	ctx := context.Background()
	f.grant(t, "alice", 100)
	reward := f.reward(t, 80, intPtr(1), 0)

	// WHEN: alice redeems it
	r, err := f.coord.Redeem(ctx, "alice", reward.ID)
	require.NoError(t, err)

	// THEN: 20 points remain and the code is active for the default 30 days
	assert.Equal(t, ledger.Points(20), f.balance(t, "alice"))
	assert.Equal(t, ledger.RedemptionActive, r.Status)
	assert.Equal(t, t0.AddDate(0, 0, rewards.DefaultExpiryDays), r.ExpiresAt)
	assert.Equal(t, t0, r.RedeemedAt)
	assert.Regexp(t, `^WW[0-9A-Z]+-[0-9A-F]{6}$`, r.Code)

	entries := f.entries(t, "alice")
	require.Len(t, entries, 2)
	spend := entries[1]
	assert.Equal(t, ledger.EntryRedeemed, spend.Kind)
	assert.Equal(t, ledger.Points(-80), spend.Points)
	assert.Equal(t, r.LedgerEntryID, spend.ID)
	require.NotNil(t, spend.Reference)
	assert.Equal(t, reward.ID, spend.Reference.ID)
	assert.Equal(t, "Redeemed: Cinema voucher", spend.Description)

	got, err := f.catalog.GetReward(ctx, reward.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentRedemptions)

	// AND: the next attempt by anyone is sold out
	f.grant(t, "bob", 100)
	_, err = f.coord.Redeem(ctx, "bob", reward.ID)
	assert.ErrorIs(t, err, ledger.ErrSoldOut)
	assert.Equal(t, ledger.Points(100), f.balance(t, "bob"))
}

func TestRedeem_RewardExpiryOverridesDefault(t *testing.T) {
	f := newFixture(t, rewards.WithDefaultExpiryDays(7))
	f.grant(t, "alice", 100)

	own := f.reward(t, 10, nil, 60)
	r, err := f.coord.Redeem(context.Background(), "alice", own.ID)
	require.NoError(t, err)
	assert.Equal(t, t0.AddDate(0, 0, 60), r.ExpiresAt)

	dflt := f.reward(t, 10, nil, 0)
	r, err = f.coord.Redeem(context.Background(), "alice", dflt.ID)
	require.NoError(t, err)
	assert.Equal(t, t0.AddDate(0, 0, 7), r.ExpiresAt)
}

func TestRedeem_InsufficientPointsWritesNothing(t *testing.T) {
	// GIVEN: 50 points and a reward of 80
	f := newFixture(t)
	f.grant(t, "alice", 50)
	reward := f.reward(t, 80, nil, 0)

	// WHEN: redeeming
	_, err := f.coord.Redeem(context.Background(), "alice", reward.ID)

	// THEN: refused with the shortfall, no entry, no redemption
	var ip *ledger.InsufficientPointsError
	require.ErrorAs(t, err, &ip)
	assert.Equal(t, ledger.Points(50), ip.Available)
	assert.Equal(t, ledger.Points(80), ip.Required)
	assert.Equal(t, ledger.KindInsufficient, ledger.KindOf(err))

	assert.Len(t, f.entries(t, "alice"), 1)
	list, err := f.coord.ListRedemptions(context.Background(), "alice")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRedeem_UnknownOrInactiveReward(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.grant(t, "alice", 100)

	_, err := f.coord.Redeem(ctx, "alice", uuid.New())
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	retired, err := f.catalog.CreateReward(ctx, ledger.Reward{
		Title: "Old mug", Type: ledger.RewardProduct, PointsRequired: 10, Active: false,
	})
	require.NoError(t, err)
	_, err = f.coord.Redeem(ctx, "alice", retired.ID)
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	_, err = f.coord.Redeem(ctx, "", retired.ID)
	assert.ErrorIs(t, err, ledger.ErrValidation)
	assert.Equal(t, ledger.Points(100), f.balance(t, "alice"))
}

func TestRedeem_CodeCollisionRollsBack(t *testing.T) {
	// GIVEN: a generator that always returns the same code
	f := newFixture(t, rewards.WithCodeGenerator(fixedCode("WWFIXED-000000")))
	ctx := context.Background()
	f.grant(t, "alice", 100)
	f.grant(t, "bob", 100)
	reward := f.reward(t, 30, nil, 0)

	_, err := f.coord.Redeem(ctx, "alice", reward.ID)
	require.NoError(t, err)

	// WHEN: a second redemption collides on the code
	_, err = f.coord.Redeem(ctx, "bob", reward.ID)

	// THEN: the store error surfaces and bob's spend is rolled back
	assert.ErrorIs(t, err, ledger.ErrStoreUnavailable)
	assert.Equal(t, ledger.Points(100), f.balance(t, "bob"))
	got, err := f.catalog.GetReward(ctx, reward.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentRedemptions)
}

func TestRedeem_ConcurrentSameUserSpendsOnce(t *testing.T) {
	// GIVEN: 100 points and ten concurrent redemptions of an 80 point reward
	f := newFixture(t)
	f.grant(t, "alice", 100)
	reward := f.reward(t, 80, nil, 0)

	var ok atomic.Int32
	var g errgroup.Group
	for i := 0; i < 10; i++ {
		g.Go(func() error {
			_, err := f.coord.Redeem(context.Background(), "alice", reward.ID)
			if err == nil {
				ok.Add(1)
				return nil
			}
			var ip *ledger.InsufficientPointsError
			if errors.As(err, &ip) {
				return nil
			}
			return err
		})
	}
	require.NoError(t, g.Wait())

	// THEN: exactly one succeeds
	assert.EqualValues(t, 1, ok.Load())
	assert.Equal(t, ledger.Points(20), f.balance(t, "alice"))
}

func TestRedeem_ConcurrentUsersRespectCap(t *testing.T) {
	// GIVEN: eight funded users racing for a reward capped at three
	f := newFixture(t)
	reward := f.reward(t, 10, intPtr(3), 0)
	users := []ledger.UserID{"u1", "u2", "u3", "u4", "u5", "u6", "u7", "u8"}
	for _, u := range users {
		f.grant(t, u, 50)
	}

	var ok, soldOut atomic.Int32
	var g errgroup.Group
	for _, u := range users {
		g.Go(func() error {
			_, err := f.coord.Redeem(context.Background(), u, reward.ID)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ledger.ErrSoldOut):
				soldOut.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	// THEN: exactly three redemptions, the rest kept their points
	assert.EqualValues(t, 3, ok.Load())
	assert.EqualValues(t, 5, soldOut.Load())
	got, err := f.catalog.GetReward(context.Background(), reward.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.CurrentRedemptions)

	var total ledger.Points
	for _, u := range users {
		total += f.balance(t, u)
	}
	assert.Equal(t, ledger.Points(8*50-3*10), total)
}

// =============================================================================
// USE
// =============================================================================

func TestUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.grant(t, "alice", 100)
	reward := f.reward(t, 10, nil, 1)

	r, err := f.coord.Redeem(ctx, "alice", reward.ID)
	require.NoError(t, err)

	t.Run("other user cannot see the code", func(t *testing.T) {
		_, err := f.coord.Use(ctx, "mallory", r.Code)
		assert.ErrorIs(t, err, ledger.ErrNotFound)
	})

	t.Run("active becomes used", func(t *testing.T) {
		f.clock.Advance(time.Hour)
		used, err := f.coord.Use(ctx, "alice", r.Code)
		require.NoError(t, err)
		assert.Equal(t, ledger.RedemptionUsed, used.Status)
		require.NotNil(t, used.UsedAt)
		assert.Equal(t, t0.Add(time.Hour), *used.UsedAt)
	})

	t.Run("used cannot be used again", func(t *testing.T) {
		_, err := f.coord.Use(ctx, "alice", r.Code)
		var it *ledger.InvalidTransitionError
		require.ErrorAs(t, err, &it)
		assert.Equal(t, "used", it.From)
	})

	t.Run("unknown code", func(t *testing.T) {
		_, err := f.coord.Use(ctx, "alice", "WWNOPE-000000")
		assert.ErrorIs(t, err, ledger.ErrNotFound)
	})
}

func TestUse_ExpiredCodeIsPersisted(t *testing.T) {
	// GIVEN: a code valid for one day
	f := newFixture(t)
	ctx := context.Background()
	f.grant(t, "alice", 100)
	reward := f.reward(t, 10, nil, 1)
	r, err := f.coord.Redeem(ctx, "alice", reward.ID)
	require.NoError(t, err)

	// WHEN: used exactly at expiry
	f.clock.Set(r.ExpiresAt)
	_, err = f.coord.Use(ctx, "alice", r.Code)

	// THEN: refused, and the stored status is now expired
	assert.ErrorIs(t, err, ledger.ErrInvalidTransition)
	stored, err := f.ledger.Store().GetRedemptionByCode(ctx, r.Code)
	require.NoError(t, err)
	assert.Equal(t, ledger.RedemptionExpired, stored.Status)

	// AND: points are not returned
	assert.Equal(t, ledger.Points(90), f.balance(t, "alice"))
}

func TestListRedemptions_ReportsLazyExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.grant(t, "alice", 100)
	short := f.reward(t, 10, nil, 1)
	long := f.reward(t, 10, nil, 30)

	_, err := f.coord.Redeem(ctx, "alice", short.ID)
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	_, err = f.coord.Redeem(ctx, "alice", long.ID)
	require.NoError(t, err)

	f.clock.Advance(48 * time.Hour)
	list, err := f.coord.ListRedemptions(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, long.ID, list[0].RewardID, "newest first")
	assert.Equal(t, ledger.RedemptionActive, list[0].Status)
	assert.Equal(t, ledger.RedemptionExpired, list[1].Status)

	assert.Equal(t, 28*24*time.Hour, rewards.ExpiresIn(list[0], f.clock.Now()))
	assert.Zero(t, rewards.ExpiresIn(list[1], f.clock.Now()))
}

func TestNewCode(t *testing.T) {
	pattern := regexp.MustCompile(`^WW[0-9A-Z]+-[0-9A-F]{6}$`)
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		code, err := rewards.NewCode(t0)
		require.NoError(t, err)
		assert.Regexp(t, pattern, code)
		seen[code] = true
	}
	// 200 draws from 16^6 suffixes collide with negligible probability
	assert.Greater(t, len(seen), 195)
}
