package rewards_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/wastewise/ledger"
	"github.com/warp/wastewise/rewards"
)

func redeemN(t *testing.T, f *fixture, user ledger.UserID, reward ledger.Reward, n int) []ledger.Redemption {
	t.Helper()
	out := make([]ledger.Redemption, 0, n)
	for i := 0; i < n; i++ {
		r, err := f.coord.Redeem(context.Background(), user, reward.ID)
		require.NoError(t, err)
		out = append(out, r)
		f.clock.Advance(time.Second)
	}
	return out
}

func TestSweep_ExpiresLapsedCodesInBatches(t *testing.T) {
	// GIVEN: five one-day codes across two users, one of them already used
	f := newFixture(t)
	ctx := context.Background()
	f.grant(t, "alice", 100)
	f.grant(t, "bob", 100)
	reward := f.reward(t, 10, nil, 1)

	codes := append(redeemN(t, f, "alice", reward, 3), redeemN(t, f, "bob", reward, 2)...)
	_, err := f.coord.Use(ctx, "alice", codes[0].Code)
	require.NoError(t, err)

	sweeper := rewards.NewExpirySweeper(f.ledger, nil)
	sweeper.BatchSize = 2

	// WHEN: nothing has lapsed yet
	n, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	// WHEN: two days pass
	f.clock.Advance(48 * time.Hour)
	n, err = sweeper.Sweep(ctx)
	require.NoError(t, err)

	// THEN: the four unused codes are stored as expired, the used one is kept
	assert.Equal(t, 4, n)
	for i, r := range codes {
		stored, err := f.ledger.Store().GetRedemptionByCode(ctx, r.Code)
		require.NoError(t, err)
		if i == 0 {
			assert.Equal(t, ledger.RedemptionUsed, stored.Status)
			continue
		}
		assert.Equal(t, ledger.RedemptionExpired, stored.Status)
	}

	// AND: a second sweep finds nothing
	n, err = sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSweeper_StartStop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.grant(t, "alice", 100)
	reward := f.reward(t, 10, nil, 1)
	r := redeemN(t, f, "alice", reward, 1)[0]
	f.clock.Advance(48 * time.Hour)

	sweeper := rewards.NewExpirySweeper(f.ledger, nil)
	sweeper.CheckInterval = time.Hour

	// Start runs one sweep right away
	sweeper.Start()
	sweeper.Start()
	require.Eventually(t, func() bool {
		stored, err := f.ledger.Store().GetRedemptionByCode(ctx, r.Code)
		return err == nil && stored.Status == ledger.RedemptionExpired
	}, time.Second, 5*time.Millisecond)

	sweeper.Stop()
	sweeper.Stop()
}
