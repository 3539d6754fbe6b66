package rewards_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/warp/wastewise/ledger"
	"github.com/warp/wastewise/rewards"
	"github.com/warp/wastewise/store/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// =============================================================================
// TEST HELPERS
// =============================================================================

var t0 = time.Date(2025, time.April, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	ledger  *ledger.Ledger
	clock   *ledger.ManualClock
	catalog *rewards.Catalog
	coord   *rewards.Coordinator
	shop    *rewards.Shop
}

func newFixture(t *testing.T, opts ...rewards.Option) *fixture {
	t.Helper()
	clock := ledger.NewManualClock(t0)
	store := memory.New()
	l := ledger.New(store, ledger.WithClock(clock))
	return &fixture{
		ledger:  l,
		clock:   clock,
		catalog: rewards.NewCatalog(store, clock, nil),
		coord:   rewards.NewCoordinator(l, opts...),
		shop:    rewards.NewShop(l, nil),
	}
}

func (f *fixture) grant(t *testing.T, user ledger.UserID, pts ledger.Points) {
	t.Helper()
	_, err := f.ledger.Append(context.Background(), ledger.Entry{UserID: user, Kind: ledger.EntryEarned, Points: pts})
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T, user ledger.UserID) ledger.Points {
	t.Helper()
	bal, err := f.ledger.Projector().BalanceOf(context.Background(), user)
	require.NoError(t, err)
	return bal
}

func (f *fixture) entries(t *testing.T, user ledger.UserID) []ledger.Entry {
	t.Helper()
	entries, err := f.ledger.EntriesForUser(context.Background(), user, nil)
	require.NoError(t, err)
	return entries
}

func (f *fixture) reward(t *testing.T, cost ledger.Points, maxRedemptions *int, expiryDays int) ledger.Reward {
	t.Helper()
	r, err := f.catalog.CreateReward(context.Background(), ledger.Reward{
		Title:          "Cinema voucher",
		Type:           ledger.RewardVoucher,
		PointsRequired: cost,
		MaxRedemptions: maxRedemptions,
		ExpiryDays:     expiryDays,
		Active:         true,
	})
	require.NoError(t, err)
	return r
}

func (f *fixture) utility(t *testing.T, price ledger.Points, a ledger.Availability) ledger.Utility {
	t.Helper()
	u, err := f.catalog.CreateUtility(context.Background(), ledger.Utility{
		Name:         "Kitchen compost bin",
		Category:     "composting",
		PricePoints:  price,
		Availability: a,
		Active:       true,
	})
	require.NoError(t, err)
	return u
}

func intPtr(n int) *int { return &n }

func fixedCode(code string) rewards.CodeGenerator {
	return func(time.Time) (string, error) { return code, nil }
}
