package catalog_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/wastewise/catalog"
	"github.com/warp/wastewise/ledger"
	"github.com/warp/wastewise/rewards"
	"github.com/warp/wastewise/store/memory"
)

const doc = `
rewards:
  - title: "Cinema voucher"
    reward_type: voucher
    points_required: 400
    max_redemptions: 2
  - title: "Retired mug"
    reward_type: product
    points_required: 50
    inactive: true
utilities:
  - name: "LED bulb pack"
    category: energy_saving
    price_points: 180
grants:
  - user_id: demo-user
    points: 500
    description: "Welcome bonus"
  - user_id: demo-user
    points: 100
    description: "Welcome bonus"
    key: "launch week"
`

func newDeps() catalog.Deps {
	store := memory.New()
	clock := ledger.NewManualClock(time.Date(2025, time.January, 10, 0, 0, 0, 0, time.UTC))
	return catalog.Deps{
		Catalog: rewards.NewCatalog(store, clock, nil),
		Ledger:  ledger.New(store, ledger.WithClock(clock)),
	}
}

func TestLoad(t *testing.T) {
	seed, err := catalog.Load(strings.NewReader(doc))
	require.NoError(t, err)

	require.Len(t, seed.Rewards, 2)
	require.NotNil(t, seed.Rewards[0].MaxRedemptions)
	assert.Equal(t, 2, *seed.Rewards[0].MaxRedemptions)
	assert.Nil(t, seed.Rewards[1].MaxRedemptions)
	assert.True(t, seed.Rewards[1].Inactive)
	assert.Len(t, seed.Utilities, 1)
	assert.Len(t, seed.Grants, 2)
}

func TestLoad_EmptyAndUnknownFields(t *testing.T) {
	seed, err := catalog.Load(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, seed.Rewards)

	_, err = catalog.Load(strings.NewReader("rewards:\n  - title: x\n    colour: red\n"))
	assert.Error(t, err)
}

func TestLoadFile_RepositoryCatalog(t *testing.T) {
	seed, err := catalog.LoadFile("../catalog.yaml")
	require.NoError(t, err)

	res, err := seed.Apply(context.Background(), newDeps())
	require.NoError(t, err)
	assert.Equal(t, len(seed.Rewards), res.Rewards)
	assert.Equal(t, len(seed.Utilities), res.Utilities)
}

func TestApply_IsRerunnable(t *testing.T) {
	// GIVEN: a seed applied once
	deps := newDeps()
	ctx := context.Background()
	seed, err := catalog.Load(strings.NewReader(doc))
	require.NoError(t, err)

	res, err := seed.Apply(ctx, deps)
	require.NoError(t, err)
	assert.Equal(t, catalog.Result{Rewards: 2, Utilities: 1, Grants: 2}, res)

	// AND: the voucher redeemed once
	voucherID := catalog.RecordID("reward", "Cinema voucher")
	_, err = rewards.NewCoordinator(deps.Ledger).Redeem(ctx, "demo-user", voucherID)
	require.NoError(t, err)

	// WHEN: applying the same seed again
	_, err = seed.Apply(ctx, deps)
	require.NoError(t, err)

	// THEN: no duplicates, the grants are not paid twice, the counter survives
	all, err := deps.Catalog.ListRewards(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	active, err := deps.Catalog.ListRewards(ctx, true)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	voucher, err := deps.Catalog.GetReward(ctx, voucherID)
	require.NoError(t, err)
	assert.Equal(t, 1, voucher.CurrentRedemptions)

	bal, err := deps.Ledger.Projector().BalanceOf(ctx, "demo-user")
	require.NoError(t, err)
	assert.Equal(t, ledger.Points(500+100-400), bal)
}

func TestApply_StopsAtFirstInvalidRecord(t *testing.T) {
	seed, err := catalog.Load(strings.NewReader(`
utilities:
  - name: "Bin"
    category: composting
    price_points: 10
  - name: "Mystery"
    category: toys
    price_points: 10
`))
	require.NoError(t, err)

	res, err := seed.Apply(context.Background(), newDeps())
	assert.ErrorIs(t, err, ledger.ErrValidation)
	assert.Contains(t, err.Error(), `utilities[1] "Mystery"`)
	assert.Equal(t, 1, res.Utilities)
}

func TestRecordID(t *testing.T) {
	assert.Equal(t, catalog.RecordID("reward", "Cinema voucher"), catalog.RecordID("reward", "  cinema VOUCHER "))
	assert.NotEqual(t, catalog.RecordID("reward", "x"), catalog.RecordID("utility", "x"))
}
