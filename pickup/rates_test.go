package pickup_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/warp/wastewise/ledger"
	"github.com/warp/wastewise/pickup"
)

func TestAward(t *testing.T) {
	tests := []struct {
		waste  ledger.WasteType
		weight string
		want   ledger.Points
	}{
		{ledger.WastePlastic, "10", 100},
		{ledger.WastePaper, "3.3", 17},      // 16.5 rounds up
		{ledger.WasteOrganic, "0.5", 2},     // 1.5 rounds up
		{ledger.WasteOrganic, "0.1", 0},     // 0.3 rounds down
		{ledger.WasteGlass, "1.25", 10},     // exactly 10
		{ledger.WasteMetal, "2.1", 32},      // 31.5 rounds up
		{ledger.WasteElectronic, "0.02", 1}, // 0.5 rounds up
		{ledger.WasteMixed, "7", 35},
		{ledger.WastePlastic, "0", 0},
		{ledger.WastePlastic, "-4", 0},
		{"styrofoam", "10", 0},
	}
	for _, tt := range tests {
		t.Run(string(tt.waste)+"/"+tt.weight, func(t *testing.T) {
			got := pickup.Award(tt.waste, decimal.RequireFromString(tt.weight))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWasteTypes(t *testing.T) {
	assert.Len(t, pickup.WasteTypes, 7)

	seen := make(map[ledger.WasteType]bool)
	for _, info := range pickup.WasteTypes {
		assert.False(t, seen[info.Type], "duplicate %s", info.Type)
		seen[info.Type] = true
		assert.True(t, info.Rate.IsPositive(), "%s rate", info.Type)
		assert.NotEmpty(t, info.Label)
	}

	rate, ok := pickup.Rate(ledger.WasteMetal)
	assert.True(t, ok)
	assert.True(t, rate.Equal(decimal.NewFromInt(15)))

	_, ok = pickup.Lookup("styrofoam")
	assert.False(t, ok)
}
