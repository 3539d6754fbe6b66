package pickup

import (
	"github.com/shopspring/decimal"

	"github.com/warp/wastewise/ledger"
)

// =============================================================================
// RATE TABLE - Points per kilogram by waste type
// =============================================================================

// WasteInfo describes one waste type for display and awards.
type WasteInfo struct {
	Type  ledger.WasteType `json:"value"`
	Label string           `json:"label"`
	Icon  string           `json:"icon"`
	Rate  decimal.Decimal  `json:"points_per_kg"`
}

// WasteTypes is the rate table in display order.
var WasteTypes = []WasteInfo{
	{Type: ledger.WastePlastic, Label: "Plastic", Icon: "♻️", Rate: decimal.NewFromInt(10)},
	{Type: ledger.WastePaper, Label: "Paper", Icon: "📄", Rate: decimal.NewFromInt(5)},
	{Type: ledger.WasteGlass, Label: "Glass", Icon: "🥛", Rate: decimal.NewFromInt(8)},
	{Type: ledger.WasteMetal, Label: "Metal", Icon: "🔩", Rate: decimal.NewFromInt(15)},
	{Type: ledger.WasteElectronic, Label: "Electronic", Icon: "📱", Rate: decimal.NewFromInt(25)},
	{Type: ledger.WasteOrganic, Label: "Organic", Icon: "🌿", Rate: decimal.NewFromInt(3)},
	{Type: ledger.WasteMixed, Label: "Mixed", Icon: "📦", Rate: decimal.NewFromInt(5)},
}

// Lookup returns the table row for t.
func Lookup(t ledger.WasteType) (WasteInfo, bool) {
	for _, info := range WasteTypes {
		if info.Type == t {
			return info, true
		}
	}
	return WasteInfo{}, false
}

// Rate returns the points per kilogram for t.
func Rate(t ledger.WasteType) (decimal.Decimal, bool) {
	info, ok := Lookup(t)
	return info.Rate, ok
}

// Award computes round_half_up(weight × rate) for t. Unknown types earn
// nothing.
func Award(t ledger.WasteType, weightKg decimal.Decimal) ledger.Points {
	rate, ok := Rate(t)
	if !ok || !weightKg.IsPositive() {
		return 0
	}
	// decimal.Round rounds half away from zero, which is half-up for
	// positive amounts.
	return ledger.Points(weightKg.Mul(rate).Round(0).IntPart())
}
