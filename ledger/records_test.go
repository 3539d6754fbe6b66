package ledger_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/wastewise/ledger"
)

func TestRedemption_JSON(t *testing.T) {
	// GIVEN: an active redemption
	r := ledger.Redemption{
		ID:            uuid.New(),
		UserID:        "alice",
		RewardID:      uuid.New(),
		Code:          "WWM1ABCDEF12",
		Status:        ledger.RedemptionActive,
		ExpiresAt:     time.Date(2025, time.April, 30, 10, 0, 0, 0, time.UTC),
		LedgerEntryID: uuid.New(),
		RedeemedAt:    time.Date(2025, time.March, 31, 10, 0, 0, 0, time.UTC),
	}

	// WHEN: encoded
	raw, err := json.Marshal(r)
	require.NoError(t, err)

	// THEN: the external field names carry the code, status and RFC3339 expiry
	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Equal(t, "WWM1ABCDEF12", fields["redemption_code"])
	assert.Equal(t, "active", fields["status"])
	assert.Equal(t, "2025-04-30T10:00:00Z", fields["expiry_date"])
	assert.NotContains(t, fields, "used_at")

	// AND: decoding gives back the same record
	var back ledger.Redemption
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, r, back)
}

func TestRedemption_StatusAt(t *testing.T) {
	expiry := time.Date(2025, time.April, 30, 10, 0, 0, 0, time.UTC)
	active := ledger.Redemption{Status: ledger.RedemptionActive, ExpiresAt: expiry}
	used := ledger.Redemption{Status: ledger.RedemptionUsed, ExpiresAt: expiry}

	assert.Equal(t, ledger.RedemptionActive, active.StatusAt(expiry.Add(-time.Second)))
	assert.Equal(t, ledger.RedemptionExpired, active.StatusAt(expiry))
	assert.Equal(t, ledger.RedemptionUsed, used.StatusAt(expiry.Add(time.Hour)))
}
