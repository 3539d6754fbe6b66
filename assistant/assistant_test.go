package assistant_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/warp/wastewise/assistant"
)

func TestReply(t *testing.T) {
	now := time.Date(2025, time.July, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		message string
		topic   string
	}{
		{"How do I reduce FOOD WASTE at home?", "food_waste"},
		{"what's my carbon footprint", "carbon"},
		{"show me my analytics", "analytics"},
		{"any recycling tips?", "recycling"},
		{"how many points for glass", "points"},
		{"can I redeem something", "points"},
		{"  schedule a pickup  ", "pickup"},
		{"hello", "default"},
		{"", "default"},
		// earlier topics win
		{"tips to reduce waste and earn points", "food_waste"},
	}
	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			got := assistant.Reply(tt.message, now)
			assert.Equal(t, tt.topic, got.Topic)
			assert.NotEmpty(t, got.Reply)
			assert.Equal(t, now, got.Timestamp)
		})
	}
}

func TestReply_PointsListsRates(t *testing.T) {
	got := assistant.Reply("points?", time.Now())
	assert.Contains(t, got.Reply, "Plastic: 10 pts/kg")
	assert.Contains(t, got.Reply, "Electronic: 25 pts/kg")
}
