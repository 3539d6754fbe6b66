package pickup_test

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
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"github.com/warp/wastewise/ledger"
	"github.com/warp/wastewise/pickup"
	"github.com/warp/wastewise/store/memory"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var t0 = time.Date(2025, time.May, 5, 7, 30, 0, 0, time.UTC)

func newService(t *testing.T) (*pickup.Service, *ledger.Ledger, *ledger.ManualClock) {
	t.Helper()
	clock := ledger.NewManualClock(t0)
	l := ledger.New(memory.New(), ledger.WithClock(clock))
	return pickup.NewService(l, zaptest.NewLogger(t)), l, clock
}

func schedule(t *testing.T, s *pickup.Service, user ledger.UserID, waste ledger.WasteType) ledger.Pickup {
	t.Helper()
	p, err := s.Schedule(context.Background(), user, pickup.ScheduleParams{
		WasteType:  waste,
		PickupDate: t0.Add(24 * time.Hour),
		Address:    "4 Harbour Rd",
	})
	require.NoError(t, err)
	return p
}

func kg(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// =============================================================================
// SCHEDULE
// =============================================================================

func TestSchedule(t *testing.T) {
	s, _, _ := newService(t)
	ctx := context.Background()
	est := kg("3.5")

	p, err := s.Schedule(ctx, "alice", pickup.ScheduleParams{
		WasteType:           ledger.WasteGlass,
		PickupDate:          t0.Add(48 * time.Hour),
		Address:             "  4 Harbour Rd  ",
		SpecialInstructions: "Side gate",
		EstimatedWeightKg:   &est,
	})
	require.NoError(t, err)

	assert.Equal(t, ledger.PickupScheduled, p.Status)
	assert.Equal(t, "4 Harbour Rd", p.Address)
	assert.Nil(t, p.PointsAwarded)
	assert.Equal(t, t0, p.CreatedAt)

	got, err := s.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, "Side gate", got.SpecialInstructions)
}

func TestSchedule_Validation(t *testing.T) {
	s, _, _ := newService(t)
	negative := kg("-1")
	huge := kg("10000.01")

	tests := []struct {
		name   string
		user   ledger.UserID
		params pickup.ScheduleParams
		field  string
	}{
		{"missing user", "", pickup.ScheduleParams{WasteType: ledger.WastePaper, PickupDate: t0, Address: "a"}, "user_id"},
		{"unknown waste", "u", pickup.ScheduleParams{WasteType: "styrofoam", PickupDate: t0, Address: "a"}, "waste_type"},
		{"no date", "u", pickup.ScheduleParams{WasteType: ledger.WastePaper, Address: "a"}, "pickup_date"},
		{"blank address", "u", pickup.ScheduleParams{WasteType: ledger.WastePaper, PickupDate: t0, Address: " "}, "address"},
		{"negative estimate", "u", pickup.ScheduleParams{WasteType: ledger.WastePaper, PickupDate: t0, Address: "a", EstimatedWeightKg: &negative}, "estimated_weight_kg"},
		{"huge estimate", "u", pickup.ScheduleParams{WasteType: ledger.WastePaper, PickupDate: t0, Address: "a", EstimatedWeightKg: &huge}, "estimated_weight_kg"},
		{"emergency too far ahead", "u", pickup.ScheduleParams{WasteType: ledger.WastePaper, PickupDate: t0.Add(25 * time.Hour), Address: "a", Emergency: true}, "pickup_date"},
		{"emergency in the past", "u", pickup.ScheduleParams{WasteType: ledger.WastePaper, PickupDate: t0.Add(-24 * time.Hour), Address: "a", Emergency: true}, "pickup_date"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Schedule(context.Background(), tt.user, tt.params)

			var verr *ledger.ValidationError
			require.ErrorAs(t, err, &verr)
			require.Len(t, verr.Fields, 1)
			assert.Equal(t, tt.field, verr.Fields[0].Field)
		})
	}
}

// =============================================================================
// COMPLETE
// =============================================================================

func TestComplete_AwardsPointsOnce(t *testing.T) {
	// GIVEN: a started plastic pickup
	s, l, clock := newService(t)
	ctx := context.Background()
	p := schedule(t, s, "alice", ledger.WastePlastic)

	p, err := s.Start(ctx, p.ID, "driver-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.PickupInProgress, p.Status)
	assert.Equal(t, "driver-1", p.DriverID)

	// WHEN: completed with 10kg
	clock.Advance(time.Hour)
	p, err = s.Complete(ctx, p.ID, kg("10"), "Two bags")
	require.NoError(t, err)

	// THEN: 100 points through one earned entry
	assert.Equal(t, ledger.PickupCompleted, p.Status)
	require.NotNil(t, p.PointsAwarded)
	assert.Equal(t, ledger.Points(100), *p.PointsAwarded)
	require.NotNil(t, p.CompletedAt)
	assert.Equal(t, t0.Add(time.Hour), *p.CompletedAt)
	assert.Equal(t, "Two bags", p.DriverNotes)

	entries, err := l.EntriesForUser(ctx, "alice", nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.EntryEarned, entries[0].Kind)
	assert.Equal(t, ledger.Points(100), entries[0].Points)
	assert.Equal(t, "pickup:"+p.ID.String(), entries[0].IdempotencyKey)
	require.NotNil(t, entries[0].Reference)
	assert.Equal(t, ledger.RefPickup, entries[0].Reference.Type)

	// AND: completing again is refused and awards nothing more
	_, err = s.Complete(ctx, p.ID, kg("10"), "")
	assert.ErrorIs(t, err, ledger.ErrInvalidTransition)

	bal, err := l.Projector().BalanceOf(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, ledger.Points(100), bal)
}

func TestComplete_RequiresInProgress(t *testing.T) {
	s, l, _ := newService(t)
	ctx := context.Background()
	p := schedule(t, s, "alice", ledger.WastePaper)

	_, err := s.Complete(ctx, p.ID, kg("2"), "")
	var it *ledger.InvalidTransitionError
	require.ErrorAs(t, err, &it)
	assert.Equal(t, "scheduled", it.From)
	assert.Equal(t, "completed", it.To)

	entries, err := l.EntriesForUser(ctx, "alice", nil)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestComplete_RejectsNonPositiveWeight(t *testing.T) {
	s, _, _ := newService(t)
	p := schedule(t, s, "alice", ledger.WastePaper)
	_, err := s.Start(context.Background(), p.ID, "")
	require.NoError(t, err)

	for _, w := range []string{"0", "-2.5"} {
		_, err := s.Complete(context.Background(), p.ID, kg(w), "")
		assert.ErrorIs(t, err, ledger.ErrValidation, w)
	}
}

func TestComplete_RoundsWeightBeforeAwarding(t *testing.T) {
	// GIVEN: 0.145kg of plastic, kept as 0.15kg
	s, l, _ := newService(t)
	ctx := context.Background()
	p := schedule(t, s, "alice", ledger.WastePlastic)
	_, err := s.Start(ctx, p.ID, "")
	require.NoError(t, err)

	p, err = s.Complete(ctx, p.ID, kg("0.145"), "")
	require.NoError(t, err)

	// THEN: the award is computed from the stored weight
	require.NotNil(t, p.ActualWeightKg)
	assert.True(t, p.ActualWeightKg.Equal(kg("0.15")), p.ActualWeightKg.String())
	require.NotNil(t, p.PointsAwarded)
	assert.Equal(t, ledger.Points(2), *p.PointsAwarded)

	stored, err := s.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, stored.ActualWeightKg.Equal(kg("0.15")))

	bal, err := l.Projector().BalanceOf(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, ledger.Points(2), bal)
}

func TestComplete_RejectsWeightThatRoundsAway(t *testing.T) {
	s, _, _ := newService(t)
	p := schedule(t, s, "alice", ledger.WastePaper)
	_, err := s.Start(context.Background(), p.ID, "")
	require.NoError(t, err)

	for _, w := range []string{"0.004", "10000.01"} {
		_, err := s.Complete(context.Background(), p.ID, kg(w), "")
		assert.ErrorIs(t, err, ledger.ErrValidation, w)
	}
}

func TestComplete_ZeroAwardWritesNoEntry(t *testing.T) {
	// GIVEN: 0.1kg of organic waste, worth 0.3 points
	s, l, _ := newService(t)
	ctx := context.Background()
	p := schedule(t, s, "alice", ledger.WasteOrganic)
	_, err := s.Start(ctx, p.ID, "")
	require.NoError(t, err)

	p, err = s.Complete(ctx, p.ID, kg("0.1"), "")
	require.NoError(t, err)

	// THEN: completed with zero points and no ledger entry
	require.NotNil(t, p.PointsAwarded)
	assert.Zero(t, *p.PointsAwarded)
	entries, err := l.EntriesForUser(ctx, "alice", nil)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// =============================================================================
// CANCEL
// =============================================================================

func TestCancel(t *testing.T) {
	s, _, _ := newService(t)
	ctx := context.Background()

	t.Run("owner cancels a scheduled pickup, twice", func(t *testing.T) {
		p := schedule(t, s, "alice", ledger.WastePaper)
		p, err := s.Cancel(ctx, "alice", p.ID)
		require.NoError(t, err)
		assert.Equal(t, ledger.PickupCancelled, p.Status)

		again, err := s.Cancel(ctx, "alice", p.ID)
		require.NoError(t, err)
		assert.Equal(t, ledger.PickupCancelled, again.Status)
		assert.Equal(t, p.UpdatedAt, again.UpdatedAt)
	})

	t.Run("in progress can be cancelled", func(t *testing.T) {
		p := schedule(t, s, "alice", ledger.WastePaper)
		_, err := s.Start(ctx, p.ID, "")
		require.NoError(t, err)
		p, err = s.Cancel(ctx, "alice", p.ID)
		require.NoError(t, err)
		assert.Equal(t, ledger.PickupCancelled, p.Status)

		_, err = s.Start(ctx, p.ID, "")
		assert.ErrorIs(t, err, ledger.ErrInvalidTransition)
	})

	t.Run("completed cannot be cancelled", func(t *testing.T) {
		p := schedule(t, s, "alice", ledger.WasteMetal)
		_, err := s.Start(ctx, p.ID, "")
		require.NoError(t, err)
		_, err = s.Complete(ctx, p.ID, kg("1"), "")
		require.NoError(t, err)

		_, err = s.Cancel(ctx, "alice", p.ID)
		assert.ErrorIs(t, err, ledger.ErrInvalidTransition)
	})

	t.Run("other users see not found", func(t *testing.T) {
		p := schedule(t, s, "alice", ledger.WastePaper)
		_, err := s.Cancel(ctx, "mallory", p.ID)
		assert.ErrorIs(t, err, ledger.ErrNotFound)

		got, err := s.Get(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, ledger.PickupScheduled, got.Status)
	})

	t.Run("unknown pickup", func(t *testing.T) {
		_, err := s.Cancel(ctx, "alice", uuid.New())
		assert.ErrorIs(t, err, ledger.ErrNotFound)
	})
}

// =============================================================================
// EMERGENCY
// =============================================================================

func emergency(s *pickup.Service, user ledger.UserID) (ledger.Pickup, error) {
	return s.Schedule(context.Background(), user, pickup.ScheduleParams{
		WasteType:  ledger.WasteMixed,
		PickupDate: t0.Add(6 * time.Hour),
		Address:    "4 Harbour Rd",
		Emergency:  true,
	})
}

func grant(t *testing.T, l *ledger.Ledger, user ledger.UserID, pts ledger.Points) {
	t.Helper()
	_, err := l.Append(context.Background(), ledger.Entry{UserID: user, Kind: ledger.EntryBonus, Points: pts})
	require.NoError(t, err)
}

func TestScheduleEmergency_DebitsFee(t *testing.T) {
	// GIVEN: 80 points
	s, l, _ := newService(t)
	ctx := context.Background()
	grant(t, l, "alice", 80)

	// WHEN: booking an emergency pickup for later today
	p, err := emergency(s, "alice")
	require.NoError(t, err)

	// THEN: the pickup carries the fee and one penalty entry references it
	assert.True(t, p.Emergency)
	assert.Equal(t, pickup.EmergencyFee, p.EmergencyFee)
	assert.Equal(t, ledger.PickupScheduled, p.Status)

	entries, err := l.EntriesForUser(ctx, "alice", nil)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	fee := entries[1]
	assert.Equal(t, ledger.EntryPenalty, fee.Kind)
	assert.Equal(t, -pickup.EmergencyFee, fee.Points)
	require.NotNil(t, fee.Reference)
	assert.Equal(t, ledger.RefPickup, fee.Reference.Type)
	assert.Equal(t, p.ID, fee.Reference.ID)

	bal, err := l.Projector().BalanceOf(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, ledger.Points(30), bal)

	// AND: a second one no longer fits and books nothing
	_, err = emergency(s, "alice")
	var short *ledger.InsufficientPointsError
	require.ErrorAs(t, err, &short)
	assert.Equal(t, ledger.Points(30), short.Available)
	assert.Equal(t, pickup.EmergencyFee, short.Required)

	list, err := s.List(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestScheduleEmergency_ConcurrentNeverOverdraws(t *testing.T) {
	// GIVEN: enough points for two fees and six concurrent bookings
	s, l, _ := newService(t)
	grant(t, l, "alice", 120)

	var ok atomic.Int32
	var g errgroup.Group
	for i := 0; i < 6; i++ {
		g.Go(func() error {
			_, err := emergency(s, "alice")
			if err == nil {
				ok.Add(1)
				return nil
			}
			if errors.Is(err, ledger.ErrInsufficientPoints) {
				return nil
			}
			return err
		})
	}
	require.NoError(t, g.Wait())

	// THEN: two were booked and 20 points remain
	assert.EqualValues(t, 2, ok.Load())
	bal, err := l.Projector().BalanceOf(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, ledger.Points(20), bal)
}

func TestCancelEmergency_RefundsFeeOnce(t *testing.T) {
	s, l, _ := newService(t)
	ctx := context.Background()
	grant(t, l, "alice", 50)
	p, err := emergency(s, "alice")
	require.NoError(t, err)

	_, err = s.Cancel(ctx, "alice", p.ID)
	require.NoError(t, err)
	_, err = s.Cancel(ctx, "alice", p.ID)
	require.NoError(t, err)

	entries, err := l.EntriesForUser(ctx, "alice", nil)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, ledger.EntryRefund, entries[2].Kind)
	assert.Equal(t, pickup.EmergencyFee, entries[2].Points)
	assert.Equal(t, "refund:"+p.ID.String(), entries[2].IdempotencyKey)

	bal, err := l.Projector().BalanceOf(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, ledger.Points(50), bal)
}

func TestList_LatestPickupDateFirst(t *testing.T) {
	s, _, _ := newService(t)
	ctx := context.Background()

	for _, days := range []int{3, 1, 7} {
		_, err := s.Schedule(ctx, "alice", pickup.ScheduleParams{
			WasteType: ledger.WastePaper, PickupDate: t0.AddDate(0, 0, days), Address: "a",
		})
		require.NoError(t, err)
	}
	schedule(t, s, "bob", ledger.WastePaper)

	list, err := s.List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, t0.AddDate(0, 0, 7), list[0].PickupDate)
	assert.Equal(t, t0.AddDate(0, 0, 1), list[2].PickupDate)
}
