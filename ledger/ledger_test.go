package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/warp/wastewise/ledger"
	"github.com/warp/wastewise/store/memory"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var t0 = time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)

func newTestLedger(t *testing.T) (*ledger.Ledger, *ledger.ManualClock) {
	t.Helper()
	clock := ledger.NewManualClock(t0)
	return ledger.New(memory.New(), ledger.WithClock(clock)), clock
}

func credit(t *testing.T, l *ledger.Ledger, user ledger.UserID, kind ledger.EntryKind, pts ledger.Points) ledger.Entry {
	t.Helper()
	e, err := l.Append(context.Background(), ledger.Entry{UserID: user, Kind: kind, Points: pts, Description: "test"})
	require.NoError(t, err)
	return e
}

func sumEntries(t *testing.T, l *ledger.Ledger, user ledger.UserID) ledger.Points {
	t.Helper()
	entries, err := l.EntriesForUser(context.Background(), user, nil)
	require.NoError(t, err)
	return ledger.Fold(entries)
}

// =============================================================================
// APPEND
// =============================================================================

func TestAppend_BalanceIsSumOfEntries(t *testing.T) {
	// GIVEN: a user with an award, a bonus and a redemption
	l, _ := newTestLedger(t)
	ctx := context.Background()

	credit(t, l, "alice", ledger.EntryEarned, 100)
	credit(t, l, "alice", ledger.EntryBonus, 25)
	credit(t, l, "alice", ledger.EntryRedeemed, -80)

	// WHEN: projecting
	summary, err := l.Projector().Summary(ctx, "alice")
	require.NoError(t, err)

	// THEN: the balance is the fold and totals are split per kind
	assert.Equal(t, ledger.Points(45), summary.Balance)
	assert.Equal(t, sumEntries(t, l, "alice"), summary.Balance)
	assert.Equal(t, ledger.Points(100), summary.Earned)
	assert.Equal(t, ledger.Points(25), summary.Bonus)
	assert.Equal(t, ledger.Points(80), summary.Redeemed)
	assert.Equal(t, 3, summary.Entries)
	assert.Equal(t, t0, summary.AsOf)
}

func TestAppend_AssignsIDSeqAndTime(t *testing.T) {
	l, clock := newTestLedger(t)

	first := credit(t, l, "alice", ledger.EntryEarned, 10)
	clock.Advance(time.Minute)
	second := credit(t, l, "alice", ledger.EntryEarned, 10)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Greater(t, second.Seq, first.Seq)
	assert.Equal(t, t0, first.CreatedAt)
	assert.Equal(t, t0.Add(time.Minute), second.CreatedAt)
}

func TestAppend_RejectsMalformedEntries(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		entry ledger.Entry
	}{
		{"zero points", ledger.Entry{UserID: "u", Kind: ledger.EntryEarned, Points: 0}},
		{"negative credit", ledger.Entry{UserID: "u", Kind: ledger.EntryEarned, Points: -5}},
		{"positive debit", ledger.Entry{UserID: "u", Kind: ledger.EntryRedeemed, Points: 5}},
		{"unknown kind", ledger.Entry{UserID: "u", Kind: "gift", Points: 5}},
		{"missing user", ledger.Entry{Kind: ledger.EntryBonus, Points: 5}},
		{"oversized credit", ledger.Entry{UserID: "u", Kind: ledger.EntryBonus, Points: ledger.MaxEntryPoints + 1}},
		{"oversized debit", ledger.Entry{UserID: "u", Kind: ledger.EntryPenalty, Points: -ledger.MaxEntryPoints - 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Append(ctx, tt.entry)
			assert.ErrorIs(t, err, ledger.ErrValidation)
		})
	}
	assert.Zero(t, sumEntries(t, l, "u"))
}

func TestAppend_RejectsNegativeBalance(t *testing.T) {
	// GIVEN: 50 points
	l, _ := newTestLedger(t)
	credit(t, l, "bob", ledger.EntryEarned, 50)

	// WHEN: a penalty of 60 is applied
	_, err := l.Append(context.Background(), ledger.Entry{UserID: "bob", Kind: ledger.EntryPenalty, Points: -60})

	// THEN: refused with negative_balance, nothing written
	var verr *ledger.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "negative_balance", verr.Code)

	entries, err := l.EntriesForUser(context.Background(), "bob", nil)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	// AND: a penalty of exactly the balance is accepted
	credit(t, l, "bob", ledger.EntryPenalty, -50)
	assert.Zero(t, sumEntries(t, l, "bob"))
}

func TestAppend_IdempotencyKeyReplays(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	e := ledger.Entry{UserID: "carol", Kind: ledger.EntryEarned, Points: 100, IdempotencyKey: "pickup:1"}
	first, err := l.Append(ctx, e)
	require.NoError(t, err)

	second, err := l.Append(ctx, e)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, ledger.Points(100), sumEntries(t, l, "carol"))

	// keys are per user
	e.UserID = "dave"
	_, err = l.Append(ctx, e)
	require.NoError(t, err)
	assert.Equal(t, ledger.Points(100), sumEntries(t, l, "dave"))
}

func TestAppend_ConcurrentSpendsNeverOverdraw(t *testing.T) {
	// GIVEN: 100 points and 20 concurrent spends of 10
	l, _ := newTestLedger(t)
	credit(t, l, "erin", ledger.EntryEarned, 100)

	var ok, refused atomic.Int32
	var g errgroup.Group
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			_, err := l.Append(context.Background(), ledger.Entry{UserID: "erin", Kind: ledger.EntryPurchased, Points: -10})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ledger.ErrValidation):
				refused.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	// THEN: exactly ten succeed and the balance lands on zero
	assert.EqualValues(t, 10, ok.Load())
	assert.EqualValues(t, 10, refused.Load())
	bal, err := l.Projector().BalanceOf(context.Background(), "erin")
	require.NoError(t, err)
	assert.Zero(t, bal)
	assert.Equal(t, sumEntries(t, l, "erin"), bal)
}

// =============================================================================
// POINT IN TIME
// =============================================================================

func TestBalanceAt(t *testing.T) {
	l, clock := newTestLedger(t)
	ctx := context.Background()

	credit(t, l, "frank", ledger.EntryEarned, 100) // t0
	clock.Advance(time.Hour)
	credit(t, l, "frank", ledger.EntryRedeemed, -30) // t0+1h

	tests := []struct {
		at   time.Time
		want ledger.Points
	}{
		{t0.Add(-time.Second), 0},
		{t0, 100},
		{t0.Add(59 * time.Minute), 100},
		{t0.Add(time.Hour), 70},
		{t0.Add(48 * time.Hour), 70},
	}
	for _, tt := range tests {
		t.Run(tt.at.Format(time.RFC3339), func(t *testing.T) {
			got, err := l.Projector().BalanceAt(ctx, "frank", tt.at)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	before := t0.Add(time.Hour)
	entries, err := l.EntriesForUser(ctx, "frank", &before)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

// =============================================================================
// ERRORS
// =============================================================================

func TestErrorKinds(t *testing.T) {
	cause := errors.New("disk on fire")
	storeErr := ledger.WrapStore("append", cause)

	tests := []struct {
		err       error
		kind      ledger.ErrorKind
		retryable bool
		client    bool
	}{
		{ledger.NewValidationError("x", "y"), ledger.KindValidation, false, true},
		{&ledger.NotFoundError{Resource: "reward", ID: "1"}, ledger.KindNotFound, false, true},
		{fmt.Errorf("reward: %w", ledger.ErrSoldOut), ledger.KindSoldOut, false, true},
		{&ledger.InsufficientPointsError{Available: 10, Required: 80}, ledger.KindInsufficient, false, true},
		{&ledger.InvalidTransitionError{Resource: "pickup", From: "completed", To: "completed"}, ledger.KindInvalidTransition, false, true},
		{storeErr, ledger.KindStoreUnavailable, true, false},
		{cause, ledger.KindInternal, false, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.kind, ledger.KindOf(tt.err))
			assert.Equal(t, tt.retryable, ledger.IsRetryable(tt.err))
			assert.Equal(t, tt.client, ledger.IsClientError(tt.err))
		})
	}

	// StoreError keeps its cause reachable
	assert.ErrorIs(t, storeErr, cause)
	// domain errors pass through WrapStore untouched
	nf := &ledger.NotFoundError{Resource: "pickup", ID: "x"}
	assert.Same(t, nf, ledger.WrapStore("get pickup", nf))
	assert.Nil(t, ledger.WrapStore("noop", nil))

	ip := &ledger.InsufficientPointsError{Available: 10, Required: 80}
	assert.Equal(t, ledger.Points(70), ip.Shortfall())
}
