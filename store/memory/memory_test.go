package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/wastewise/ledger"
	"github.com/warp/wastewise/store/memory"
	"github.com/warp/wastewise/store/storetest"
)

func TestContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ledger.Store { return memory.New() })
}

func TestLockWaitIsBounded(t *testing.T) {
	// GIVEN: a store whose lock wait times out after 20ms
	s := memory.New(memory.WithTxTimeout(20 * time.Millisecond))
	ctx := context.Background()

	// WHEN: a unit of work calls back into the store instead of using its tx
	var inner error
	err := s.WithUserTx(ctx, "alice", func(ledger.Tx) error {
		_, inner = s.LatestSeq(ctx, "alice")
		return nil
	})

	// THEN: the nested call gives up as a retryable store error
	require.NoError(t, err)
	assert.ErrorIs(t, inner, ledger.ErrStoreUnavailable)
	assert.True(t, ledger.IsRetryable(inner))
}

func TestCancelledContextDoesNotWait(t *testing.T) {
	s := memory.New()
	ctx, cancel := context.WithCancel(context.Background())

	release := make(chan struct{})
	held := make(chan struct{})
	go func() {
		_ = s.WithUserTx(context.Background(), "alice", func(ledger.Tx) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	cancel()
	_, err := s.Entries(ctx, "bob", ledger.EntryQuery{})
	assert.ErrorIs(t, err, ledger.ErrStoreUnavailable)
}

func TestPanicRollsBack(t *testing.T) {
	// GIVEN: a unit of work that writes an entry and then panics
	s := memory.New(memory.WithTxTimeout(50 * time.Millisecond))
	ctx := context.Background()

	assert.PanicsWithValue(t, "boom", func() {
		_ = s.WithUserTx(ctx, "alice", func(tx ledger.Tx) error {
			e := ledger.Entry{ID: uuid.New(), UserID: "alice", Kind: ledger.EntryEarned, Points: 10, CreatedAt: time.Now()}
			if err := tx.AppendEntry(ctx, &e); err != nil {
				return err
			}
			panic("boom")
		})
	})

	// THEN: the write is gone and the lock was released
	entries, err := s.Entries(ctx, "alice", ledger.EntryQuery{})
	require.NoError(t, err)
	assert.Empty(t, entries)
	seq, err := s.LatestSeq(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, seq)
}
