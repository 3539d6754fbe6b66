/*
sweeper.go - Background expiry of redemption codes

PURPOSE:
  Periodically finds redemptions still stored as active whose expiry has
  passed and persists them as expired. Reads already report expired codes
  correctly through StatusAt; the sweeper keeps the stored status in line
  so reports and exports that read the table directly agree.

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - Each lapsed code is updated inside its owner's unit of work and
    re-checked there, so a concurrent Use is never overwritten
  - Works in batches of BatchSize until nothing lapsed remains

USAGE:
  sweeper := rewards.NewExpirySweeper(ledger, logger)
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - coordinator.go: Use also persists expiry when it meets a lapsed code
*/
package rewards

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/wastewise/ledger"
)

// ExpirySweeper marks lapsed redemptions as expired.
type ExpirySweeper struct {
	CheckInterval time.Duration
	BatchSize     int

	store  ledger.Store
	clock  ledger.Clock
	logger *zap.Logger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewExpirySweeper creates a sweeper that checks every hour.
func NewExpirySweeper(l *ledger.Ledger, logger *zap.Logger) *ExpirySweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExpirySweeper{
		CheckInterval: time.Hour,
		BatchSize:     100,
		store:         l.Store(),
		clock:         l.Clock(),
		logger:        logger,
	}
}

// Start begins the sweeper. It runs one sweep immediately.
func (s *ExpirySweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		return
	}
	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run(s.ticker, s.stop)

	s.logger.Info("expiry sweeper started", zap.Duration("interval", s.CheckInterval))
}

// Stop stops the sweeper and waits for a running sweep to finish.
func (s *ExpirySweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil
	s.logger.Info("expiry sweeper stopped")
}

func (s *ExpirySweeper) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	s.sweepLogged(ctx)
	for {
		select {
		case <-ticker.C:
			s.sweepLogged(ctx)
		case <-stop:
			return
		}
	}
}

func (s *ExpirySweeper) sweepLogged(ctx context.Context) {
	n, err := s.Sweep(ctx)
	if err != nil && ctx.Err() == nil {
		s.logger.Warn("expiry sweep failed", zap.Int("expired", n), zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("expiry sweep", zap.Int("expired", n))
	}
}

// Sweep expires every lapsed redemption and returns how many it changed.
func (s *ExpirySweeper) Sweep(ctx context.Context) (int, error) {
	size := s.BatchSize
	if size <= 0 {
		size = 100
	}
	total := 0
	for {
		now := s.clock.Now()
		batch, err := s.store.ListLapsedRedemptions(ctx, now, size)
		if err != nil {
			return total, err
		}
		if len(batch) == 0 {
			return total, nil
		}

		changed := 0
		for _, r := range batch {
			ok, err := s.expire(ctx, r, now)
			if err != nil {
				return total, err
			}
			if ok {
				changed++
			}
		}
		total += changed
		// Nothing in the batch could be changed; stop rather than spin on it.
		if changed == 0 || len(batch) < size {
			return total, nil
		}
	}
}

func (s *ExpirySweeper) expire(ctx context.Context, lapsed ledger.Redemption, now time.Time) (bool, error) {
	changed := false
	err := s.store.WithUserTx(ctx, lapsed.UserID, func(tx ledger.Tx) error {
		r, err := tx.GetRedemptionByCode(ctx, lapsed.Code)
		if err != nil {
			return err
		}
		if r.Status != ledger.RedemptionActive || r.StatusAt(now) != ledger.RedemptionExpired {
			return nil
		}
		r.Status = ledger.RedemptionExpired
		if err := tx.UpdateRedemption(ctx, r); err != nil {
			return err
		}
		changed = true
		return nil
	})
	return changed, err
}
