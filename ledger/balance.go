/*
balance.go - Balance projection

PURPOSE:
  Computes a user's balance by folding ledger entries. There is no stored
  balance column anywhere: the fold IS the balance.

CACHING:
  Folding the whole history on every read is O(entries). The Projector
  keeps the last Summary per user together with the Seq of the last entry
  it folded. On read it asks the store for the user's latest Seq:
    - equal:   the cached Summary is current
    - greater: fold only entries with Seq > cached.LastSeq on top
    - other:   refold from scratch
  Because every read revalidates against the store, a read never returns
  a balance older than the last committed entry. Invalidate drops the
  cached Summary outright; the Ledger calls it after each commit.

  Reads made inside a unit of work (BalanceTx) start from the cache but
  never write back to it, so uncommitted entries cannot leak into the
  cache if the unit of work rolls back.

POINT-IN-TIME:
  BalanceAt(at) folds entries created at or before at. It bypasses the
  cache.

SEE ALSO:
  - types.go: Summary.Apply
  - ledger.go: uses BalanceTx for the non-negative check
*/
package ledger

import (
	"context"
	"sync"
	"time"
)

// =============================================================================
// PROJECTOR
// =============================================================================

type Projector struct {
	reader EntryReader
	clock  Clock

	mu    sync.Mutex
	cache map[UserID]Summary
}

func NewProjector(reader EntryReader, clock Clock) *Projector {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Projector{
		reader: reader,
		clock:  clock,
		cache:  make(map[UserID]Summary),
	}
}

// BalanceOf returns the user's current balance.
func (p *Projector) BalanceOf(ctx context.Context, userID UserID) (Points, error) {
	s, err := p.Summary(ctx, userID)
	if err != nil {
		return 0, err
	}
	return s.Balance, nil
}

// Summary returns the user's balance with per-kind totals.
func (p *Projector) Summary(ctx context.Context, userID UserID) (Summary, error) {
	s, err := p.project(ctx, p.reader, userID)
	if err != nil {
		return Summary{}, err
	}
	p.remember(s)
	s.AsOf = p.clock.Now()
	return s, nil
}

// BalanceTx returns the balance as seen by reader, typically a Tx. The
// result is not cached.
func (p *Projector) BalanceTx(ctx context.Context, reader EntryReader, userID UserID) (Points, error) {
	s, err := p.project(ctx, reader, userID)
	if err != nil {
		return 0, err
	}
	return s.Balance, nil
}

// BalanceAt returns the balance including every entry created at or
// before at.
func (p *Projector) BalanceAt(ctx context.Context, userID UserID, at time.Time) (Points, error) {
	before := at.Add(time.Nanosecond)
	entries, err := p.reader.Entries(ctx, userID, EntryQuery{Before: &before})
	if err != nil {
		return 0, err
	}
	return Fold(entries), nil
}

// Invalidate drops the cached projection for userID.
func (p *Projector) Invalidate(userID UserID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.cache, userID)
}

func (p *Projector) project(ctx context.Context, reader EntryReader, userID UserID) (Summary, error) {
	latest, err := reader.LatestSeq(ctx, userID)
	if err != nil {
		return Summary{}, err
	}

	base := Summary{UserID: userID}
	if cached, ok := p.cached(userID); ok {
		if cached.LastSeq == latest {
			return cached, nil
		}
		if cached.LastSeq < latest {
			base = cached
		}
	}

	entries, err := reader.Entries(ctx, userID, EntryQuery{AfterSeq: base.LastSeq})
	if err != nil {
		return Summary{}, err
	}
	for _, e := range entries {
		base.Apply(e)
	}
	return base, nil
}

func (p *Projector) cached(userID UserID) (Summary, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.cache[userID]
	return s, ok
}

// remember keeps s unless a newer projection is already cached.
func (p *Projector) remember(s Summary) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cur, ok := p.cache[s.UserID]; ok && cur.LastSeq > s.LastSeq {
		return
	}
	p.cache[s.UserID] = s
}
