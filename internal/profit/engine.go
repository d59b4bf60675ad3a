// Package profit prices paths against live snapshots. Evaluate is a pure
// function of the snapshots, the fee schedule, and the slippage assumption:
// identical inputs produce bit-identical opportunities. All arithmetic is
// exact decimal; chained binary floating-point across legs is exactly the
// kind of error that manufactures fictitious profit.
package profit

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantgrid/arbengine/internal/book"
	"github.com/quantgrid/arbengine/internal/domain"
)

// Engine evaluates paths. It never substitutes a default price: any stale or
// missing leg snapshot makes the path unevaluable.
type Engine struct {
	books    *book.Cache
	slippage decimal.Decimal // assumed fractional slippage per leg
}

// NewEngine creates an Engine reading from the given cache with the given
// per-leg slippage assumption (fractional, e.g. 0.0005).
func NewEngine(books *book.Cache, slippage decimal.Decimal) *Engine {
	return &Engine{books: books, slippage: slippage}
}

// Evaluate walks one nominal unit of the path's start asset through every
// leg. Buys divide by the ask and apply (1 - taker - slippage); sells
// multiply by the bid and apply the same deduction. The gross figure uses
// zero fee and slippage. The returned opportunity's MaxSafeSize is zero:
// sizing belongs to the risk gate's depth check, not to profit math.
//
// Errors wrap domain.ErrBookStale or domain.ErrBookMissing when any leg's
// snapshot is unusable.
func (e *Engine) Evaluate(path domain.Path, fees domain.FeeSchedule, now time.Time) (domain.Opportunity, error) {
	one := decimal.NewFromInt(1)
	gross := one
	net := one
	times := make([]time.Time, 0, len(path.Legs))
	latest := time.Time{}

	for i, leg := range path.Legs {
		snap, err := e.books.ReadAt(domain.BookKey{Venue: leg.Venue, Pair: leg.Pair}, now)
		if err != nil {
			return domain.Opportunity{}, fmt.Errorf("profit: %s leg %d: %w", path.ID, i+1, err)
		}
		times = append(times, snap.ObservedAt)
		if snap.ObservedAt.After(latest) {
			latest = snap.ObservedAt
		}

		keep := one.Sub(fees.Taker(leg.Venue, leg.Pair)).Sub(e.slippage)
		switch leg.Action {
		case domain.Buy:
			if snap.BestAsk.IsZero() {
				return domain.Opportunity{}, fmt.Errorf("profit: %s leg %d: empty ask side: %w",
					path.ID, i+1, domain.ErrBookMissing)
			}
			gross = gross.Div(snap.BestAsk)
			net = net.Div(snap.BestAsk).Mul(keep)
		case domain.Sell:
			if snap.BestBid.IsZero() {
				return domain.Opportunity{}, fmt.Errorf("profit: %s leg %d: empty bid side: %w",
					path.ID, i+1, domain.ErrBookMissing)
			}
			gross = gross.Mul(snap.BestBid)
			net = net.Mul(snap.BestBid).Mul(keep)
		}
	}

	// The ID is derived from the inputs so that re-evaluating unchanged
	// snapshots is idempotent.
	id := fmt.Sprintf("%s@%d", path.ID, latest.UnixNano())

	return domain.Opportunity{
		ID:             id,
		Path:           path,
		GrossProfitPct: gross.Sub(one),
		NetProfitPct:   net.Sub(one),
		SnapshotTimes:  times,
		DetectedAt:     latest,
	}, nil
}

// Slippage returns the engine's per-leg slippage assumption.
func (e *Engine) Slippage() decimal.Decimal {
	return e.slippage
}
