package risk

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantgrid/arbengine/internal/book"
	"github.com/quantgrid/arbengine/internal/domain"
)

// GateConfig carries the tunables of the risk gate. All percentages are
// fractional (0.005 = 0.5%).
type GateConfig struct {
	// DepthMultiple is how many times the per-leg trade size the top-level
	// book volume must cover (spec range 2.5x-5x).
	DepthMultiple decimal.Decimal
	// DepthLevels is how many levels from the top count toward depth.
	DepthLevels int
	// ThresholdFloor/ThresholdCeil bound the dynamic minimum-profit
	// threshold (default 0.4%-1.0%).
	ThresholdFloor decimal.Decimal
	ThresholdCeil  decimal.Decimal
	// MaxVWAPSlippage bounds the VWAP deviation used to size against the
	// book.
	MaxVWAPSlippage decimal.Decimal
	// ImbalancePct is the fractional band around the mid-price whose
	// cumulative volume feeds the imbalance score (default 1%).
	ImbalancePct decimal.Decimal
	// MinTradeSize is the smallest viable size in start-asset units; sizes
	// shrunk below it are rejected rather than placed.
	MinTradeSize decimal.Decimal
}

// Decision is the accepted outcome of an admit call.
type Decision struct {
	SizeCap   decimal.Decimal // in the path's start asset
	Threshold decimal.Decimal // the dynamic threshold applied
}

// Gate admits or rejects opportunities. Rejections come back as wrapped
// sentinel errors (ErrBelowThreshold, ErrInsufficientDepth,
// ErrInsufficientBalance) so callers can classify without string matching.
type Gate struct {
	cfg      GateConfig
	books    *book.Cache
	vol      *VolTracker
	balances domain.BalanceSource
	logger   *slog.Logger
}

// NewGate creates a Gate.
func NewGate(cfg GateConfig, books *book.Cache, vol *VolTracker, balances domain.BalanceSource, logger *slog.Logger) *Gate {
	if cfg.ImbalancePct.IsZero() {
		cfg.ImbalancePct = decimal.RequireFromString("0.01")
	}
	return &Gate{
		cfg:      cfg,
		books:    books,
		vol:      vol,
		balances: balances,
		logger:   logger.With(slog.String("component", "risk_gate")),
	}
}

// Admit runs the full gate on an opportunity for the requested size:
// dynamic threshold, per-leg depth multiple with size shrinking, VWAP
// sizing, and the capital check against the origin venue's available
// balance. On success the returned decision carries the final size cap.
func (g *Gate) Admit(ctx context.Context, opp domain.Opportunity, requested decimal.Decimal, now time.Time) (Decision, error) {
	threshold := g.Threshold(opp, now)
	if opp.NetProfitPct.LessThan(threshold) {
		return Decision{Threshold: threshold}, fmt.Errorf(
			"risk: %s net %s below threshold %s: %w",
			opp.Path.ID, opp.NetProfitPct, threshold, domain.ErrBelowThreshold)
	}

	size, err := g.sizeAgainstBook(opp.Path, requested, now)
	if err != nil {
		return Decision{Threshold: threshold}, err
	}

	// Capital check: never assume balance, always query.
	origin := opp.Path.Legs[0].Venue
	avail, err := g.balances.Available(ctx, origin, opp.Path.StartAsset)
	if err != nil {
		return Decision{Threshold: threshold}, fmt.Errorf("risk: query balance %s on %s: %w",
			opp.Path.StartAsset, origin, err)
	}
	if avail.LessThan(size) {
		size = avail
	}
	if size.LessThan(g.cfg.MinTradeSize) {
		return Decision{Threshold: threshold}, fmt.Errorf(
			"risk: %s available %s %s on %s under minimum size %s: %w",
			opp.Path.ID, avail, opp.Path.StartAsset, origin, g.cfg.MinTradeSize,
			domain.ErrInsufficientBalance)
	}

	return Decision{SizeCap: size, Threshold: threshold}, nil
}

// Threshold computes the current dynamic minimum-profit threshold for the
// opportunity's path: the configured floor raised toward the ceiling by
// recent volatility and order-book imbalance, always inside the band.
func (g *Gate) Threshold(opp domain.Opportunity, now time.Time) decimal.Decimal {
	volScore := 0.0
	for _, key := range opp.Path.Resources() {
		if s := g.vol.Score(key.Asset); s > volScore {
			volScore = s
		}
	}
	imbScore := g.imbalanceScore(opp.Path, now)

	score := decimal.NewFromFloat((volScore + imbScore) / 2)
	band := g.cfg.ThresholdCeil.Sub(g.cfg.ThresholdFloor)
	t := g.cfg.ThresholdFloor.Add(band.Mul(score))
	if t.LessThan(g.cfg.ThresholdFloor) {
		return g.cfg.ThresholdFloor
	}
	if t.GreaterThan(g.cfg.ThresholdCeil) {
		return g.cfg.ThresholdCeil
	}
	return t
}

// imbalanceScore averages bid/ask volume imbalance near the mid across the
// path's legs, on [0, 1]. Only volume within ImbalancePct of the mid counts,
// so far-away resting size does not mask a one-sided top of book. Unreadable
// books contribute zero; the profit engine has already established freshness
// for admitted opportunities.
func (g *Gate) imbalanceScore(path domain.Path, now time.Time) float64 {
	var total float64
	var n int
	for _, leg := range path.Legs {
		snap, err := g.books.ReadAt(domain.BookKey{Venue: leg.Venue, Pair: leg.Pair}, now)
		if err != nil {
			continue
		}
		bid := snap.DepthWithinPct(domain.BidSide, g.cfg.ImbalancePct)
		ask := snap.DepthWithinPct(domain.AskSide, g.cfg.ImbalancePct)
		sum := bid.Add(ask)
		if sum.IsZero() {
			continue
		}
		imb, _ := bid.Sub(ask).Abs().Div(sum).Float64()
		total += imb
		n++
	}
	if n == 0 {
		return 0
	}
	return total / float64(n)
}

// sizeAgainstBook walks the requested start-asset size through the path and
// shrinks it until every leg's consumed-side depth covers the leg size by
// the configured multiple and the leg's VWAP stays inside the slippage
// allowance. Sizes scale linearly along the path, so a single shrink ratio
// re-satisfies every earlier leg.
func (g *Gate) sizeAgainstBook(path domain.Path, requested decimal.Decimal, now time.Time) (decimal.Decimal, error) {
	size := requested
	amount := requested // running amount in each leg's consumed asset

	for i, leg := range path.Legs {
		snap, err := g.books.ReadAt(domain.BookKey{Venue: leg.Venue, Pair: leg.Pair}, now)
		if err != nil {
			return decimal.Zero, fmt.Errorf("risk: %s leg %d: %w", path.ID, i+1, err)
		}

		// Book sizes are in base units; express the leg the same way.
		var side domain.BookSide
		var baseQty decimal.Decimal
		if leg.Action == domain.Buy {
			side = domain.AskSide
			if snap.BestAsk.IsZero() {
				return decimal.Zero, fmt.Errorf("risk: %s leg %d empty asks: %w", path.ID, i+1, domain.ErrInsufficientDepth)
			}
			baseQty = amount.Div(snap.BestAsk)
		} else {
			side = domain.BidSide
			baseQty = amount
		}

		allowed := snap.DepthTopLevels(side, g.cfg.DepthLevels).Div(g.cfg.DepthMultiple)
		if vwapCap := vwapMaxSize(snap.Side(side), g.cfg.MaxVWAPSlippage); vwapCap.LessThan(allowed) {
			allowed = vwapCap
		}
		if baseQty.GreaterThan(allowed) {
			if baseQty.IsZero() {
				return decimal.Zero, fmt.Errorf("risk: %s leg %d: %w", path.ID, i+1, domain.ErrInsufficientDepth)
			}
			ratio := allowed.Div(baseQty)
			size = size.Mul(ratio)
			amount = amount.Mul(ratio)
			baseQty = allowed
		}
		if size.LessThan(g.cfg.MinTradeSize) {
			return decimal.Zero, fmt.Errorf(
				"risk: %s leg %d depth supports only %s of start asset, under minimum %s: %w",
				path.ID, i+1, size, g.cfg.MinTradeSize, domain.ErrInsufficientDepth)
		}

		// Convert to the next leg's consumed amount (gross; fees only make
		// the true amount smaller, which keeps the depth check conservative).
		if leg.Action == domain.Buy {
			amount = baseQty
		} else {
			amount = baseQty.Mul(snap.BestBid)
		}
	}
	return size, nil
}

// vwapMaxSize returns the largest volume consumable from the levels before
// the VWAP deviates from the best price by more than maxSlippage. It stops
// at the last full level rather than splitting one.
func vwapMaxSize(levels []domain.BookLevel, maxSlippage decimal.Decimal) decimal.Decimal {
	if len(levels) == 0 {
		return decimal.Zero
	}
	best := levels[0].Price
	if best.IsZero() {
		return decimal.Zero
	}

	vol := decimal.Zero
	cost := decimal.Zero
	for _, lvl := range levels {
		nextVol := vol.Add(lvl.Size)
		nextCost := cost.Add(lvl.Price.Mul(lvl.Size))
		if nextVol.IsZero() {
			continue
		}
		vwap := nextCost.Div(nextVol)
		deviation := vwap.Sub(best).Abs().Div(best)
		if deviation.GreaterThan(maxSlippage) {
			return vol
		}
		vol = nextVol
		cost = nextCost
	}
	return vol
}
