package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quantgrid/arbengine/internal/book"
	"github.com/quantgrid/arbengine/internal/domain"
)

// PairLister reports which pairs are tradeable on a venue; the coordinator
// uses it to resolve the remediation order's pair. Implemented by
// catalog.Universe.
type PairLister interface {
	Listed(venue domain.Venue, pair domain.Pair) bool
}

// Alerter raises human-visible notifications. Implemented by
// notify.Notifier.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// CoordinatorConfig carries the execution tunables.
type CoordinatorConfig struct {
	// FillTimeout bounds the wait for a leg's fill confirmation.
	FillTimeout time.Duration
	// VenueFillTimeout overrides FillTimeout per venue.
	VenueFillTimeout map[domain.Venue]time.Duration
	// FillTolerance is the minimum filled fraction of a leg's expected
	// output below which the leg counts as failed (e.g. 0.995).
	FillTolerance decimal.Decimal
}

// Coordinator drives the per-execution state machine:
//
//	Pending -> Leg1Committed -> Leg2Committed -> [Leg3Committed] -> Completed
//	                  \-> LegNFailed -> Remediating -> RolledBack | Completed | PartiallyStranded
//
// Legs are strictly ordered because each leg's output is the next leg's
// exact input. The coordinator suspends on the fill channel rather than
// polling, and holds the path's resource locks until a terminal state.
type Coordinator struct {
	cfg      CoordinatorConfig
	locks    *LockTable
	placer   domain.OrderPlacer
	books    *book.Cache
	listings PairLister
	bus      domain.EventBus
	store    domain.ExecutionStore
	alerter  Alerter
	stats    *Stats
	logger   *slog.Logger
}

// NewCoordinator creates a Coordinator. bus, store, and alerter may be nil;
// the corresponding side effects are skipped.
func NewCoordinator(
	cfg CoordinatorConfig,
	locks *LockTable,
	placer domain.OrderPlacer,
	books *book.Cache,
	listings PairLister,
	bus domain.EventBus,
	store domain.ExecutionStore,
	alerter Alerter,
	logger *slog.Logger,
) *Coordinator {
	if cfg.FillTimeout <= 0 {
		cfg.FillTimeout = 30 * time.Second
	}
	if cfg.FillTolerance.IsZero() {
		cfg.FillTolerance = decimal.RequireFromString("0.995")
	}
	return &Coordinator{
		cfg:      cfg,
		locks:    locks,
		placer:   placer,
		books:    books,
		listings: listings,
		bus:      bus,
		store:    store,
		alerter:  alerter,
		stats:    NewStats(),
		logger:   logger.With(slog.String("component", "coordinator")),
	}
}

// Stats returns the rolling realized-performance tracker.
func (c *Coordinator) Stats() StatsSnapshot {
	return c.stats.Snapshot()
}

// Holding exposes the lock table's query surface.
func (c *Coordinator) Holding(venue domain.Venue, asset domain.Asset) bool {
	return c.locks.Holding(venue, asset)
}

// LockedResources lists resources currently owned by in-flight executions.
func (c *Coordinator) LockedResources() []domain.ResourceKey {
	return c.locks.LockedResources()
}

// Execute commits the accepted opportunity at the given size. It returns
// domain.ErrLockHeld without any side effects when another execution owns a
// shared resource. Any other return carries a terminal ExecutionResult.
func (c *Coordinator) Execute(ctx context.Context, opp domain.Opportunity, size decimal.Decimal) (domain.ExecutionResult, error) {
	release, err := c.locks.TryAcquire(opp.Path.Resources())
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("execute %s: %w", opp.Path.ID, err)
	}
	defer release()

	log := c.logger.With(
		slog.String("path", opp.Path.ID),
		slog.String("opportunity", opp.ID),
		slog.String("size", size.String()),
	)
	log.Info("execution started")

	res := domain.ExecutionResult{
		ID:            uuid.New().String(),
		OpportunityID: opp.ID,
		Path:          opp.Path,
		CommittedSize: size,
		StartedAt:     time.Now().UTC(),
	}

	amount := size // running balance, in the asset the next leg consumes
	for i, leg := range opp.Path.Legs {
		outcome := c.placeAndWait(ctx, leg, amount)
		res.Legs = append(res.Legs, outcome)

		if outcome.Status == domain.LegFilled {
			amount = outcome.FilledQty
			log.Info("leg filled",
				slog.Int("leg", i+1),
				slog.String("order_id", outcome.OrderID),
				slog.String("produced", amount.String()),
			)
			continue
		}

		log.Warn("leg failed",
			slog.Int("leg", i+1),
			slog.String("status", string(outcome.Status)),
		)
		c.resolveFailure(ctx, &res, i, leg, amount, outcome, log)
		return c.finish(ctx, res, log)
	}

	// Every leg filled; amount is back in the start asset.
	res.RealizedProfit = amount.Sub(size)
	res.State = domain.Completed
	return c.finish(ctx, res, log)
}

// resolveFailure applies the failure branch for leg i. A first-leg failure
// converted nothing, so the execution rolls back with no remediation. A
// later failure can leave inventory in up to two assets: the failed leg's
// partial output and the portion of its input the fill never consumed. Every
// held balance outside the start asset is liquidated back in a best-effort
// market order; whatever is already in the start asset is kept and counted.
func (c *Coordinator) resolveFailure(ctx context.Context, res *domain.ExecutionResult, i int, leg domain.Leg, amount decimal.Decimal, outcome domain.LegOutcome, log *slog.Logger) {
	if i == 0 && outcome.FilledQty.IsZero() {
		res.State = domain.RolledBack
		res.RealizedProfit = decimal.Zero
		return
	}

	held := []struct {
		asset domain.Asset
		qty   decimal.Decimal
	}{
		{leg.Produces(), outcome.FilledQty},
		{leg.Consumes(), amount.Sub(consumedInput(leg, outcome, amount))},
	}

	recovered := decimal.Zero
	for _, h := range held {
		if !h.qty.IsPositive() {
			continue
		}
		if h.asset == res.Path.StartAsset {
			recovered = recovered.Add(h.qty)
			continue
		}
		out, err := c.remediate(ctx, res, leg.Venue, h.asset, h.qty, log)
		if err != nil {
			c.strand(ctx, res, leg.Venue, h.asset, h.qty, recovered, err, log)
			return
		}
		recovered = recovered.Add(out)
	}

	res.State = domain.Completed
	res.RealizedProfit = recovered.Sub(res.CommittedSize)
}

// consumedInput derives how much of the leg's input a terminal partial fill
// actually consumed, from the confirmed quantity and price. With no usable
// price the input is assumed fully consumed rather than liquidating a
// balance the venue may not hold.
func consumedInput(leg domain.Leg, outcome domain.LegOutcome, amount decimal.Decimal) decimal.Decimal {
	if !outcome.FilledQty.IsPositive() {
		return decimal.Zero
	}
	if outcome.FilledPrice.IsZero() {
		return amount
	}
	if leg.Action == domain.Buy {
		return outcome.FilledQty.Mul(outcome.FilledPrice)
	}
	return outcome.FilledQty.Div(outcome.FilledPrice)
}

// remediate issues one best-effort market liquidation of a held balance back
// into the start asset, even at a realized loss. The loss is recorded, never
// hidden. Remediation runs on its own bounded context so an upstream
// cancellation cannot strand the position silently. Returns the recovered
// start-asset amount.
func (c *Coordinator) remediate(ctx context.Context, res *domain.ExecutionResult, venue domain.Venue, asset domain.Asset, qty decimal.Decimal, log *slog.Logger) (decimal.Decimal, error) {
	log.Warn("remediating",
		slog.String("held_asset", string(asset)),
		slog.String("held_qty", qty.String()),
	)

	remCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fillTimeout(venue)+5*time.Second)
	defer cancel()

	leg, ok := c.remediationLeg(venue, asset, res.Path.StartAsset)
	if !ok {
		return decimal.Zero, errors.New("no listed pair back to start asset")
	}

	outcome := c.placeAndWait(remCtx, leg, qty)
	res.Remediations = append(res.Remediations, outcome)
	if outcome.Status != domain.LegFilled {
		return decimal.Zero, domain.ErrRemediationFailed
	}

	log.Warn("remediation filled",
		slog.String("held_asset", string(asset)),
		slog.String("recovered", outcome.FilledQty.String()),
	)
	return outcome.FilledQty, nil
}

// strand marks the execution PartiallyStranded and raises a high-severity
// alert. This is the only non-self-healing outcome; it is reported, never
// swallowed. Only amounts actually recovered into the start asset count
// toward the realized figure; the stranded balance is written off.
func (c *Coordinator) strand(ctx context.Context, res *domain.ExecutionResult, venue domain.Venue, asset domain.Asset, qty, recovered decimal.Decimal, cause error, log *slog.Logger) {
	res.State = domain.PartiallyStranded
	res.RealizedProfit = recovered.Sub(res.CommittedSize)

	log.Error("position stranded",
		slog.String("venue", string(venue)),
		slog.String("asset", string(asset)),
		slog.String("qty", qty.String()),
		slog.String("cause", cause.Error()),
	)
	if c.alerter != nil {
		alertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		msg := fmt.Sprintf("execution %s stranded %s %s on %s: %v",
			res.ID, qty, asset, venue, cause)
		if err := c.alerter.Notify(alertCtx, "remediation_failed", "REMEDIATION FAILED", msg); err != nil {
			log.Error("alert delivery failed", slog.String("error", err.Error()))
		}
	}
}

// remediationLeg resolves the market order that converts `from` into `to`
// on the venue, in whichever direction the pair is listed.
func (c *Coordinator) remediationLeg(venue domain.Venue, from, to domain.Asset) (domain.Leg, bool) {
	if p := (domain.Pair{Base: from, Quote: to}); c.listings.Listed(venue, p) {
		return domain.Leg{Venue: venue, Pair: p, Action: domain.Sell}, true
	}
	if p := (domain.Pair{Base: to, Quote: from}); c.listings.Listed(venue, p) {
		return domain.Leg{Venue: venue, Pair: p, Action: domain.Buy}, true
	}
	return domain.Leg{}, false
}

// placeAndWait submits one market order and suspends on its fill channel
// until the terminal confirmation or the venue's timeout. Partial fills
// accumulate; a terminal total under the fill tolerance of the expected
// output counts as rejected, and silence past the timeout counts as timed
// out.
func (c *Coordinator) placeAndWait(ctx context.Context, leg domain.Leg, quantity decimal.Decimal) domain.LegOutcome {
	outcome := domain.LegOutcome{Leg: leg, Status: domain.LegPending}
	expected := c.expectedOut(leg, quantity)

	orderID, fills, err := c.placer.Place(ctx, domain.OrderRequest{
		Venue:    leg.Venue,
		Pair:     leg.Pair,
		Action:   leg.Action,
		Quantity: quantity,
	})
	if err != nil {
		outcome.Status = domain.LegRejected
		return outcome
	}
	outcome.OrderID = orderID

	timer := time.NewTimer(c.fillTimeout(leg.Venue))
	defer timer.Stop()

	total := decimal.Zero
	var lastPrice decimal.Decimal
	for {
		select {
		case <-timer.C:
			outcome.FilledQty = total
			outcome.FilledPrice = lastPrice
			outcome.Status = domain.LegTimedOut
			return outcome
		case <-ctx.Done():
			outcome.FilledQty = total
			outcome.FilledPrice = lastPrice
			outcome.Status = domain.LegTimedOut
			return outcome
		case fill, ok := <-fills:
			if !ok {
				// Stream closed without a terminal event.
				outcome.FilledQty = total
				outcome.FilledPrice = lastPrice
				outcome.Status = domain.LegRejected
				return outcome
			}
			total = total.Add(fill.Quantity)
			if !fill.Price.IsZero() {
				lastPrice = fill.Price
			}
			if fill.Rejected {
				outcome.FilledQty = total
				outcome.FilledPrice = lastPrice
				outcome.Status = domain.LegRejected
				return outcome
			}
			if fill.Final {
				outcome.FilledQty = total
				outcome.FilledPrice = lastPrice
				switch {
				case total.IsZero():
					outcome.Status = domain.LegRejected
				case expected.IsPositive() && total.LessThan(expected.Mul(c.cfg.FillTolerance)):
					outcome.Status = domain.LegRejected
				default:
					outcome.Status = domain.LegFilled
				}
				return outcome
			}
		}
	}
}

// expectedOut estimates the leg's produced quantity from the current book,
// for the fill-tolerance check. Zero (no check) when the book is not
// readable; the opportunity was priced against a fresh book moments ago.
func (c *Coordinator) expectedOut(leg domain.Leg, quantity decimal.Decimal) decimal.Decimal {
	if c.books == nil {
		return decimal.Zero
	}
	snap, err := c.books.Read(domain.BookKey{Venue: leg.Venue, Pair: leg.Pair})
	if err != nil {
		return decimal.Zero
	}
	if leg.Action == domain.Buy {
		if snap.BestAsk.IsZero() {
			return decimal.Zero
		}
		return quantity.Div(snap.BestAsk)
	}
	return quantity.Mul(snap.BestBid)
}

// finish stamps the terminal state, records stats, persists, and publishes.
// Persistence and publication failures are logged, never allowed to mask
// the execution outcome.
func (c *Coordinator) finish(ctx context.Context, res domain.ExecutionResult, log *slog.Logger) (domain.ExecutionResult, error) {
	res.CompletedAt = time.Now().UTC()
	c.stats.Record(res)

	log.Info("execution finished",
		slog.String("state", string(res.State)),
		slog.String("realized", res.RealizedProfit.String()),
	)

	sideCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if c.store != nil {
		if err := c.store.Create(sideCtx, res); err != nil {
			log.Warn("execution persist failed", slog.String("error", err.Error()))
		}
	}
	if c.bus != nil {
		if err := c.bus.PublishExecution(sideCtx, res); err != nil {
			log.Warn("execution publish failed", slog.String("error", err.Error()))
		}
	}
	return res, nil
}

func (c *Coordinator) fillTimeout(venue domain.Venue) time.Duration {
	if d, ok := c.cfg.VenueFillTimeout[venue]; ok && d > 0 {
		return d
	}
	return c.cfg.FillTimeout
}
