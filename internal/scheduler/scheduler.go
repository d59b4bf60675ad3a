// Package scheduler drives repeated evaluation of the path catalog. Scans
// are event-driven off book updates with a minimum inter-scan spacing floor
// per path, a periodic fallback for books with no event source, and a
// volatility-based slowdown. The same path is never evaluated and executed
// by two cycles concurrently.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantgrid/arbengine/internal/catalog"
	"github.com/quantgrid/arbengine/internal/domain"
	"github.com/quantgrid/arbengine/internal/executor"
	"github.com/quantgrid/arbengine/internal/profit"
	"github.com/quantgrid/arbengine/internal/risk"
)

// Config carries scan cadences per path family.
type Config struct {
	// CrossVenueFloor and TriangularFloor are the minimum spacings between
	// scans of one path.
	CrossVenueFloor time.Duration
	TriangularFloor time.Duration
	// FallbackEvery is the periodic sweep cadence for paths whose books
	// produce no events.
	FallbackEvery time.Duration
	// RequestSize is the size requested from the risk gate, in each path's
	// start asset.
	RequestSize decimal.Decimal
	// ExecuteTrades commits capital when true; otherwise opportunities are
	// only published (scan mode).
	ExecuteTrades bool
}

// Scheduler connects the catalog, profit engine, risk gate, and coordinator.
type Scheduler struct {
	cfg    Config
	paths  *catalog.Catalog
	engine *profit.Engine
	fees   domain.FeeSource
	gate   *risk.Gate
	vol    *risk.VolTracker
	coord  *executor.Coordinator
	bus    domain.EventBus
	logger *slog.Logger

	mu       sync.Mutex
	lastScan map[string]time.Time // path ID -> last scan start
	inFlight map[string]bool      // path ID -> cycle running
	wg       sync.WaitGroup       // running cycles
}

// New creates a Scheduler. bus may be nil.
func New(
	cfg Config,
	paths *catalog.Catalog,
	engine *profit.Engine,
	fees domain.FeeSource,
	gate *risk.Gate,
	vol *risk.VolTracker,
	coord *executor.Coordinator,
	bus domain.EventBus,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		paths:    paths,
		engine:   engine,
		fees:     fees,
		gate:     gate,
		vol:      vol,
		coord:    coord,
		bus:      bus,
		logger:   logger.With(slog.String("component", "scheduler")),
		lastScan: make(map[string]time.Time),
		inFlight: make(map[string]bool),
	}
}

// Run drives the periodic fallback sweep until ctx is cancelled, then waits
// for in-flight cycles to reach a terminal state. Event triggers arrive
// concurrently through OnBookUpdate.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.FallbackEvery)
	defer ticker.Stop()

	s.logger.Info("scheduler started",
		slog.Int("paths", s.paths.Len()),
		slog.Bool("execute", s.cfg.ExecuteTrades),
	)
	defer s.logger.Info("scheduler stopped")

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			for _, p := range s.paths.All() {
				s.maybeScan(ctx, p, time.Now())
			}
		}
	}
}

// OnBookUpdate triggers scans for every path touching the updated book,
// subject to each path's spacing floor. Called by the feed layer on every
// snapshot it applies.
func (s *Scheduler) OnBookUpdate(ctx context.Context, key domain.BookKey) {
	now := time.Now()
	for _, p := range s.paths.TouchingBook(key) {
		s.maybeScan(ctx, p, now)
	}
}

// maybeScan launches one evaluate+admit+execute cycle for the path when its
// spacing floor has elapsed and no cycle for it is in flight. The cycle runs
// on its own goroutine: callers include the venue websocket read loops, and
// an execution suspended on a fill channel must never block snapshot
// delivery. The inFlight guard keeps cycles per path single-flight.
func (s *Scheduler) maybeScan(ctx context.Context, path domain.Path, now time.Time) {
	floor := s.floorFor(path)

	s.mu.Lock()
	if s.inFlight[path.ID] || now.Sub(s.lastScan[path.ID]) < floor {
		s.mu.Unlock()
		return
	}
	s.inFlight[path.ID] = true
	s.lastScan[path.ID] = now
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.inFlight, path.ID)
			s.mu.Unlock()
		}()

		if err := s.scan(ctx, path, now); err != nil {
			s.classifyAndLog(path, err)
		}
	}()
}

// floorFor returns the path's spacing floor, doubled per elevated asset's
// slowdown factor.
func (s *Scheduler) floorFor(path domain.Path) time.Duration {
	floor := s.cfg.CrossVenueFloor
	if path.Kind == domain.Triangular {
		floor = s.cfg.TriangularFloor
	}
	factor := 1
	for _, key := range path.Resources() {
		if f := s.vol.SlowdownFactor(key.Asset); f > factor {
			factor = f
		}
	}
	return floor * time.Duration(factor)
}

// scan runs the full pipeline for one path.
func (s *Scheduler) scan(ctx context.Context, path domain.Path, now time.Time) error {
	sched, err := s.fees.Schedule(ctx)
	if err != nil {
		return fmt.Errorf("fee schedule: %w", err)
	}

	opp, err := s.engine.Evaluate(path, sched, now)
	if err != nil {
		return err
	}

	decision, err := s.gate.Admit(ctx, opp, s.cfg.RequestSize, now)
	if err != nil {
		return err
	}
	opp.MaxSafeSize = decision.SizeCap

	if s.bus != nil {
		if err := s.bus.PublishOpportunity(ctx, opp); err != nil {
			s.logger.Warn("opportunity publish failed",
				slog.String("path", path.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	s.logger.Info("opportunity admitted",
		slog.String("path", path.ID),
		slog.String("net_pct", opp.NetProfitPct.String()),
		slog.String("threshold", decision.Threshold.String()),
		slog.String("size_cap", decision.SizeCap.String()),
	)

	if !s.cfg.ExecuteTrades {
		return nil
	}
	// Withdrawal is only possible before the first leg commits; a cancelled
	// context stops here rather than mid-execution.
	if ctx.Err() != nil {
		return ctx.Err()
	}
	_, err = s.coord.Execute(ctx, opp, decision.SizeCap)
	return err
}

// classifyAndLog applies the propagation policy: data-quality and
// depth/threshold rejections are recovered locally by skipping the cycle
// and logged at debug; lock contention is an expected reject; anything
// else is surfaced at warn.
func (s *Scheduler) classifyAndLog(path domain.Path, err error) {
	switch {
	case errors.Is(err, domain.ErrBookStale),
		errors.Is(err, domain.ErrBookMissing),
		errors.Is(err, domain.ErrBelowThreshold):
		s.logger.Debug("scan skipped", slog.String("path", path.ID), slog.String("reason", err.Error()))
	case errors.Is(err, domain.ErrInsufficientDepth),
		errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrLockHeld):
		s.logger.Info("opportunity rejected", slog.String("path", path.ID), slog.String("reason", err.Error()))
	case errors.Is(err, context.Canceled):
	default:
		s.logger.Warn("scan failed", slog.String("path", path.ID), slog.String("error", err.Error()))
	}
}
