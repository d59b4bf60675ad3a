// Package app provides top-level application lifecycle management for the
// arbitrage engine. It wires the snapshot cache, path catalog, profit
// engine, risk gate, executor, and scheduler together and supervises their
// goroutines for the configured operating mode.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/quantgrid/arbengine/internal/config"
)

// App is the root application object. It owns the configuration, logger,
// and a list of cleanup functions called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, starts the goroutines for the configured
// mode, and blocks until the context is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting engine",
		slog.String("mode", a.cfg.Mode),
		slog.Int("venues", len(a.cfg.Venues)),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	a.logger.InfoContext(ctx, "catalog built", slog.Int("paths", deps.Paths.Len()))

	switch strings.ToLower(a.cfg.Mode) {
	case "scan", "trade":
		return a.runEngine(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// runEngine supervises the venue feeds, the scheduler, and (in trade mode
// with archival enabled) the S3 archive sweeper. Scan and trade mode run
// the same loop; the scheduler decides whether admitted opportunities are
// executed or only published.
func (a *App) runEngine(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, f := range deps.Feeds {
		f := f
		g.Go(func() error { return f.Run(ctx) })
	}
	g.Go(func() error { return deps.Sched.Run(ctx) })

	if deps.Archiver != nil {
		g.Go(func() error { return deps.Archiver.Run(ctx, a.cfg.S3.SweepEvery.Duration) })
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close tears down all resources in reverse registration order. Safe to
// call multiple times.
func (a *App) Close() {
	a.logger.Info("shutting down engine")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
