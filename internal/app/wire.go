package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	s3blob "github.com/quantgrid/arbengine/internal/blob/s3"
	"github.com/quantgrid/arbengine/internal/book"
	redisbus "github.com/quantgrid/arbengine/internal/bus/redis"
	"github.com/quantgrid/arbengine/internal/catalog"
	"github.com/quantgrid/arbengine/internal/config"
	"github.com/quantgrid/arbengine/internal/domain"
	"github.com/quantgrid/arbengine/internal/executor"
	"github.com/quantgrid/arbengine/internal/feed"
	"github.com/quantgrid/arbengine/internal/notify"
	"github.com/quantgrid/arbengine/internal/profit"
	"github.com/quantgrid/arbengine/internal/risk"
	"github.com/quantgrid/arbengine/internal/scheduler"
	"github.com/quantgrid/arbengine/internal/store/postgres"
	"github.com/quantgrid/arbengine/internal/venue"
)

// Dependencies bundles everything the run modes need. It is constructed by
// Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Universe catalog.Universe
	Paths    *catalog.Catalog
	Books    *book.Cache
	Vol      *risk.VolTracker
	Fees     domain.FeeSource
	Gate     *risk.Gate
	Engine   *profit.Engine
	Coord    *executor.Coordinator
	Sched    *scheduler.Scheduler
	Feeds    []*feed.VenueWSFeed
	Bus      domain.EventBus
	Store    domain.ExecutionStore
	Archiver *s3blob.Archiver
	Notifier *notify.Notifier
}

// needsPostgres returns true for modes that persist execution results.
func needsPostgres(mode string) bool {
	return mode == "trade"
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Universe and path catalog ---
	universe, err := buildUniverse(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: universe: %w", err)
	}
	deps.Universe = universe

	paths, err := catalog.Build(universe)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: catalog: %w", err)
	}
	deps.Paths = paths

	// --- In-process engine state ---
	deps.Books = book.NewCache(cfg.Book.FreshFor.Duration)
	deps.Vol = risk.NewVolTracker(cfg.Risk.VolWindow, cfg.Risk.VolMaxAge.Duration, cfg.Risk.VolElevatedAbove)
	deps.Engine = profit.NewEngine(deps.Books, cfg.Profit.Slippage)
	deps.Fees = feed.NewCachedFeeSource(
		staticRates(cfg), cfg.Fees.RefreshEvery.Duration, cfg.Fees.FallbackTaker, logger)

	// --- Redis event bus ---
	redisClient, err := redisbus.New(ctx, redisbus.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })
	deps.Bus = redisbus.NewEventBus(redisClient, cfg.Redis.StreamMax)

	// --- PostgreSQL (only for modes that persist executions) ---
	if needsPostgres(cfg.Mode) {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			MaxConns: cfg.Postgres.MaxConns,
			MinConns: cfg.Postgres.MinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		deps.Store = postgres.NewExecutionStore(pgClient)
	}

	// --- S3 archive (requires the store) ---
	if cfg.S3.Enabled && deps.Store != nil {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Region:          cfg.S3.Region,
			Bucket:          cfg.S3.Bucket,
			AccessKeyID:     cfg.S3.AccessKey,
			SecretAccessKey: cfg.S3.SecretKey,
			Endpoint:        cfg.S3.Endpoint,
			UsePathStyle:    cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(
			deps.Store, s3blob.NewWriter(s3Client), cfg.S3.ArchiveAfter.Duration, logger)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, cfg.Notify.Throttle.Duration, logger)

	// --- Execution pipeline ---
	paper := venue.NewPaper(deps.Books, paperBalances(cfg), logger)
	deps.Gate = risk.NewGate(risk.GateConfig{
		DepthMultiple:   cfg.Risk.DepthMultiple,
		DepthLevels:     cfg.Risk.DepthLevels,
		ThresholdFloor:  cfg.Risk.ThresholdFloor,
		ThresholdCeil:   cfg.Risk.ThresholdCeil,
		MaxVWAPSlippage: cfg.Risk.MaxVWAPSlippage,
		MinTradeSize:    cfg.Risk.MinTradeSize,
		ImbalancePct:    cfg.Risk.ImbalancePct,
	}, deps.Books, deps.Vol, paper, logger)

	deps.Coord = executor.NewCoordinator(executor.CoordinatorConfig{
		FillTimeout:      cfg.Executor.FillTimeout.Duration,
		VenueFillTimeout: venueFillTimeouts(cfg),
		FillTolerance:    cfg.Executor.FillTolerance,
	}, executor.NewLockTable(), paper, deps.Books, universe, deps.Bus, deps.Store, deps.Notifier, logger)

	deps.Sched = scheduler.New(scheduler.Config{
		CrossVenueFloor: cfg.Scan.CrossVenueFloor.Duration,
		TriangularFloor: cfg.Scan.TriangularFloor.Duration,
		FallbackEvery:   cfg.Scan.FallbackEvery.Duration,
		RequestSize:     cfg.Scan.RequestSize,
		ExecuteTrades:   cfg.Mode == "trade",
	}, paths, deps.Engine, deps.Fees, deps.Gate, deps.Vol, deps.Coord, deps.Bus, logger)

	// --- Venue feeds ---
	feeder := feed.NewFeeder(deps.Books, deps.Vol, deps.Sched, logger)
	for _, vc := range cfg.Venues {
		f := feed.NewVenueWSFeed(domain.Venue(vc.Name), vc.WsURL, vc.Subscribe, feeder.HandleBook, logger)
		deps.Feeds = append(deps.Feeds, f)
		closers = append(closers, f.Close)
	}

	return deps, cleanup, nil
}

// buildUniverse converts the configured venue listings into the catalog's
// universe.
func buildUniverse(cfg *config.Config) (catalog.Universe, error) {
	listings := make(map[domain.Venue][]domain.Pair, len(cfg.Venues))
	for _, vc := range cfg.Venues {
		pairs := make([]domain.Pair, 0, len(vc.Pairs))
		for _, raw := range vc.Pairs {
			pair, err := feed.ParsePair(raw)
			if err != nil {
				return catalog.Universe{}, fmt.Errorf("venue %s: %w", vc.Name, err)
			}
			pairs = append(pairs, pair)
		}
		listings[domain.Venue(vc.Name)] = pairs
	}
	return catalog.Universe{Listings: listings}, nil
}

// staticRates expands each venue's configured taker fee over its listings.
func staticRates(cfg *config.Config) feed.StaticRates {
	var rates feed.StaticRates
	for _, vc := range cfg.Venues {
		if vc.TakerFee.IsZero() {
			continue
		}
		for _, raw := range vc.Pairs {
			pair, err := feed.ParsePair(raw)
			if err != nil {
				continue
			}
			rates = append(rates, domain.FeeRate{
				Venue: domain.Venue(vc.Name),
				Pair:  pair,
				Taker: vc.TakerFee,
			})
		}
	}
	return rates
}

func venueFillTimeouts(cfg *config.Config) map[domain.Venue]time.Duration {
	m := make(map[domain.Venue]time.Duration)
	for _, vc := range cfg.Venues {
		if vc.FillTimeout.Duration > 0 {
			m[domain.Venue(vc.Name)] = vc.FillTimeout.Duration
		}
	}
	return m
}

func paperBalances(cfg *config.Config) map[domain.ResourceKey]decimal.Decimal {
	m := make(map[domain.ResourceKey]decimal.Decimal)
	for venueName, assets := range cfg.Paper.Balances {
		for asset, amount := range assets {
			m[domain.ResourceKey{Venue: domain.Venue(venueName), Asset: domain.Asset(asset)}] = amount
		}
	}
	return m
}
