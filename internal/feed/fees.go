package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantgrid/arbengine/internal/domain"
)

// RateFetcher fetches current fee rates from venues. It is a slow-cadence
// collaborator; the engine never calls it per scan.
type RateFetcher interface {
	FetchRates(ctx context.Context) ([]domain.FeeRate, error)
}

// StaticRates is a RateFetcher serving a fixed rate table, used when venues
// expose no fee endpoint or in scan mode.
type StaticRates []domain.FeeRate

// FetchRates returns the fixed table.
func (s StaticRates) FetchRates(_ context.Context) ([]domain.FeeRate, error) {
	return s, nil
}

// CachedFeeSource implements domain.FeeSource by refreshing rates from a
// RateFetcher at most once per interval. A refresh failure keeps serving
// the previous schedule; fees change rarely and an old exact rate beats no
// rate.
type CachedFeeSource struct {
	fetcher  RateFetcher
	every    time.Duration
	fallback decimal.Decimal
	logger   *slog.Logger

	mu        sync.Mutex
	sched     domain.FeeSchedule
	fetchedAt time.Time
}

// NewCachedFeeSource creates a source refreshing from fetcher every
// interval, with fallbackTaker for books the fetcher does not cover.
func NewCachedFeeSource(fetcher RateFetcher, every time.Duration, fallbackTaker decimal.Decimal, logger *slog.Logger) *CachedFeeSource {
	return &CachedFeeSource{
		fetcher:  fetcher,
		every:    every,
		fallback: fallbackTaker,
		logger:   logger.With(slog.String("component", "fee_source")),
		sched:    domain.NewFeeSchedule(nil, fallbackTaker),
	}
}

// Schedule returns the current schedule, refreshing it first when older
// than the cadence.
func (c *CachedFeeSource) Schedule(ctx context.Context) (domain.FeeSchedule, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if time.Since(c.fetchedAt) < c.every && !c.fetchedAt.IsZero() {
		return c.sched, nil
	}

	rates, err := c.fetcher.FetchRates(ctx)
	if err != nil {
		if c.fetchedAt.IsZero() {
			return domain.FeeSchedule{}, err
		}
		c.logger.Warn("fee refresh failed, serving cached schedule",
			slog.String("error", err.Error()),
		)
		return c.sched, nil
	}
	c.sched = domain.NewFeeSchedule(rates, c.fallback)
	c.fetchedAt = time.Now()
	return c.sched, nil
}
