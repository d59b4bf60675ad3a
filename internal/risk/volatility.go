// Package risk gates opportunities behind depth, volatility, threshold, and
// capital checks before any capital is committed.
package risk

import (
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantgrid/arbengine/internal/domain"
)

// VolTracker keeps a rolling window of recent mid-prices per asset and
// reports short-window volatility as the relative standard deviation
// (stddev / mean) of those prices. Elevated volatility is surfaced to the
// scheduler as a slowdown factor; it never blocks a single admit call.
type VolTracker struct {
	window   int
	maxAge   time.Duration
	elevated float64 // relative stddev above which volatility is elevated

	mu     sync.RWMutex
	series map[domain.Asset][]volSample
}

type volSample struct {
	mid float64
	at  time.Time
}

// NewVolTracker creates a tracker keeping up to window samples per asset,
// discarding samples older than maxAge. elevatedAbove is the relative
// stddev that marks an asset as volatile.
func NewVolTracker(window int, maxAge time.Duration, elevatedAbove float64) *VolTracker {
	return &VolTracker{
		window:   window,
		maxAge:   maxAge,
		elevated: elevatedAbove,
		series:   make(map[domain.Asset][]volSample),
	}
}

// Observe records a mid-price sample for the asset.
func (t *VolTracker) Observe(asset domain.Asset, mid decimal.Decimal, at time.Time) {
	if mid.IsZero() {
		return
	}
	m, _ := mid.Float64()

	t.mu.Lock()
	defer t.mu.Unlock()
	s := append(t.series[asset], volSample{mid: m, at: at})
	s = trim(s, at.Add(-t.maxAge))
	if len(s) > t.window {
		s = s[len(s)-t.window:]
	}
	t.series[asset] = s
}

// RelStddev returns the relative standard deviation of the asset's recent
// mid-prices, or zero with fewer than two samples.
func (t *VolTracker) RelStddev(asset domain.Asset) float64 {
	t.mu.RLock()
	s := t.series[asset]
	t.mu.RUnlock()
	if len(s) < 2 {
		return 0
	}

	var sum float64
	for _, v := range s {
		sum += v.mid
	}
	mean := sum / float64(len(s))
	if mean == 0 {
		return 0
	}

	var sq float64
	for _, v := range s {
		d := v.mid - mean
		sq += d * d
	}
	return math.Sqrt(sq/float64(len(s))) / mean
}

// Elevated reports whether the asset's volatility exceeds the configured
// band.
func (t *VolTracker) Elevated(asset domain.Asset) bool {
	return t.RelStddev(asset) > t.elevated
}

// SlowdownFactor returns the scan-cadence multiplier for paths touching the
// asset: 2 when volatility is elevated, otherwise 1.
func (t *VolTracker) SlowdownFactor(asset domain.Asset) int {
	if t.Elevated(asset) {
		return 2
	}
	return 1
}

// Score maps the asset's volatility onto [0, 1] relative to the elevated
// band edge, for use in the dynamic threshold.
func (t *VolTracker) Score(asset domain.Asset) float64 {
	if t.elevated <= 0 {
		return 0
	}
	s := t.RelStddev(asset) / t.elevated
	if s > 1 {
		return 1
	}
	return s
}

func trim(s []volSample, cutoff time.Time) []volSample {
	i := 0
	for i < len(s) && s[i].at.Before(cutoff) {
		i++
	}
	return s[i:]
}
