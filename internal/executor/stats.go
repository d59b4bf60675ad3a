package executor

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/quantgrid/arbengine/internal/domain"
)

// maxStatTrades bounds the in-memory trade history.
const maxStatTrades = 1000

// Stats keeps rolling realized-performance figures over recent executions.
type Stats struct {
	mu      sync.Mutex
	profits []decimal.Decimal
	wins    int
	total   decimal.Decimal
	best    decimal.Decimal
	worst   decimal.Decimal
}

// StatsSnapshot is a point-in-time copy of the rolling figures.
type StatsSnapshot struct {
	Trades      int
	WinRate     float64
	TotalProfit decimal.Decimal
	AvgProfit   decimal.Decimal
	BestTrade   decimal.Decimal
	WorstTrade  decimal.Decimal
}

// NewStats creates an empty Stats.
func NewStats() *Stats {
	return &Stats{}
}

// Record folds one execution result into the rolling window. Rolled-back
// executions converted nothing and are not counted as trades.
func (s *Stats) Record(res domain.ExecutionResult) {
	if res.State == domain.RolledBack {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p := res.RealizedProfit
	s.profits = append(s.profits, p)
	if len(s.profits) > maxStatTrades {
		dropped := s.profits[0]
		s.profits = s.profits[1:]
		s.total = s.total.Sub(dropped)
		if dropped.IsPositive() {
			s.wins--
		}
	}
	s.total = s.total.Add(p)
	if p.IsPositive() {
		s.wins++
	}
	if len(s.profits) == 1 || p.GreaterThan(s.best) {
		s.best = p
	}
	if len(s.profits) == 1 || p.LessThan(s.worst) {
		s.worst = p
	}
}

// Snapshot returns current figures.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := StatsSnapshot{
		Trades:      len(s.profits),
		TotalProfit: s.total,
		BestTrade:   s.best,
		WorstTrade:  s.worst,
	}
	if n := len(s.profits); n > 0 {
		snap.WinRate = float64(s.wins) / float64(n)
		snap.AvgProfit = s.total.Div(decimal.NewFromInt(int64(n)))
	}
	return snap
}
