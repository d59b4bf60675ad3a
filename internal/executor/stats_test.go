package executor

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/quantgrid/arbengine/internal/domain"
)

func result(state domain.TerminalState, profit string) domain.ExecutionResult {
	return domain.ExecutionResult{
		State:          state,
		RealizedProfit: decimal.RequireFromString(profit),
	}
}

func TestStatsRecordsCompletedTrades(t *testing.T) {
	s := NewStats()
	s.Record(result(domain.Completed, "10"))
	s.Record(result(domain.Completed, "-50"))
	s.Record(result(domain.Completed, "25"))

	snap := s.Snapshot()
	if snap.Trades != 3 {
		t.Fatalf("Trades = %d, want 3", snap.Trades)
	}
	if !snap.TotalProfit.Equal(decimal.NewFromInt(-15)) {
		t.Errorf("TotalProfit = %s, want -15", snap.TotalProfit)
	}
	if !snap.AvgProfit.Equal(decimal.NewFromInt(-5)) {
		t.Errorf("AvgProfit = %s, want -5", snap.AvgProfit)
	}
	if snap.WinRate != float64(2)/float64(3) {
		t.Errorf("WinRate = %f, want 2/3", snap.WinRate)
	}
	if !snap.BestTrade.Equal(decimal.NewFromInt(25)) {
		t.Errorf("BestTrade = %s, want 25", snap.BestTrade)
	}
	if !snap.WorstTrade.Equal(decimal.NewFromInt(-50)) {
		t.Errorf("WorstTrade = %s, want -50", snap.WorstTrade)
	}
}

func TestStatsSkipsRolledBack(t *testing.T) {
	s := NewStats()
	s.Record(result(domain.RolledBack, "0"))

	if snap := s.Snapshot(); snap.Trades != 0 {
		t.Errorf("Trades = %d, want 0 after a rollback", snap.Trades)
	}
}

func TestStatsCountsStrandedLosses(t *testing.T) {
	s := NewStats()
	s.Record(result(domain.PartiallyStranded, "-1000"))

	snap := s.Snapshot()
	if snap.Trades != 1 {
		t.Fatalf("Trades = %d, want 1", snap.Trades)
	}
	if snap.WinRate != 0 {
		t.Errorf("WinRate = %f, want 0", snap.WinRate)
	}
	if !snap.WorstTrade.Equal(decimal.NewFromInt(-1000)) {
		t.Errorf("WorstTrade = %s, want -1000", snap.WorstTrade)
	}
}

func TestStatsEmptySnapshot(t *testing.T) {
	snap := NewStats().Snapshot()
	if snap.Trades != 0 || snap.WinRate != 0 {
		t.Errorf("empty snapshot = %+v, want zeroes", snap)
	}
	if !snap.AvgProfit.IsZero() {
		t.Errorf("AvgProfit = %s, want 0", snap.AvgProfit)
	}
}
