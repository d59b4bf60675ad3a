package profit

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantgrid/arbengine/internal/book"
	"github.com/quantgrid/arbengine/internal/domain"
)

func crossPath(pair domain.Pair) domain.Path {
	return domain.Path{
		ID: "x2:kraken>coinbase:" + pair.String(), Kind: domain.CrossVenue,
		StartAsset: pair.Quote,
		Legs: []domain.Leg{
			{Venue: "kraken", Pair: pair, Action: domain.Buy},
			{Venue: "coinbase", Pair: pair, Action: domain.Sell},
		},
	}
}

func seedBooks(t *testing.T, c *book.Cache, pair domain.Pair, ask, bid string, at time.Time) {
	t.Helper()
	if !c.Update(domain.BookSnapshot{
		Venue: "kraken", Pair: pair,
		BestAsk:    decimal.RequireFromString(ask),
		BestBid:    decimal.RequireFromString(ask), // unused by the buy leg
		ObservedAt: at,
	}) {
		t.Fatal("seed kraken failed")
	}
	if !c.Update(domain.BookSnapshot{
		Venue: "coinbase", Pair: pair,
		BestBid:    decimal.RequireFromString(bid),
		BestAsk:    decimal.RequireFromString(bid),
		ObservedAt: at.Add(time.Millisecond),
	}) {
		t.Fatal("seed coinbase failed")
	}
}

func feeSchedule(taker string) domain.FeeSchedule {
	return domain.NewFeeSchedule(nil, decimal.RequireFromString(taker))
}

// Tight BTC spread: gross barely positive, 0.1% taker per leg eats it.
func TestEvaluateThinSpreadIsUnprofitable(t *testing.T) {
	cache := book.NewCache(time.Minute)
	pair := domain.Pair{Base: "BTC", Quote: "USDT"}
	now := time.Now()
	seedBooks(t, cache, pair, "65001.20", "65004.50", now)

	engine := NewEngine(cache, decimal.Zero)
	opp, err := engine.Evaluate(crossPath(pair), feeSchedule("0.001"), now)
	if err != nil {
		t.Fatalf("Evaluate() = %v", err)
	}

	if !opp.GrossProfitPct.IsPositive() {
		t.Errorf("gross = %s, want positive", opp.GrossProfitPct)
	}
	if !opp.NetProfitPct.IsNegative() {
		t.Errorf("net = %s, want negative after fees", opp.NetProfitPct)
	}
	// net = (1/65001.20)*0.999*65004.50*0.999 - 1, in the engine's own
	// operation order so the division rounds identically.
	one := decimal.NewFromInt(1)
	wantNet := one.Div(decimal.RequireFromString("65001.20")).
		Mul(decimal.RequireFromString("0.999")).
		Mul(decimal.RequireFromString("65004.50")).
		Mul(decimal.RequireFromString("0.999")).
		Sub(one)
	if !opp.NetProfitPct.Equal(wantNet) {
		t.Errorf("net = %s, want %s", opp.NetProfitPct, wantNet)
	}
}

// Wide SOL spread: net clears the default 0.5% threshold comfortably.
func TestEvaluateWideSpreadIsProfitable(t *testing.T) {
	cache := book.NewCache(time.Minute)
	pair := domain.Pair{Base: "SOL", Quote: "USDT"}
	now := time.Now()
	seedBooks(t, cache, pair, "170.12", "171.50", now)

	engine := NewEngine(cache, decimal.Zero)
	opp, err := engine.Evaluate(crossPath(pair), feeSchedule("0.001"), now)
	if err != nil {
		t.Fatalf("Evaluate() = %v", err)
	}

	threshold := decimal.RequireFromString("0.005")
	if !opp.NetProfitPct.GreaterThan(threshold) {
		t.Errorf("net = %s, want above %s", opp.NetProfitPct, threshold)
	}
	// gross = (1/170.12)*171.50 - 1, in the engine's own operation order.
	one := decimal.NewFromInt(1)
	wantGross := one.Div(decimal.RequireFromString("170.12")).
		Mul(decimal.RequireFromString("171.50")).
		Sub(one)
	if !opp.GrossProfitPct.Equal(wantGross) {
		t.Errorf("gross = %s, want %s", opp.GrossProfitPct, wantGross)
	}
	if !opp.NetProfitPct.LessThan(opp.GrossProfitPct) {
		t.Error("net must be below gross")
	}
}

func TestEvaluateSlippageReducesNet(t *testing.T) {
	cache := book.NewCache(time.Minute)
	pair := domain.Pair{Base: "SOL", Quote: "USDT"}
	now := time.Now()
	seedBooks(t, cache, pair, "170.12", "171.50", now)

	noSlip := NewEngine(cache, decimal.Zero)
	withSlip := NewEngine(cache, decimal.RequireFromString("0.0005"))

	a, err := noSlip.Evaluate(crossPath(pair), feeSchedule("0.001"), now)
	if err != nil {
		t.Fatalf("Evaluate() = %v", err)
	}
	b, err := withSlip.Evaluate(crossPath(pair), feeSchedule("0.001"), now)
	if err != nil {
		t.Fatalf("Evaluate() = %v", err)
	}
	if !b.NetProfitPct.LessThan(a.NetProfitPct) {
		t.Errorf("slippage did not reduce net: %s vs %s", b.NetProfitPct, a.NetProfitPct)
	}
	if !b.GrossProfitPct.Equal(a.GrossProfitPct) {
		t.Error("slippage must not change the gross figure")
	}
}

func TestEvaluateStaleSnapshotIsUnevaluable(t *testing.T) {
	cache := book.NewCache(100 * time.Millisecond)
	pair := domain.Pair{Base: "BTC", Quote: "USDT"}
	now := time.Now()
	seedBooks(t, cache, pair, "65001.20", "65004.50", now)

	engine := NewEngine(cache, decimal.Zero)
	_, err := engine.Evaluate(crossPath(pair), feeSchedule("0.001"), now.Add(time.Second))
	if !errors.Is(err, domain.ErrBookStale) {
		t.Fatalf("Evaluate() = %v, want ErrBookStale", err)
	}
}

func TestEvaluateMissingSnapshotIsUnevaluable(t *testing.T) {
	cache := book.NewCache(time.Minute)
	engine := NewEngine(cache, decimal.Zero)
	_, err := engine.Evaluate(crossPath(domain.Pair{Base: "BTC", Quote: "USDT"}), feeSchedule("0.001"), time.Now())
	if !errors.Is(err, domain.ErrBookMissing) {
		t.Fatalf("Evaluate() = %v, want ErrBookMissing", err)
	}
}

// Re-evaluating unchanged snapshots must yield bit-identical opportunities.
func TestEvaluateIsIdempotent(t *testing.T) {
	cache := book.NewCache(time.Minute)
	pair := domain.Pair{Base: "SOL", Quote: "USDT"}
	now := time.Now()
	seedBooks(t, cache, pair, "170.12", "171.50", now)

	engine := NewEngine(cache, decimal.RequireFromString("0.0005"))
	path := crossPath(pair)

	first, err := engine.Evaluate(path, feeSchedule("0.001"), now)
	if err != nil {
		t.Fatalf("Evaluate() = %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := engine.Evaluate(path, feeSchedule("0.001"), now)
		if err != nil {
			t.Fatalf("Evaluate() = %v", err)
		}
		if again.ID != first.ID {
			t.Fatalf("ID drifted: %s vs %s", again.ID, first.ID)
		}
		if again.NetProfitPct.String() != first.NetProfitPct.String() {
			t.Fatalf("net drifted: %s vs %s", again.NetProfitPct, first.NetProfitPct)
		}
		if again.GrossProfitPct.String() != first.GrossProfitPct.String() {
			t.Fatalf("gross drifted: %s vs %s", again.GrossProfitPct, first.GrossProfitPct)
		}
		if !again.DetectedAt.Equal(first.DetectedAt) {
			t.Fatalf("DetectedAt drifted: %s vs %s", again.DetectedAt, first.DetectedAt)
		}
	}
}
