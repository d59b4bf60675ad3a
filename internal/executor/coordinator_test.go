package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantgrid/arbengine/internal/book"
	"github.com/quantgrid/arbengine/internal/domain"
)

type placeResult struct {
	fills  []domain.Fill
	silent bool // deliver nothing and let the timeout fire
	err    error
}

type fakePlacer struct {
	mu     sync.Mutex
	reqs   []domain.OrderRequest
	script []placeResult
}

func (f *fakePlacer) Place(_ context.Context, req domain.OrderRequest) (string, <-chan domain.Fill, error) {
	f.mu.Lock()
	i := len(f.reqs)
	f.reqs = append(f.reqs, req)
	var r placeResult
	if i < len(f.script) {
		r = f.script[i]
	}
	f.mu.Unlock()

	if r.err != nil {
		return "", nil, r.err
	}
	ch := make(chan domain.Fill, len(r.fills)+1)
	orderID := fmt.Sprintf("order-%d", i+1)
	if !r.silent {
		for _, fl := range r.fills {
			fl.OrderID = orderID
			ch <- fl
		}
		close(ch)
	}
	return orderID, ch, nil
}

func (f *fakePlacer) requests() []domain.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.OrderRequest(nil), f.reqs...)
}

func finalFill(qty, price string) domain.Fill {
	return domain.Fill{
		Quantity: decimal.RequireFromString(qty),
		Price:    decimal.RequireFromString(price),
		Final:    true,
		At:       time.Now(),
	}
}

type fakeBus struct {
	mu         sync.Mutex
	executions []domain.ExecutionResult
}

func (b *fakeBus) PublishOpportunity(context.Context, domain.Opportunity) error { return nil }
func (b *fakeBus) PublishExecution(_ context.Context, res domain.ExecutionResult) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.executions = append(b.executions, res)
	return nil
}

type fakeStore struct {
	mu      sync.Mutex
	created []domain.ExecutionResult
}

func (s *fakeStore) Create(_ context.Context, res domain.ExecutionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, res)
	return nil
}
func (s *fakeStore) ListRecent(context.Context, int) ([]domain.ExecutionResult, error) {
	return nil, nil
}
func (s *fakeStore) ListBefore(context.Context, time.Time, int) ([]domain.ExecutionResult, error) {
	return nil, nil
}
func (s *fakeStore) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }
func (s *fakeStore) SumRealized(context.Context, time.Time) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

type fakeAlerter struct {
	mu     sync.Mutex
	events []string
}

func (a *fakeAlerter) Notify(_ context.Context, event, _, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

type fakeListings map[domain.Venue][]domain.Pair

func (f fakeListings) Listed(venue domain.Venue, pair domain.Pair) bool {
	for _, p := range f[venue] {
		if p == pair {
			return true
		}
	}
	return false
}

func testListings() fakeListings {
	pair := domain.Pair{Base: "BTC", Quote: "USDT"}
	return fakeListings{"kraken": {pair}, "coinbase": {pair}}
}

func executionPath() domain.Path {
	pair := domain.Pair{Base: "BTC", Quote: "USDT"}
	return domain.Path{
		ID: "x2:kraken>coinbase:BTC/USDT", Kind: domain.CrossVenue, StartAsset: "USDT",
		Legs: []domain.Leg{
			{Venue: "kraken", Pair: pair, Action: domain.Buy},
			{Venue: "coinbase", Pair: pair, Action: domain.Sell},
		},
	}
}

func newTestCoordinator(placer *fakePlacer, books *book.Cache, bus *fakeBus, store *fakeStore, alerter *fakeAlerter) *Coordinator {
	return NewCoordinator(
		CoordinatorConfig{FillTimeout: 20 * time.Millisecond},
		NewLockTable(), placer, books, testListings(), bus, store, alerter,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
}

func TestExecuteCompletesPathInOrder(t *testing.T) {
	// Buy 1000 USDT into 10 BTC, sell the 10 BTC for 1010 USDT.
	placer := &fakePlacer{script: []placeResult{
		{fills: []domain.Fill{finalFill("10", "100")}},
		{fills: []domain.Fill{finalFill("1010", "101")}},
	}}
	bus := &fakeBus{}
	store := &fakeStore{}
	coord := newTestCoordinator(placer, nil, bus, store, &fakeAlerter{})

	res, err := coord.Execute(context.Background(),
		domain.Opportunity{ID: "opp-1", Path: executionPath()}, decimal.NewFromInt(1000))
	if err != nil {
		t.Fatalf("Execute() = %v", err)
	}

	if res.State != domain.Completed {
		t.Fatalf("state = %s, want completed", res.State)
	}
	if !res.RealizedProfit.Equal(decimal.NewFromInt(10)) {
		t.Errorf("realized = %s, want 10", res.RealizedProfit)
	}

	reqs := placer.requests()
	if len(reqs) != 2 {
		t.Fatalf("placed %d orders, want 2", len(reqs))
	}
	if reqs[0].Venue != "kraken" || reqs[0].Action != domain.Buy {
		t.Errorf("first order = %s %s, want kraken buy", reqs[0].Venue, reqs[0].Action)
	}
	if reqs[1].Venue != "coinbase" || reqs[1].Action != domain.Sell {
		t.Errorf("second order = %s %s, want coinbase sell", reqs[1].Venue, reqs[1].Action)
	}
	// Leg 2's input is exactly leg 1's confirmed output.
	if !reqs[1].Quantity.Equal(decimal.NewFromInt(10)) {
		t.Errorf("second order quantity = %s, want leg 1's 10", reqs[1].Quantity)
	}

	if len(store.created) != 1 || len(bus.executions) != 1 {
		t.Errorf("persisted %d / published %d, want 1 / 1", len(store.created), len(bus.executions))
	}
	if got := coord.LockedResources(); len(got) != 0 {
		t.Errorf("locks leaked after completion: %v", got)
	}
}

func TestExecuteFirstLegTimeoutRollsBack(t *testing.T) {
	placer := &fakePlacer{script: []placeResult{{silent: true}}}
	coord := newTestCoordinator(placer, nil, &fakeBus{}, &fakeStore{}, &fakeAlerter{})

	res, err := coord.Execute(context.Background(),
		domain.Opportunity{ID: "opp-1", Path: executionPath()}, decimal.NewFromInt(1000))
	if err != nil {
		t.Fatalf("Execute() = %v", err)
	}

	if res.State != domain.RolledBack {
		t.Fatalf("state = %s, want rolled_back", res.State)
	}
	if !res.RealizedProfit.IsZero() {
		t.Errorf("realized = %s, want 0 (nothing converted)", res.RealizedProfit)
	}
	if len(res.Remediations) != 0 {
		t.Error("rollback must not remediate")
	}
	if got := len(placer.requests()); got != 1 {
		t.Errorf("placed %d orders, want only the failed first leg", got)
	}
	if res.Legs[0].Status != domain.LegTimedOut {
		t.Errorf("leg 1 status = %s, want timed_out", res.Legs[0].Status)
	}
}

func TestExecuteSecondLegTimeoutRemediatesAtLoss(t *testing.T) {
	placer := &fakePlacer{script: []placeResult{
		{fills: []domain.Fill{finalFill("10", "100")}}, // leg 1 fills
		{silent: true}, // leg 2 times out
		{fills: []domain.Fill{finalFill("950", "95")}}, // remediation liquidates
	}}
	alerter := &fakeAlerter{}
	coord := newTestCoordinator(placer, nil, &fakeBus{}, &fakeStore{}, alerter)

	res, err := coord.Execute(context.Background(),
		domain.Opportunity{ID: "opp-1", Path: executionPath()}, decimal.NewFromInt(1000))
	if err != nil {
		t.Fatalf("Execute() = %v", err)
	}

	if res.State != domain.Completed {
		t.Fatalf("state = %s, want completed after remediation", res.State)
	}
	if !res.RealizedProfit.Equal(decimal.NewFromInt(-50)) {
		t.Errorf("realized = %s, want -50", res.RealizedProfit)
	}
	if len(res.Remediations) != 1 || res.Remediations[0].Status != domain.LegFilled {
		t.Fatal("remediation outcome missing or not filled")
	}

	reqs := placer.requests()
	if len(reqs) != 3 {
		t.Fatalf("placed %d orders, want 3", len(reqs))
	}
	// The held BTC on the timed-out leg's venue is sold back to USDT.
	rem := reqs[2]
	if rem.Venue != "coinbase" || rem.Action != domain.Sell || !rem.Quantity.Equal(decimal.NewFromInt(10)) {
		t.Errorf("remediation order = %s %s %s, want coinbase sell 10", rem.Venue, rem.Action, rem.Quantity)
	}
	if len(alerter.events) != 0 {
		t.Errorf("unexpected alerts on successful remediation: %v", alerter.events)
	}
}

func TestExecuteRemediationFailureStrands(t *testing.T) {
	placer := &fakePlacer{script: []placeResult{
		{fills: []domain.Fill{finalFill("10", "100")}},
		{silent: true},
		{silent: true}, // remediation times out too
	}}
	alerter := &fakeAlerter{}
	coord := newTestCoordinator(placer, nil, &fakeBus{}, &fakeStore{}, alerter)

	res, err := coord.Execute(context.Background(),
		domain.Opportunity{ID: "opp-1", Path: executionPath()}, decimal.NewFromInt(1000))
	if err != nil {
		t.Fatalf("Execute() = %v", err)
	}

	if res.State != domain.PartiallyStranded {
		t.Fatalf("state = %s, want partially_stranded", res.State)
	}
	if !res.RealizedProfit.Equal(decimal.NewFromInt(-1000)) {
		t.Errorf("realized = %s, want the committed -1000", res.RealizedProfit)
	}
	if len(alerter.events) != 1 || alerter.events[0] != "remediation_failed" {
		t.Errorf("alerts = %v, want one remediation_failed", alerter.events)
	}
}

func TestExecuteRejectsWhenResourceHeld(t *testing.T) {
	placer := &fakePlacer{}
	locks := NewLockTable()
	coord := NewCoordinator(
		CoordinatorConfig{FillTimeout: 20 * time.Millisecond},
		locks, placer, nil, testListings(), nil, nil, nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)

	release, err := locks.TryAcquire([]domain.ResourceKey{{Venue: "kraken", Asset: "BTC"}})
	if err != nil {
		t.Fatalf("TryAcquire() = %v", err)
	}
	defer release()

	_, err = coord.Execute(context.Background(),
		domain.Opportunity{ID: "opp-1", Path: executionPath()}, decimal.NewFromInt(1000))
	if !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("Execute() = %v, want ErrLockHeld", err)
	}
	if got := len(placer.requests()); got != 0 {
		t.Errorf("placed %d orders despite the lock conflict", got)
	}
}

// A terminal fill well under the expected output fails the tolerance check
// and triggers remediation of the partial position. The fill consumed 900 of
// the 1000 USDT committed, so the unspent 100 count toward the realized
// figure alongside the liquidation proceeds.
func TestExecuteShortFillIsRejectedAndRemediated(t *testing.T) {
	books := book.NewCache(time.Minute)
	pair := domain.Pair{Base: "BTC", Quote: "USDT"}
	books.Update(domain.BookSnapshot{
		Venue: "kraken", Pair: pair,
		BestAsk:    decimal.NewFromInt(100),
		BestBid:    decimal.RequireFromString("99.9"),
		ObservedAt: time.Now(),
	})

	// Leg 1 delivers 9 BTC against an expected 10. The remediation sale is
	// also tolerance-checked against the book (9 * 99.9 = 899.1), so its
	// scripted fill clears that bound.
	placer := &fakePlacer{script: []placeResult{
		{fills: []domain.Fill{finalFill("9", "100")}},
		{fills: []domain.Fill{finalFill("895", "99.5")}},
	}}
	coord := newTestCoordinator(placer, books, &fakeBus{}, &fakeStore{}, &fakeAlerter{})

	res, err := coord.Execute(context.Background(),
		domain.Opportunity{ID: "opp-1", Path: executionPath()}, decimal.NewFromInt(1000))
	if err != nil {
		t.Fatalf("Execute() = %v", err)
	}

	if res.Legs[0].Status != domain.LegRejected {
		t.Fatalf("leg 1 status = %s, want rejected under tolerance", res.Legs[0].Status)
	}
	if res.State != domain.Completed {
		t.Fatalf("state = %s, want completed after remediation", res.State)
	}
	// 895 recovered + 100 never spent - 1000 committed.
	if !res.RealizedProfit.Equal(decimal.NewFromInt(-5)) {
		t.Errorf("realized = %s, want -5", res.RealizedProfit)
	}

	reqs := placer.requests()
	if len(reqs) != 2 {
		t.Fatalf("placed %d orders, want 2", len(reqs))
	}
	rem := reqs[1]
	if rem.Venue != "kraken" || rem.Action != domain.Sell || !rem.Quantity.Equal(decimal.NewFromInt(9)) {
		t.Errorf("remediation order = %s %s %s, want kraken sell 9", rem.Venue, rem.Action, rem.Quantity)
	}
}

// A terminal partial fill on the second leg leaves balances in two places:
// the partial sale proceeds (already in the start asset) and the unsold
// base remainder, which must be liquidated rather than abandoned.
func TestExecutePartialSecondLegRemediatesRemainder(t *testing.T) {
	books := book.NewCache(time.Minute)
	pair := domain.Pair{Base: "BTC", Quote: "USDT"}
	now := time.Now()
	books.Update(domain.BookSnapshot{
		Venue: "kraken", Pair: pair,
		BestAsk:    decimal.NewFromInt(100),
		BestBid:    decimal.RequireFromString("99.9"),
		ObservedAt: now,
	})
	books.Update(domain.BookSnapshot{
		Venue: "coinbase", Pair: pair,
		BestBid:    decimal.NewFromInt(99),
		BestAsk:    decimal.RequireFromString("99.2"),
		ObservedAt: now,
	})

	// Leg 2 expects 10 * 99 = 990 USDT but terminally fills only 495,
	// consuming 5 of the 10 BTC. The other 5 BTC must come home.
	placer := &fakePlacer{script: []placeResult{
		{fills: []domain.Fill{finalFill("10", "100")}},
		{fills: []domain.Fill{finalFill("495", "99")}},
		{fills: []domain.Fill{finalFill("493", "98.6")}},
	}}
	alerter := &fakeAlerter{}
	coord := newTestCoordinator(placer, books, &fakeBus{}, &fakeStore{}, alerter)

	res, err := coord.Execute(context.Background(),
		domain.Opportunity{ID: "opp-1", Path: executionPath()}, decimal.NewFromInt(1000))
	if err != nil {
		t.Fatalf("Execute() = %v", err)
	}

	if res.Legs[1].Status != domain.LegRejected {
		t.Fatalf("leg 2 status = %s, want rejected under tolerance", res.Legs[1].Status)
	}
	if res.State != domain.Completed {
		t.Fatalf("state = %s, want completed after remediation", res.State)
	}
	// 495 partial proceeds + 493 recovered - 1000 committed.
	if !res.RealizedProfit.Equal(decimal.NewFromInt(-12)) {
		t.Errorf("realized = %s, want -12", res.RealizedProfit)
	}
	if len(res.Remediations) != 1 || res.Remediations[0].Status != domain.LegFilled {
		t.Fatal("remediation of the unsold remainder missing or not filled")
	}

	reqs := placer.requests()
	if len(reqs) != 3 {
		t.Fatalf("placed %d orders, want 3", len(reqs))
	}
	rem := reqs[2]
	if rem.Venue != "coinbase" || rem.Action != domain.Sell || !rem.Quantity.Equal(decimal.NewFromInt(5)) {
		t.Errorf("remediation order = %s %s %s, want coinbase sell 5", rem.Venue, rem.Action, rem.Quantity)
	}
	if len(alerter.events) != 0 {
		t.Errorf("unexpected alerts on successful remediation: %v", alerter.events)
	}
}
