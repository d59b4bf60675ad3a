// Package venue contains venue-facing execution adapters. Paper is the
// built-in adapter: it fills orders against the live snapshot cache and
// tracks balances in memory, so the full pipeline runs without venue keys.
package venue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantgrid/arbengine/internal/book"
	"github.com/quantgrid/arbengine/internal/domain"
)

// Paper simulates a venue. Orders fill immediately at the current best
// price; balances start from the seeded table and move with each fill.
type Paper struct {
	books  *book.Cache
	logger *slog.Logger
	seq    atomic.Int64

	mu       sync.Mutex
	balances map[domain.ResourceKey]decimal.Decimal
}

// NewPaper creates a Paper adapter with the given starting balances.
func NewPaper(books *book.Cache, balances map[domain.ResourceKey]decimal.Decimal, logger *slog.Logger) *Paper {
	seeded := make(map[domain.ResourceKey]decimal.Decimal, len(balances))
	for k, v := range balances {
		seeded[k] = v
	}
	return &Paper{
		books:    books,
		logger:   logger.With(slog.String("component", "paper_venue")),
		balances: seeded,
	}
}

// Place fills the order against the current book top and reports a single
// terminal fill. Orders against unreadable books or beyond the available
// balance are rejected.
func (p *Paper) Place(ctx context.Context, req domain.OrderRequest) (string, <-chan domain.Fill, error) {
	orderID := fmt.Sprintf("paper-%d", p.seq.Add(1))
	fills := make(chan domain.Fill, 1)

	fill := p.fill(orderID, req)
	fills <- fill
	close(fills)

	if fill.Rejected {
		p.logger.Debug("paper order rejected",
			slog.String("order_id", orderID),
			slog.String("venue", string(req.Venue)),
			slog.String("pair", req.Pair.String()),
		)
	}
	return orderID, fills, nil
}

func (p *Paper) fill(orderID string, req domain.OrderRequest) domain.Fill {
	reject := domain.Fill{OrderID: orderID, Final: true, Rejected: true, At: time.Now()}

	snap, err := p.books.Read(domain.BookKey{Venue: req.Venue, Pair: req.Pair})
	if err != nil {
		return reject
	}

	var price, out decimal.Decimal
	if req.Action == domain.Buy {
		price = snap.BestAsk
		if price.IsZero() {
			return reject
		}
		out = req.Quantity.Div(price)
	} else {
		price = snap.BestBid
		if price.IsZero() {
			return reject
		}
		out = req.Quantity.Mul(price)
	}
	if !req.LimitPrice.IsZero() {
		if req.Action == domain.Buy && price.GreaterThan(req.LimitPrice) {
			return reject
		}
		if req.Action == domain.Sell && price.LessThan(req.LimitPrice) {
			return reject
		}
	}

	consumed := domain.ResourceKey{Venue: req.Venue, Asset: consumedAsset(req)}
	produced := domain.ResourceKey{Venue: req.Venue, Asset: producedAsset(req)}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.balances[consumed].LessThan(req.Quantity) {
		return reject
	}
	p.balances[consumed] = p.balances[consumed].Sub(req.Quantity)
	p.balances[produced] = p.balances[produced].Add(out)

	return domain.Fill{
		OrderID:  orderID,
		Quantity: out,
		Price:    price,
		Final:    true,
		At:       time.Now(),
	}
}

// Available returns the current simulated balance.
func (p *Paper) Available(_ context.Context, venue domain.Venue, asset domain.Asset) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balances[domain.ResourceKey{Venue: venue, Asset: asset}], nil
}

func consumedAsset(req domain.OrderRequest) domain.Asset {
	if req.Action == domain.Buy {
		return req.Pair.Quote
	}
	return req.Pair.Base
}

func producedAsset(req domain.OrderRequest) domain.Asset {
	if req.Action == domain.Buy {
		return req.Pair.Base
	}
	return req.Pair.Quote
}

// Compile-time interface checks.
var (
	_ domain.OrderPlacer   = (*Paper)(nil)
	_ domain.BalanceSource = (*Paper)(nil)
)
