package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BookLevel is a single price+size entry in an order book.
type BookLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// BookSide distinguishes the two sides of an order book.
type BookSide string

const (
	BidSide BookSide = "bids"
	AskSide BookSide = "asks"
)

// BookSnapshot is the latest observed state of one venue's order book for a
// pair. Bids are sorted best (highest) first, asks best (lowest) first.
type BookSnapshot struct {
	Venue      Venue
	Pair       Pair
	Bids       []BookLevel
	Asks       []BookLevel
	BestBid    decimal.Decimal
	BestAsk    decimal.Decimal
	ObservedAt time.Time
}

// Mid returns the mid-price, or zero when either side is empty.
func (s BookSnapshot) Mid() decimal.Decimal {
	if s.BestBid.IsZero() || s.BestAsk.IsZero() {
		return decimal.Zero
	}
	return s.BestBid.Add(s.BestAsk).Div(two)
}

// Side returns the requested side's levels.
func (s BookSnapshot) Side(side BookSide) []BookLevel {
	if side == BidSide {
		return s.Bids
	}
	return s.Asks
}

// DepthWithinPct returns the cumulative size on the given side whose prices
// lie within pct (fractional, e.g. 0.01 for 1%) of the mid-price.
func (s BookSnapshot) DepthWithinPct(side BookSide, pct decimal.Decimal) decimal.Decimal {
	mid := s.Mid()
	if mid.IsZero() {
		return decimal.Zero
	}
	band := mid.Mul(pct)
	total := decimal.Zero
	for _, lvl := range s.Side(side) {
		if lvl.Price.Sub(mid).Abs().GreaterThan(band) {
			break
		}
		total = total.Add(lvl.Size)
	}
	return total
}

// DepthTopLevels returns the cumulative size of the best n levels on the
// given side.
func (s BookSnapshot) DepthTopLevels(side BookSide, n int) decimal.Decimal {
	total := decimal.Zero
	for i, lvl := range s.Side(side) {
		if i >= n {
			break
		}
		total = total.Add(lvl.Size)
	}
	return total
}

var two = decimal.NewFromInt(2)
