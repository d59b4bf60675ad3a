package domain

import "github.com/shopspring/decimal"

// FeeRate holds exact fractional fee rates for a pair on a venue. Rates are
// never approximated; 0.1% is decimal "0.001".
type FeeRate struct {
	Venue Venue
	Pair  Pair
	Maker decimal.Decimal
	Taker decimal.Decimal
}

// FeeSchedule is a point-in-time view of fee rates, refreshed on a slow
// cadence (minutes) by the feed collaborator, never per scan.
type FeeSchedule struct {
	rates    map[BookKey]FeeRate
	fallback decimal.Decimal
}

// NewFeeSchedule builds a schedule from the given rates. fallbackTaker is
// used for books with no explicit entry.
func NewFeeSchedule(rates []FeeRate, fallbackTaker decimal.Decimal) FeeSchedule {
	m := make(map[BookKey]FeeRate, len(rates))
	for _, r := range rates {
		m[BookKey{Venue: r.Venue, Pair: r.Pair}] = r
	}
	return FeeSchedule{rates: m, fallback: fallbackTaker}
}

// Taker returns the taker rate for the pair on the venue, falling back to the
// schedule default when no explicit rate is known.
func (s FeeSchedule) Taker(venue Venue, pair Pair) decimal.Decimal {
	if r, ok := s.rates[BookKey{Venue: venue, Pair: pair}]; ok {
		return r.Taker
	}
	return s.fallback
}
