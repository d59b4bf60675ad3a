// Package domain defines the core types shared across the arbitrage engine:
// assets, pairs, order books, paths, opportunities, execution results, and
// the collaborator interfaces the engine consumes and exposes.
package domain

import "fmt"

// Asset is a symbolic asset identifier, e.g. "BTC" or "USDT".
type Asset string

// Venue is an exchange identifier, e.g. "kraken" or "binance".
type Venue string

// Pair is a directed trading pair on some venue: base is bought or sold
// against quote.
type Pair struct {
	Base  Asset
	Quote Asset
}

// String returns the conventional "BASE/QUOTE" notation.
func (p Pair) String() string {
	return fmt.Sprintf("%s/%s", p.Base, p.Quote)
}

// Inverse returns the pair with base and quote swapped.
func (p Pair) Inverse() Pair {
	return Pair{Base: p.Quote, Quote: p.Base}
}

// BookKey identifies one order book: a pair listed on a venue.
type BookKey struct {
	Venue Venue
	Pair  Pair
}

// String renders the key as "venue:BASE/QUOTE".
func (k BookKey) String() string {
	return fmt.Sprintf("%s:%s", k.Venue, k.Pair)
}

// ResourceKey identifies a lockable capital resource: an asset held on a
// venue.
type ResourceKey struct {
	Venue Venue
	Asset Asset
}

// String renders the key as "venue:ASSET".
func (k ResourceKey) String() string {
	return fmt.Sprintf("%s:%s", k.Venue, k.Asset)
}
