package domain

import (
	"fmt"
	"strings"
)

// LegAction is the direction of one leg: Buy consumes the quote asset and
// produces the base asset, Sell the reverse.
type LegAction string

const (
	Buy  LegAction = "buy"
	Sell LegAction = "sell"
)

// Leg is one atomic order within a path.
type Leg struct {
	Venue  Venue
	Pair   Pair
	Action LegAction
}

// Consumes returns the asset this leg spends.
func (l Leg) Consumes() Asset {
	if l.Action == Buy {
		return l.Pair.Quote
	}
	return l.Pair.Base
}

// Produces returns the asset this leg yields.
func (l Leg) Produces() Asset {
	if l.Action == Buy {
		return l.Pair.Base
	}
	return l.Pair.Quote
}

// PathKind classifies a path by its shape.
type PathKind string

const (
	// CrossVenue is the classic 2-leg arbitrage: buy a pair on one venue,
	// sell the same pair on another.
	CrossVenue PathKind = "cross_venue"
	// Triangular is a 3-leg closed cycle over three assets on one venue.
	Triangular PathKind = "triangular"
)

// Path is an ordered, currency-chain-valid sequence of legs that starts and
// ends in StartAsset. Paths are built once at startup by the catalog and are
// immutable afterwards.
type Path struct {
	ID         string
	Kind       PathKind
	StartAsset Asset
	Legs       []Leg
}

// Validate enforces the chain-continuity invariant: leg 1 consumes
// StartAsset, each leg's product feeds the next leg, and the final leg
// produces StartAsset. It additionally checks the shape rules for each kind.
func (p Path) Validate() error {
	if len(p.Legs) < 2 || len(p.Legs) > 3 {
		return fmt.Errorf("%w: %s has %d legs", ErrInvalidPath, p.ID, len(p.Legs))
	}
	if p.Legs[0].Consumes() != p.StartAsset {
		return fmt.Errorf("%w: %s leg 1 consumes %s, start asset is %s",
			ErrInvalidPath, p.ID, p.Legs[0].Consumes(), p.StartAsset)
	}
	for i := 0; i < len(p.Legs)-1; i++ {
		if p.Legs[i].Produces() != p.Legs[i+1].Consumes() {
			return fmt.Errorf("%w: %s leg %d produces %s but leg %d consumes %s",
				ErrInvalidPath, p.ID, i+1, p.Legs[i].Produces(), i+2, p.Legs[i+1].Consumes())
		}
	}
	last := p.Legs[len(p.Legs)-1]
	if last.Produces() != p.StartAsset {
		return fmt.Errorf("%w: %s final leg produces %s, start asset is %s",
			ErrInvalidPath, p.ID, last.Produces(), p.StartAsset)
	}

	switch p.Kind {
	case CrossVenue:
		if len(p.Legs) != 2 {
			return fmt.Errorf("%w: %s cross-venue path must have 2 legs", ErrInvalidPath, p.ID)
		}
		if p.Legs[0].Pair != p.Legs[1].Pair {
			return fmt.Errorf("%w: %s legs reference different pairs", ErrInvalidPath, p.ID)
		}
		if p.Legs[0].Venue == p.Legs[1].Venue {
			return fmt.Errorf("%w: %s both legs on venue %s", ErrInvalidPath, p.ID, p.Legs[0].Venue)
		}
	case Triangular:
		if len(p.Legs) != 3 {
			return fmt.Errorf("%w: %s triangular path must have 3 legs", ErrInvalidPath, p.ID)
		}
		venue := p.Legs[0].Venue
		pairs := make(map[Pair]bool, 3)
		assets := make(map[Asset]bool, 3)
		for _, leg := range p.Legs {
			if leg.Venue != venue {
				return fmt.Errorf("%w: %s legs span venues %s and %s", ErrInvalidPath, p.ID, venue, leg.Venue)
			}
			pairs[leg.Pair] = true
			assets[leg.Pair.Base] = true
			assets[leg.Pair.Quote] = true
		}
		if len(pairs) != 3 {
			return fmt.Errorf("%w: %s must use 3 distinct pairs, has %d", ErrInvalidPath, p.ID, len(pairs))
		}
		if len(assets) != 3 {
			return fmt.Errorf("%w: %s must span exactly 3 assets, has %d", ErrInvalidPath, p.ID, len(assets))
		}
	default:
		return fmt.Errorf("%w: %s unknown kind %q", ErrInvalidPath, p.ID, p.Kind)
	}
	return nil
}

// Touches reports whether the path trades the given asset on the given venue.
func (p Path) Touches(venue Venue, asset Asset) bool {
	for _, leg := range p.Legs {
		if leg.Venue != venue {
			continue
		}
		if leg.Pair.Base == asset || leg.Pair.Quote == asset {
			return true
		}
	}
	return false
}

// TouchesBook reports whether the path trades the given book (either
// direction of the pair).
func (p Path) TouchesBook(key BookKey) bool {
	for _, leg := range p.Legs {
		if leg.Venue == key.Venue && (leg.Pair == key.Pair || leg.Pair == key.Pair.Inverse()) {
			return true
		}
	}
	return false
}

// Resources returns the distinct (venue, asset) resources the path touches,
// in leg order. These are the keys the coordinator locks before committing.
func (p Path) Resources() []ResourceKey {
	seen := make(map[ResourceKey]bool, len(p.Legs)*2)
	var keys []ResourceKey
	for _, leg := range p.Legs {
		for _, a := range []Asset{leg.Pair.Base, leg.Pair.Quote} {
			k := ResourceKey{Venue: leg.Venue, Asset: a}
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	return keys
}

// String renders the path as a chain of assets, e.g.
// "triangular kraken USDT->BTC->ETH->USDT".
func (p Path) String() string {
	var b strings.Builder
	b.WriteString(string(p.Kind))
	b.WriteByte(' ')
	if len(p.Legs) > 0 {
		if p.Kind == Triangular {
			b.WriteString(string(p.Legs[0].Venue))
			b.WriteByte(' ')
		}
		b.WriteString(string(p.StartAsset))
		for _, leg := range p.Legs {
			b.WriteString("->")
			b.WriteString(string(leg.Produces()))
		}
	}
	return b.String()
}
