// Package catalog builds the fixed set of tradeable paths at startup. Paths
// are constructed once from the declared venue/asset universe and validated
// for currency-chain continuity before the engine starts; they are never
// regenerated or permuted at runtime.
package catalog

import (
	"fmt"
	"sort"

	"github.com/quantgrid/arbengine/internal/domain"
)

// Universe declares which pairs are listed on which venues.
type Universe struct {
	Listings map[domain.Venue][]domain.Pair
}

// Listed reports whether the pair is listed on the venue in this universe.
func (u Universe) Listed(venue domain.Venue, pair domain.Pair) bool {
	for _, p := range u.Listings[venue] {
		if p == pair {
			return true
		}
	}
	return false
}

// Catalog is the immutable set of validated paths.
type Catalog struct {
	paths []domain.Path
}

// Build constructs every 2-leg cross-venue path and every 3-leg triangular
// path expressible in the universe. A path failing chain validation is a
// construction-time error: Build fails and the engine must refuse to start.
func Build(u Universe) (*Catalog, error) {
	var paths []domain.Path
	paths = append(paths, crossVenuePaths(u)...)

	tri, err := triangularPaths(u)
	if err != nil {
		return nil, err
	}
	paths = append(paths, tri...)

	for _, p := range paths {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("catalog: %w", err)
		}
	}

	sort.Slice(paths, func(i, j int) bool { return paths[i].ID < paths[j].ID })
	return &Catalog{paths: paths}, nil
}

// All returns every path in deterministic order. Callers must not mutate the
// returned slice.
func (c *Catalog) All() []domain.Path {
	return c.paths
}

// Len returns the number of paths.
func (c *Catalog) Len() int {
	return len(c.paths)
}

// TouchingBook returns the paths that trade the given book.
func (c *Catalog) TouchingBook(key domain.BookKey) []domain.Path {
	var out []domain.Path
	for _, p := range c.paths {
		if p.TouchesBook(key) {
			out = append(out, p)
		}
	}
	return out
}

// crossVenuePaths emits one path per (pair, buy-venue, sell-venue) where the
// pair is listed on both venues: buy on the first, sell on the second,
// starting and ending in the quote asset.
func crossVenuePaths(u Universe) []domain.Path {
	byPair := make(map[domain.Pair][]domain.Venue)
	for venue, pairs := range u.Listings {
		for _, p := range pairs {
			byPair[p] = append(byPair[p], venue)
		}
	}

	var paths []domain.Path
	for pair, venues := range byPair {
		if len(venues) < 2 {
			continue
		}
		sort.Slice(venues, func(i, j int) bool { return venues[i] < venues[j] })
		for _, buyVenue := range venues {
			for _, sellVenue := range venues {
				if buyVenue == sellVenue {
					continue
				}
				paths = append(paths, domain.Path{
					ID:         fmt.Sprintf("x2:%s>%s:%s", buyVenue, sellVenue, pair),
					Kind:       domain.CrossVenue,
					StartAsset: pair.Quote,
					Legs: []domain.Leg{
						{Venue: buyVenue, Pair: pair, Action: domain.Buy},
						{Venue: sellVenue, Pair: pair, Action: domain.Sell},
					},
				})
			}
		}
	}
	return paths
}

// triangularPaths emits, per venue, the closed cycle X->Y->Z->X for every
// ordered triple of distinct assets whose three connecting pairs (in either
// listing direction) exist on that venue. The Buy/Sell action of each hop is
// inferred from which side of the listed pair is traded: moving from the
// base of a listed pair is a Sell, moving from its quote is a Buy.
func triangularPaths(u Universe) ([]domain.Path, error) {
	var paths []domain.Path

	venues := make([]domain.Venue, 0, len(u.Listings))
	for v := range u.Listings {
		venues = append(venues, v)
	}
	sort.Slice(venues, func(i, j int) bool { return venues[i] < venues[j] })

	for _, venue := range venues {
		listed := make(map[domain.Pair]bool, len(u.Listings[venue]))
		assetSet := make(map[domain.Asset]bool)
		for _, p := range u.Listings[venue] {
			listed[p] = true
			assetSet[p.Base] = true
			assetSet[p.Quote] = true
		}
		assets := make([]domain.Asset, 0, len(assetSet))
		for a := range assetSet {
			assets = append(assets, a)
		}
		sort.Slice(assets, func(i, j int) bool { return assets[i] < assets[j] })

		for _, x := range assets {
			for _, y := range assets {
				for _, z := range assets {
					if x == y || y == z || x == z {
						continue
					}
					legs, ok := cycleLegs(venue, listed, x, y, z)
					if !ok {
						continue
					}
					paths = append(paths, domain.Path{
						ID:         fmt.Sprintf("x3:%s:%s-%s-%s", venue, x, y, z),
						Kind:       domain.Triangular,
						StartAsset: x,
						Legs:       legs,
					})
				}
			}
		}
	}
	return paths, nil
}

// cycleLegs resolves the three hops X->Y, Y->Z, Z->X against the venue's
// listed pairs. Returns false when any hop has no listed pair.
func cycleLegs(venue domain.Venue, listed map[domain.Pair]bool, x, y, z domain.Asset) ([]domain.Leg, bool) {
	hops := [][2]domain.Asset{{x, y}, {y, z}, {z, x}}
	legs := make([]domain.Leg, 0, 3)
	for _, hop := range hops {
		leg, ok := hopLeg(venue, listed, hop[0], hop[1])
		if !ok {
			return nil, false
		}
		legs = append(legs, leg)
	}
	return legs, true
}

// hopLeg converts "move from asset `from` into asset `to`" into a leg on a
// listed pair. Selling `from`/`to` or buying `to`/`from` both work; the
// listed direction decides.
func hopLeg(venue domain.Venue, listed map[domain.Pair]bool, from, to domain.Asset) (domain.Leg, bool) {
	if p := (domain.Pair{Base: from, Quote: to}); listed[p] {
		return domain.Leg{Venue: venue, Pair: p, Action: domain.Sell}, true
	}
	if p := (domain.Pair{Base: to, Quote: from}); listed[p] {
		return domain.Leg{Venue: venue, Pair: p, Action: domain.Buy}, true
	}
	return domain.Leg{}, false
}
