package catalog

import (
	"testing"

	"github.com/quantgrid/arbengine/internal/domain"
)

func pair(base, quote domain.Asset) domain.Pair {
	return domain.Pair{Base: base, Quote: quote}
}

func twoVenueUniverse() Universe {
	return Universe{Listings: map[domain.Venue][]domain.Pair{
		"kraken": {
			pair("BTC", "USDT"),
			pair("ETH", "USDT"),
			pair("ETH", "BTC"),
		},
		"coinbase": {
			pair("BTC", "USDT"),
			pair("ETH", "USDT"),
		},
	}}
}

func TestBuildEveryPathIsChainValid(t *testing.T) {
	c, err := Build(twoVenueUniverse())
	if err != nil {
		t.Fatalf("Build() = %v", err)
	}
	if c.Len() == 0 {
		t.Fatal("Build() produced no paths")
	}
	for _, p := range c.All() {
		if err := p.Validate(); err != nil {
			t.Errorf("path %s fails validation: %v", p.ID, err)
		}
	}
}

func TestBuildCrossVenuePairs(t *testing.T) {
	c, err := Build(twoVenueUniverse())
	if err != nil {
		t.Fatalf("Build() = %v", err)
	}

	var cross []domain.Path
	for _, p := range c.All() {
		if p.Kind == domain.CrossVenue {
			cross = append(cross, p)
		}
	}
	// BTC/USDT and ETH/USDT are dual-listed, two directions each.
	if len(cross) != 4 {
		t.Fatalf("cross-venue paths = %d, want 4", len(cross))
	}
	for _, p := range cross {
		if len(p.Legs) != 2 {
			t.Errorf("%s has %d legs", p.ID, len(p.Legs))
			continue
		}
		if p.Legs[0].Pair != p.Legs[1].Pair {
			t.Errorf("%s legs reference different pairs", p.ID)
		}
		if p.Legs[0].Venue == p.Legs[1].Venue {
			t.Errorf("%s both legs on one venue", p.ID)
		}
		if p.Legs[0].Action != domain.Buy || p.Legs[1].Action != domain.Sell {
			t.Errorf("%s is not buy-then-sell", p.ID)
		}
		if p.StartAsset != p.Legs[0].Pair.Quote {
			t.Errorf("%s starts in %s, want the quote asset", p.ID, p.StartAsset)
		}
	}
}

func TestBuildTriangularOnlyWhereAllPairsListed(t *testing.T) {
	c, err := Build(twoVenueUniverse())
	if err != nil {
		t.Fatalf("Build() = %v", err)
	}

	byVenue := make(map[domain.Venue]int)
	for _, p := range c.All() {
		if p.Kind != domain.Triangular {
			continue
		}
		byVenue[p.Legs[0].Venue]++
		if len(p.Legs) != 3 {
			t.Errorf("%s has %d legs", p.ID, len(p.Legs))
		}
	}

	// kraken lists all three connecting pairs of {BTC, ETH, USDT}: six
	// ordered triples, i.e. both cycle directions from each start asset.
	if byVenue["kraken"] != 6 {
		t.Errorf("kraken triangular paths = %d, want 6", byVenue["kraken"])
	}
	// coinbase lacks ETH/BTC, so no cycle closes there.
	if byVenue["coinbase"] != 0 {
		t.Errorf("coinbase triangular paths = %d, want 0", byVenue["coinbase"])
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	a, err := Build(twoVenueUniverse())
	if err != nil {
		t.Fatalf("Build() = %v", err)
	}
	b, err := Build(twoVenueUniverse())
	if err != nil {
		t.Fatalf("Build() = %v", err)
	}
	if a.Len() != b.Len() {
		t.Fatalf("path counts differ: %d vs %d", a.Len(), b.Len())
	}
	for i := range a.All() {
		if a.All()[i].ID != b.All()[i].ID {
			t.Fatalf("path order differs at %d: %s vs %s", i, a.All()[i].ID, b.All()[i].ID)
		}
	}
}

func TestTouchingBook(t *testing.T) {
	c, err := Build(twoVenueUniverse())
	if err != nil {
		t.Fatalf("Build() = %v", err)
	}

	key := domain.BookKey{Venue: "coinbase", Pair: pair("BTC", "USDT")}
	touching := c.TouchingBook(key)
	if len(touching) == 0 {
		t.Fatal("no paths touch coinbase BTC/USDT")
	}
	for _, p := range touching {
		if !p.TouchesBook(key) {
			t.Errorf("%s returned but does not touch the book", p.ID)
		}
	}

	none := c.TouchingBook(domain.BookKey{Venue: "binance", Pair: pair("BTC", "USDT")})
	if len(none) != 0 {
		t.Errorf("unexpected paths for an unknown venue: %d", len(none))
	}
}

func TestUniverseListed(t *testing.T) {
	u := twoVenueUniverse()
	if !u.Listed("kraken", pair("ETH", "BTC")) {
		t.Error("ETH/BTC should be listed on kraken")
	}
	if u.Listed("coinbase", pair("ETH", "BTC")) {
		t.Error("ETH/BTC should not be listed on coinbase")
	}
}
