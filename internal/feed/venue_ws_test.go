package feed

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantgrid/arbengine/internal/domain"
)

func TestParsePair(t *testing.T) {
	tests := []struct {
		in      string
		want    domain.Pair
		wantErr bool
	}{
		{in: "BTC/USDT", want: domain.Pair{Base: "BTC", Quote: "USDT"}},
		{in: "ETH/BTC", want: domain.Pair{Base: "ETH", Quote: "BTC"}},
		{in: "BTCUSDT", wantErr: true},
		{in: "/USDT", wantErr: true},
		{in: "BTC/", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParsePair(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParsePair(%q) = nil error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParsePair(%q) = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParsePair(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseDepthMessage(t *testing.T) {
	f := NewVenueWSFeed("kraken", "ws://unused", nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	raw := `{
		"pair": "BTC/USDT",
		"bids": [["65004.50", "1.2"], ["65003.10", "0.8"]],
		"asks": [["65005.00", "0.5"]],
		"ts": 1721900000123
	}`
	snap, err := f.parse([]byte(raw))
	if err != nil {
		t.Fatalf("parse() = %v", err)
	}

	if snap.Venue != "kraken" {
		t.Errorf("venue = %s, want kraken", snap.Venue)
	}
	if snap.Pair != (domain.Pair{Base: "BTC", Quote: "USDT"}) {
		t.Errorf("pair = %v", snap.Pair)
	}
	if !snap.BestBid.Equal(decimal.RequireFromString("65004.50")) {
		t.Errorf("best bid = %s, want 65004.50", snap.BestBid)
	}
	if !snap.BestAsk.Equal(decimal.RequireFromString("65005.00")) {
		t.Errorf("best ask = %s, want 65005.00", snap.BestAsk)
	}
	if len(snap.Bids) != 2 || !snap.Bids[1].Size.Equal(decimal.RequireFromString("0.8")) {
		t.Errorf("bids = %v, want two exact levels", snap.Bids)
	}
	if !snap.ObservedAt.Equal(time.UnixMilli(1721900000123)) {
		t.Errorf("observed at = %s", snap.ObservedAt)
	}
}

func TestParseRejectsMalformedMessages(t *testing.T) {
	f := NewVenueWSFeed("kraken", "ws://unused", nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	for _, raw := range []string{
		`not json`,
		`{"pair": "BTCUSDT", "bids": [], "asks": [], "ts": 1}`,
		`{"pair": "BTC/USDT", "bids": [["abc", "1"]], "asks": [], "ts": 1}`,
		`{"pair": "BTC/USDT", "bids": [["100", "x"]], "asks": [], "ts": 1}`,
	} {
		if _, err := f.parse([]byte(raw)); err == nil {
			t.Errorf("parse(%q) = nil error", raw)
		}
	}
}
