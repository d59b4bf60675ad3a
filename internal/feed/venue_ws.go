// Package feed delivers venue order-book updates into the engine. The hot
// path is push-based: venues stream depth over websocket, the feeder applies
// snapshots to the cache and triggers scans. Nothing in this package polls.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/quantgrid/arbengine/internal/domain"
)

// BookHandler receives each parsed snapshot.
type BookHandler func(ctx context.Context, snap domain.BookSnapshot)

// depthMessage is the wire shape of a venue depth update: price/size arrays
// as strings, millisecond timestamp.
type depthMessage struct {
	Pair string      `json:"pair"`
	Bids [][2]string `json:"bids"`
	Asks [][2]string `json:"asks"`
	TsMs int64       `json:"ts"`
}

// VenueWSFeed maintains one websocket connection to a venue's depth stream,
// parses updates, and invokes the handler. It reconnects with backoff on
// disconnect until the context is cancelled.
type VenueWSFeed struct {
	venue     domain.Venue
	url       string
	subscribe []string // raw subscription payloads sent after connect
	onBook    BookHandler
	logger    *slog.Logger
	closeOnce sync.Once
	done      chan struct{}
}

// NewVenueWSFeed creates a feed for one venue.
func NewVenueWSFeed(venue domain.Venue, url string, subscribe []string, onBook BookHandler, logger *slog.Logger) *VenueWSFeed {
	return &VenueWSFeed{
		venue:     venue,
		url:       url,
		subscribe: subscribe,
		onBook:    onBook,
		logger: logger.With(
			slog.String("component", "venue_ws_feed"),
			slog.String("venue", string(venue)),
		),
		done: make(chan struct{}),
	}
}

// Run connects and processes messages until ctx is cancelled or Close is
// called. Reconnects with a fixed short backoff on disconnect.
func (f *VenueWSFeed) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		if err := f.runConnection(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.logger.Warn("feed disconnected, reconnecting", slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(2 * time.Second):
		}
	}
}

func (f *VenueWSFeed) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", f.url, err)
	}
	defer conn.Close()

	for _, payload := range f.subscribe {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}
	f.logger.Info("feed connected", slog.Int("subscriptions", len(f.subscribe)))

	// Unblock ReadMessage when the context ends.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-f.done:
		case <-stop:
			return
		}
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		snap, err := f.parse(data)
		if err != nil {
			f.logger.Debug("unparseable message", slog.String("error", err.Error()))
			continue
		}
		f.onBook(ctx, snap)
	}
}

// parse converts one depth message into a snapshot. Prices and sizes are
// decoded as exact decimals straight from the wire strings.
func (f *VenueWSFeed) parse(data []byte) (domain.BookSnapshot, error) {
	var msg depthMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return domain.BookSnapshot{}, err
	}
	pair, err := ParsePair(msg.Pair)
	if err != nil {
		return domain.BookSnapshot{}, err
	}

	snap := domain.BookSnapshot{
		Venue:      f.venue,
		Pair:       pair,
		ObservedAt: time.UnixMilli(msg.TsMs),
	}
	if snap.Bids, err = parseLevels(msg.Bids); err != nil {
		return domain.BookSnapshot{}, err
	}
	if snap.Asks, err = parseLevels(msg.Asks); err != nil {
		return domain.BookSnapshot{}, err
	}
	if len(snap.Bids) > 0 {
		snap.BestBid = snap.Bids[0].Price
	}
	if len(snap.Asks) > 0 {
		snap.BestAsk = snap.Asks[0].Price
	}
	return snap, nil
}

func parseLevels(raw [][2]string) ([]domain.BookLevel, error) {
	levels := make([]domain.BookLevel, 0, len(raw))
	for _, r := range raw {
		price, err := decimal.NewFromString(r[0])
		if err != nil {
			return nil, fmt.Errorf("level price %q: %w", r[0], err)
		}
		size, err := decimal.NewFromString(r[1])
		if err != nil {
			return nil, fmt.Errorf("level size %q: %w", r[1], err)
		}
		levels = append(levels, domain.BookLevel{Price: price, Size: size})
	}
	return levels, nil
}

// ParsePair parses "BASE/QUOTE" notation.
func ParsePair(s string) (domain.Pair, error) {
	base, quote, ok := strings.Cut(s, "/")
	if !ok || base == "" || quote == "" {
		return domain.Pair{}, fmt.Errorf("malformed pair %q", s)
	}
	return domain.Pair{Base: domain.Asset(base), Quote: domain.Asset(quote)}, nil
}

// Close stops the feed.
func (f *VenueWSFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}
