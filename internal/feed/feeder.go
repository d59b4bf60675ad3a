package feed

import (
	"context"
	"log/slog"

	"github.com/quantgrid/arbengine/internal/book"
	"github.com/quantgrid/arbengine/internal/domain"
	"github.com/quantgrid/arbengine/internal/risk"
	"github.com/quantgrid/arbengine/internal/scheduler"
)

// Feeder fans one venue feed's snapshots into the engine: snapshot cache,
// volatility tracker, and the scheduler's event trigger. Out-of-order
// snapshots are dropped by the cache and do not trigger scans.
type Feeder struct {
	books  *book.Cache
	vol    *risk.VolTracker
	sched  *scheduler.Scheduler
	logger *slog.Logger
}

// NewFeeder creates a Feeder.
func NewFeeder(books *book.Cache, vol *risk.VolTracker, sched *scheduler.Scheduler, logger *slog.Logger) *Feeder {
	return &Feeder{
		books:  books,
		vol:    vol,
		sched:  sched,
		logger: logger.With(slog.String("component", "feeder")),
	}
}

// HandleBook is the BookHandler wired into each venue feed.
func (f *Feeder) HandleBook(ctx context.Context, snap domain.BookSnapshot) {
	if !f.books.Update(snap) {
		f.logger.Debug("dropped out-of-order snapshot",
			slog.String("venue", string(snap.Venue)),
			slog.String("pair", snap.Pair.String()),
		)
		return
	}

	if mid := snap.Mid(); !mid.IsZero() {
		f.vol.Observe(snap.Pair.Base, mid, snap.ObservedAt)
	}
	f.sched.OnBookUpdate(ctx, domain.BookKey{Venue: snap.Venue, Pair: snap.Pair})
}
