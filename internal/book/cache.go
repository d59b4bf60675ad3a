// Package book holds the in-process snapshot cache: the single source of
// truth for pricing. One slot per (venue, pair); writers to different slots
// never contend, writes to the same slot are serialized last-writer-wins.
package book

import (
	"fmt"
	"sync"
	"time"

	"github.com/quantgrid/arbengine/internal/domain"
)

// Cache stores the latest BookSnapshot per (venue, pair). Freshness is
// enforced at read time, not write time, so a venue that stops publishing
// degrades to "stale" instead of serving old prices forever.
type Cache struct {
	freshFor time.Duration

	mu    sync.RWMutex // guards the slot map only, not slot contents
	slots map[domain.BookKey]*slot
}

type slot struct {
	mu   sync.RWMutex
	snap domain.BookSnapshot
	set  bool
}

// NewCache creates a cache whose snapshots are considered fresh for freshFor
// after their ObservedAt timestamp.
func NewCache(freshFor time.Duration) *Cache {
	return &Cache{
		freshFor: freshFor,
		slots:    make(map[domain.BookKey]*slot),
	}
}

// Update stores snap for its (venue, pair) key. An update whose ObservedAt
// is not newer than the stored one is dropped: out-of-order feed messages
// must never roll the book backwards. Returns true when the snapshot was
// applied.
func (c *Cache) Update(snap domain.BookSnapshot) bool {
	s := c.slot(domain.BookKey{Venue: snap.Venue, Pair: snap.Pair})

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.set && !snap.ObservedAt.After(s.snap.ObservedAt) {
		return false
	}
	s.snap = snap
	s.set = true
	return true
}

// Read returns the latest snapshot for the key. It returns
// domain.ErrBookMissing when no snapshot was ever stored and
// domain.ErrBookStale when the stored one is older than the freshness
// window at the time of the call.
func (c *Cache) Read(key domain.BookKey) (domain.BookSnapshot, error) {
	return c.ReadAt(key, time.Now())
}

// ReadAt is Read with an explicit clock, used by tests and by callers that
// evaluate several legs against one instant.
func (c *Cache) ReadAt(key domain.BookKey, now time.Time) (domain.BookSnapshot, error) {
	c.mu.RLock()
	s, ok := c.slots[key]
	c.mu.RUnlock()
	if !ok {
		return domain.BookSnapshot{}, fmt.Errorf("book %s: %w", key, domain.ErrBookMissing)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.set {
		return domain.BookSnapshot{}, fmt.Errorf("book %s: %w", key, domain.ErrBookMissing)
	}
	if now.Sub(s.snap.ObservedAt) > c.freshFor {
		return domain.BookSnapshot{}, fmt.Errorf("book %s observed %s ago: %w",
			key, now.Sub(s.snap.ObservedAt).Round(time.Millisecond), domain.ErrBookStale)
	}
	return s.snap, nil
}

func (c *Cache) slot(key domain.BookKey) *slot {
	c.mu.RLock()
	s, ok := c.slots[key]
	c.mu.RUnlock()
	if ok {
		return s
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok = c.slots[key]; ok {
		return s
	}
	s = &slot{}
	c.slots[key] = s
	return s
}
