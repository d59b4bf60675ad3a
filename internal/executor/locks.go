// Package executor commits capital: it locks the touched resources, places
// legs strictly in path order, waits for fill confirmations, and remediates
// partial failures.
package executor

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/quantgrid/arbengine/internal/domain"
)

// LockTable grants exclusive ownership of (venue, asset) resources to one
// in-flight execution at a time. Acquisition is all-or-nothing and
// reject-not-queue: a second opportunity touching any held resource fails
// immediately with domain.ErrLockHeld instead of waiting, so the same
// balance can never be double-spent across concurrently detected
// opportunities.
type LockTable struct {
	mu   sync.Mutex
	held map[domain.ResourceKey]string // resource -> owner token
}

// NewLockTable creates an empty table.
func NewLockTable() *LockTable {
	return &LockTable{held: make(map[domain.ResourceKey]string)}
}

// TryAcquire attempts to lock every key. On success it returns a release
// closure that is safe to call more than once. If any key is already held,
// nothing is acquired.
func (t *LockTable) TryAcquire(keys []domain.ResourceKey) (func(), error) {
	token := uuid.New().String()

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, k := range keys {
		if owner, ok := t.held[k]; ok {
			return nil, fmt.Errorf("resource %s held by %s: %w", k, owner[:8], domain.ErrLockHeld)
		}
	}
	for _, k := range keys {
		t.held[k] = token
	}

	released := false
	release := func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if released {
			return
		}
		released = true
		for _, k := range keys {
			if t.held[k] == token {
				delete(t.held, k)
			}
		}
	}
	return release, nil
}

// Holding reports whether any execution currently holds the resource. This
// is the query surface higher-level rebalancing logic uses to avoid
// colliding with in-flight arbitrage.
func (t *LockTable) Holding(venue domain.Venue, asset domain.Asset) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.held[domain.ResourceKey{Venue: venue, Asset: asset}]
	return ok
}

// LockedResources returns the currently held resources in deterministic
// order.
func (t *LockTable) LockedResources() []domain.ResourceKey {
	t.mu.Lock()
	defer t.mu.Unlock()
	keys := make([]domain.ResourceKey, 0, len(t.held))
	for k := range t.held {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}
