package executor

import (
	"errors"
	"testing"

	"github.com/quantgrid/arbengine/internal/domain"
)

func rk(venue domain.Venue, asset domain.Asset) domain.ResourceKey {
	return domain.ResourceKey{Venue: venue, Asset: asset}
}

func TestLockTableAcquireRelease(t *testing.T) {
	lt := NewLockTable()
	keys := []domain.ResourceKey{rk("kraken", "BTC"), rk("kraken", "USDT")}

	release, err := lt.TryAcquire(keys)
	if err != nil {
		t.Fatalf("TryAcquire() = %v", err)
	}
	if !lt.Holding("kraken", "BTC") || !lt.Holding("kraken", "USDT") {
		t.Error("acquired resources not reported as held")
	}

	release()
	if lt.Holding("kraken", "BTC") || lt.Holding("kraken", "USDT") {
		t.Error("resources still held after release")
	}

	// Idempotent release.
	release()
	if got := len(lt.LockedResources()); got != 0 {
		t.Errorf("LockedResources() = %d entries after double release", got)
	}
}

func TestLockTableConflictIsAllOrNothing(t *testing.T) {
	lt := NewLockTable()
	first, err := lt.TryAcquire([]domain.ResourceKey{rk("kraken", "BTC")})
	if err != nil {
		t.Fatalf("TryAcquire() = %v", err)
	}
	defer first()

	// Overlapping set: nothing from it may be acquired.
	_, err = lt.TryAcquire([]domain.ResourceKey{rk("coinbase", "BTC"), rk("kraken", "BTC")})
	if !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("TryAcquire() = %v, want ErrLockHeld", err)
	}
	if lt.Holding("coinbase", "BTC") {
		t.Error("failed acquisition leaked a partial lock")
	}

	// A disjoint set still succeeds.
	second, err := lt.TryAcquire([]domain.ResourceKey{rk("coinbase", "BTC")})
	if err != nil {
		t.Fatalf("disjoint TryAcquire() = %v", err)
	}
	second()
}

func TestLockTableReleaseOnlyOwnKeys(t *testing.T) {
	lt := NewLockTable()
	first, err := lt.TryAcquire([]domain.ResourceKey{rk("kraken", "BTC")})
	if err != nil {
		t.Fatalf("TryAcquire() = %v", err)
	}
	first()

	second, err := lt.TryAcquire([]domain.ResourceKey{rk("kraken", "BTC")})
	if err != nil {
		t.Fatalf("re-acquire = %v", err)
	}

	// The stale release from the first owner must not free the second
	// owner's lock.
	first()
	if !lt.Holding("kraken", "BTC") {
		t.Error("stale release freed another owner's lock")
	}
	second()
}

func TestLockedResourcesDeterministicOrder(t *testing.T) {
	lt := NewLockTable()
	release, err := lt.TryAcquire([]domain.ResourceKey{
		rk("kraken", "USDT"), rk("coinbase", "BTC"), rk("kraken", "BTC"),
	})
	if err != nil {
		t.Fatalf("TryAcquire() = %v", err)
	}
	defer release()

	got := lt.LockedResources()
	want := []domain.ResourceKey{rk("coinbase", "BTC"), rk("kraken", "BTC"), rk("kraken", "USDT")}
	if len(got) != len(want) {
		t.Fatalf("LockedResources() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("LockedResources()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}
