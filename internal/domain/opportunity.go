package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Opportunity is a candidate trade: a path whose current snapshots price out
// profitably. It lives for one scan cycle; it is never persisted beyond the
// cycle that found it, except through the event bus for observability.
type Opportunity struct {
	ID             string
	Path           Path
	GrossProfitPct decimal.Decimal // fractional, 0.005 = 0.5%
	NetProfitPct   decimal.Decimal
	MaxSafeSize    decimal.Decimal // in StartAsset, from the depth check
	SnapshotTimes  []time.Time     // ObservedAt of each leg's snapshot
	DetectedAt     time.Time
}
