package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// OrderRequest asks a venue to trade. A zero LimitPrice means a market order.
type OrderRequest struct {
	Venue      Venue
	Pair       Pair
	Action     LegAction
	Quantity   decimal.Decimal // in the consumed asset
	LimitPrice decimal.Decimal
}

// Fill is one confirmation event for a placed order. Venues may report a
// single terminal fill or a sequence of partials ending in a terminal event.
type Fill struct {
	OrderID  string
	Quantity decimal.Decimal // in the produced asset
	Price    decimal.Decimal
	Final    bool
	Rejected bool
	At       time.Time
}

// OrderPlacer submits orders to venues. Place returns immediately with the
// venue order ID and a push channel that delivers fill confirmations; the
// channel is closed after the terminal event. The engine never polls order
// status.
type OrderPlacer interface {
	Place(ctx context.Context, req OrderRequest) (orderID string, fills <-chan Fill, err error)
}

// BalanceSource reports currently available (unlocked) balances, queried
// synchronously before committing capital. Balances are never assumed.
type BalanceSource interface {
	Available(ctx context.Context, venue Venue, asset Asset) (decimal.Decimal, error)
}

// FeeSource supplies the current fee schedule. Implementations refresh on a
// slow cadence; Schedule must be cheap to call per scan.
type FeeSource interface {
	Schedule(ctx context.Context) (FeeSchedule, error)
}

// EventBus publishes engine events (opportunities, execution results) to
// observability and persistence collaborators.
type EventBus interface {
	PublishOpportunity(ctx context.Context, opp Opportunity) error
	PublishExecution(ctx context.Context, res ExecutionResult) error
}

// ExecutionStore persists execution results and serves archival queries.
type ExecutionStore interface {
	Create(ctx context.Context, res ExecutionResult) error
	ListRecent(ctx context.Context, limit int) ([]ExecutionResult, error)
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]ExecutionResult, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
	SumRealized(ctx context.Context, since time.Time) (decimal.Decimal, error)
}
