package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quantgrid/arbengine/internal/domain"
)

// Channel and stream names exposed to collaborators.
const (
	OpportunityChannel = "arb:opportunities"
	ExecutionChannel   = "arb:executions"
	OpportunityStream  = "arb:opportunities:stream"
	ExecutionStream    = "arb:executions:stream"
)

// EventBus implements domain.EventBus. Each event is published to a pub/sub
// channel for live consumers and appended to a capped stream for replay.
type EventBus struct {
	rdb       *redis.Client
	streamMax int64
}

// NewEventBus creates an EventBus keeping roughly streamMax entries per
// stream (XADD MAXLEN ~).
func NewEventBus(c *Client, streamMax int64) *EventBus {
	if streamMax <= 0 {
		streamMax = 10000
	}
	return &EventBus{rdb: c.Underlying(), streamMax: streamMax}
}

// opportunityEvent is the JSON wire shape of an opportunity.
type opportunityEvent struct {
	Event          string    `json:"event"`
	ID             string    `json:"id"`
	Path           string    `json:"path"`
	Kind           string    `json:"kind"`
	StartAsset     string    `json:"start_asset"`
	GrossProfitPct string    `json:"gross_profit_pct"`
	NetProfitPct   string    `json:"net_profit_pct"`
	MaxSafeSize    string    `json:"max_safe_size"`
	DetectedAt     time.Time `json:"detected_at"`
}

// executionEvent is the JSON wire shape of an execution result.
type executionEvent struct {
	Event          string    `json:"event"`
	ID             string    `json:"id"`
	OpportunityID  string    `json:"opportunity_id"`
	Path           string    `json:"path"`
	State          string    `json:"state"`
	CommittedSize  string    `json:"committed_size"`
	RealizedProfit string    `json:"realized_profit"`
	Legs           int       `json:"legs"`
	StartedAt      time.Time `json:"started_at"`
	CompletedAt    time.Time `json:"completed_at"`
}

// PublishOpportunity emits an opportunity event.
func (b *EventBus) PublishOpportunity(ctx context.Context, opp domain.Opportunity) error {
	payload, err := json.Marshal(opportunityEvent{
		Event:          "opportunity",
		ID:             opp.ID,
		Path:           opp.Path.ID,
		Kind:           string(opp.Path.Kind),
		StartAsset:     string(opp.Path.StartAsset),
		GrossProfitPct: opp.GrossProfitPct.String(),
		NetProfitPct:   opp.NetProfitPct.String(),
		MaxSafeSize:    opp.MaxSafeSize.String(),
		DetectedAt:     opp.DetectedAt,
	})
	if err != nil {
		return fmt.Errorf("redis: marshal opportunity: %w", err)
	}
	return b.emit(ctx, OpportunityChannel, OpportunityStream, payload)
}

// PublishExecution emits an execution result event.
func (b *EventBus) PublishExecution(ctx context.Context, res domain.ExecutionResult) error {
	payload, err := json.Marshal(executionEvent{
		Event:          "execution",
		ID:             res.ID,
		OpportunityID:  res.OpportunityID,
		Path:           res.Path.ID,
		State:          string(res.State),
		CommittedSize:  res.CommittedSize.String(),
		RealizedProfit: res.RealizedProfit.String(),
		Legs:           len(res.Legs),
		StartedAt:      res.StartedAt,
		CompletedAt:    res.CompletedAt,
	})
	if err != nil {
		return fmt.Errorf("redis: marshal execution: %w", err)
	}
	return b.emit(ctx, ExecutionChannel, ExecutionStream, payload)
}

func (b *EventBus) emit(ctx context.Context, channel, stream string, payload []byte) error {
	if err := b.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	args := &redis.XAddArgs{
		Stream: stream,
		MaxLen: b.streamMax,
		Approx: true,
		Values: map[string]interface{}{"payload": payload},
	}
	if err := b.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.EventBus = (*EventBus)(nil)
