package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/quantgrid/arbengine/internal/domain"
)

const archiveBatch = 500

// Archiver moves aged execution rows out of the hot store into object
// storage. Each sweep writes one JSONL object per batch and deletes the rows
// only after the upload succeeds.
type Archiver struct {
	store  domain.ExecutionStore
	writer *Writer
	maxAge time.Duration
	logger *slog.Logger
}

// NewArchiver creates an Archiver that archives executions completed more
// than maxAge ago.
func NewArchiver(store domain.ExecutionStore, writer *Writer, maxAge time.Duration, logger *slog.Logger) *Archiver {
	return &Archiver{
		store:  store,
		writer: writer,
		maxAge: maxAge,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// Run sweeps on the given cadence until ctx is cancelled.
func (a *Archiver) Run(ctx context.Context, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := a.Sweep(ctx); err != nil {
				a.logger.Warn("archive sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Sweep archives every execution older than the cutoff, batch by batch.
func (a *Archiver) Sweep(ctx context.Context) error {
	cutoff := time.Now().Add(-a.maxAge)

	for {
		batch, err := a.store.ListBefore(ctx, cutoff, archiveBatch)
		if err != nil {
			return fmt.Errorf("list aged executions: %w", err)
		}
		if len(batch) == 0 {
			return nil
		}

		key := archiveKey(batch[0].CompletedAt, batch[len(batch)-1].CompletedAt)
		body, err := encodeJSONL(batch)
		if err != nil {
			return err
		}
		if err := a.writer.Put(ctx, key, "application/x-ndjson", body); err != nil {
			return err
		}

		// Delete up to the last archived row, not the sweep cutoff, so rows
		// never vanish without landing in an object first.
		last := batch[len(batch)-1].CompletedAt.Add(time.Nanosecond)
		deleted, err := a.store.DeleteBefore(ctx, last)
		if err != nil {
			return fmt.Errorf("delete archived executions: %w", err)
		}

		a.logger.Info("archived execution batch",
			slog.String("key", key),
			slog.Int("archived", len(batch)),
			slog.Int64("deleted", deleted),
		)
		if len(batch) < archiveBatch {
			return nil
		}
	}
}

func archiveKey(first, last time.Time) string {
	return fmt.Sprintf("executions/%s/%d-%d.jsonl",
		first.UTC().Format("2006/01/02"), first.UnixNano(), last.UnixNano())
}

func encodeJSONL(batch []domain.ExecutionResult) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, res := range batch {
		if err := enc.Encode(archiveRecord(res)); err != nil {
			return nil, fmt.Errorf("encode execution %s: %w", res.ID, err)
		}
	}
	return buf.Bytes(), nil
}

type archiveLeg struct {
	Venue       string `json:"venue"`
	Pair        string `json:"pair"`
	Action      string `json:"action"`
	OrderID     string `json:"order_id,omitempty"`
	FilledQty   string `json:"filled_qty"`
	FilledPrice string `json:"filled_price"`
	Status      string `json:"status"`
}

type archiveEntry struct {
	ID             string       `json:"id"`
	OpportunityID  string       `json:"opportunity_id"`
	PathID         string       `json:"path_id"`
	Kind           string       `json:"kind"`
	StartAsset     string       `json:"start_asset"`
	CommittedSize  string       `json:"committed_size"`
	RealizedProfit string       `json:"realized_profit"`
	State          string       `json:"state"`
	StartedAt      time.Time    `json:"started_at"`
	CompletedAt    time.Time    `json:"completed_at"`
	Legs           []archiveLeg `json:"legs"`
	Remediations   []archiveLeg `json:"remediations,omitempty"`
}

func archiveRecord(res domain.ExecutionResult) archiveEntry {
	entry := archiveEntry{
		ID:             res.ID,
		OpportunityID:  res.OpportunityID,
		PathID:         res.Path.ID,
		Kind:           string(res.Path.Kind),
		StartAsset:     string(res.Path.StartAsset),
		CommittedSize:  res.CommittedSize.String(),
		RealizedProfit: res.RealizedProfit.String(),
		State:          string(res.State),
		StartedAt:      res.StartedAt,
		CompletedAt:    res.CompletedAt,
		Legs:           make([]archiveLeg, 0, len(res.Legs)),
	}
	for _, leg := range res.Legs {
		entry.Legs = append(entry.Legs, toArchiveLeg(leg))
	}
	for _, rem := range res.Remediations {
		entry.Remediations = append(entry.Remediations, toArchiveLeg(rem))
	}
	return entry
}

func toArchiveLeg(out domain.LegOutcome) archiveLeg {
	return archiveLeg{
		Venue:       string(out.Leg.Venue),
		Pair:        out.Leg.Pair.String(),
		Action:      string(out.Leg.Action),
		OrderID:     out.OrderID,
		FilledQty:   out.FilledQty.String(),
		FilledPrice: out.FilledPrice.String(),
		Status:      string(out.Status),
	}
}
