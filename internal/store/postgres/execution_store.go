package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/quantgrid/arbengine/internal/domain"
)

// ExecutionStore implements domain.ExecutionStore on PostgreSQL. Each result
// is one row in executions plus one row per leg (and per remediation order)
// in execution_legs, written in a single transaction.
type ExecutionStore struct {
	client *Client
}

// NewExecutionStore creates an ExecutionStore.
func NewExecutionStore(client *Client) *ExecutionStore {
	return &ExecutionStore{client: client}
}

// Create persists one execution result atomically.
func (s *ExecutionStore) Create(ctx context.Context, res domain.ExecutionResult) error {
	tx, err := s.client.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO executions
			(id, opportunity_id, path_id, path_kind, start_asset,
			 committed_size, realized_profit, state, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		res.ID, res.OpportunityID, res.Path.ID, string(res.Path.Kind),
		string(res.Path.StartAsset), res.CommittedSize.String(),
		res.RealizedProfit.String(), string(res.State),
		res.StartedAt, res.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert execution %s: %w", res.ID, err)
	}

	for i, leg := range res.Legs {
		if err := insertLeg(ctx, tx, res.ID, i, false, leg); err != nil {
			return err
		}
	}
	for i, rem := range res.Remediations {
		if err := insertLeg(ctx, tx, res.ID, len(res.Legs)+i, true, rem); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit execution %s: %w", res.ID, err)
	}
	return nil
}

func insertLeg(ctx context.Context, tx pgx.Tx, execID string, idx int, remediation bool, leg domain.LegOutcome) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO execution_legs
			(execution_id, leg_index, is_remediation, venue, base_asset,
			 quote_asset, action, order_id, filled_qty, filled_price, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		execID, idx, remediation, string(leg.Leg.Venue),
		string(leg.Leg.Pair.Base), string(leg.Leg.Pair.Quote),
		string(leg.Leg.Action), leg.OrderID,
		leg.FilledQty.String(), leg.FilledPrice.String(), string(leg.Status),
	)
	if err != nil {
		return fmt.Errorf("postgres: insert leg %d of %s: %w", idx, execID, err)
	}
	return nil
}

// ListRecent returns the most recently completed executions, newest first.
func (s *ExecutionStore) ListRecent(ctx context.Context, limit int) ([]domain.ExecutionResult, error) {
	return s.list(ctx, `
		SELECT id, opportunity_id, path_id, path_kind, start_asset,
		       committed_size, realized_profit, state, started_at, completed_at
		FROM executions
		ORDER BY completed_at DESC
		LIMIT $1`, limit)
}

// ListBefore returns executions completed before cutoff, oldest first. It is
// the read half of the archival sweep.
func (s *ExecutionStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.ExecutionResult, error) {
	return s.list(ctx, `
		SELECT id, opportunity_id, path_id, path_kind, start_asset,
		       committed_size, realized_profit, state, started_at, completed_at
		FROM executions
		WHERE completed_at < $1
		ORDER BY completed_at ASC
		LIMIT $2`, cutoff, limit)
}

// DeleteBefore removes executions completed before cutoff and returns the
// number of rows deleted. Legs cascade.
func (s *ExecutionStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.client.Pool().Exec(ctx,
		`DELETE FROM executions WHERE completed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete before %s: %w", cutoff, err)
	}
	return tag.RowsAffected(), nil
}

// SumRealized totals realized profit across executions completed at or after
// since. The sum mixes start assets and is meant for coarse reporting.
func (s *ExecutionStore) SumRealized(ctx context.Context, since time.Time) (decimal.Decimal, error) {
	var raw string
	err := s.client.Pool().QueryRow(ctx,
		`SELECT COALESCE(SUM(realized_profit), 0)::TEXT
		 FROM executions WHERE completed_at >= $1`, since).Scan(&raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("postgres: sum realized: %w", err)
	}
	sum, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("postgres: parse realized sum %q: %w", raw, err)
	}
	return sum, nil
}

func (s *ExecutionStore) list(ctx context.Context, query string, args ...any) ([]domain.ExecutionResult, error) {
	rows, err := s.client.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query executions: %w", err)
	}
	defer rows.Close()

	var results []domain.ExecutionResult
	for rows.Next() {
		res, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate executions: %w", err)
	}

	for i := range results {
		if err := s.loadLegs(ctx, &results[i]); err != nil {
			return nil, err
		}
	}
	return results, nil
}

func scanExecution(rows pgx.Rows) (domain.ExecutionResult, error) {
	var res domain.ExecutionResult
	var kind, start, committed, realized, state string
	err := rows.Scan(&res.ID, &res.OpportunityID, &res.Path.ID, &kind, &start,
		&committed, &realized, &state, &res.StartedAt, &res.CompletedAt)
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("postgres: scan execution: %w", err)
	}
	res.Path.Kind = domain.PathKind(kind)
	res.Path.StartAsset = domain.Asset(start)
	res.State = domain.TerminalState(state)
	if res.CommittedSize, err = decimal.NewFromString(committed); err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("postgres: parse committed_size %q: %w", committed, err)
	}
	if res.RealizedProfit, err = decimal.NewFromString(realized); err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("postgres: parse realized_profit %q: %w", realized, err)
	}
	return res, nil
}

func (s *ExecutionStore) loadLegs(ctx context.Context, res *domain.ExecutionResult) error {
	rows, err := s.client.Pool().Query(ctx, `
		SELECT is_remediation, venue, base_asset, quote_asset, action,
		       order_id, filled_qty, filled_price, status
		FROM execution_legs
		WHERE execution_id = $1
		ORDER BY leg_index ASC`, res.ID)
	if err != nil {
		return fmt.Errorf("postgres: query legs of %s: %w", res.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			remediation                bool
			venue, base, quote, action string
			qty, price, status         string
			out                        domain.LegOutcome
		)
		err := rows.Scan(&remediation, &venue, &base, &quote, &action,
			&out.OrderID, &qty, &price, &status)
		if err != nil {
			return fmt.Errorf("postgres: scan leg of %s: %w", res.ID, err)
		}
		out.Leg = domain.Leg{
			Venue:  domain.Venue(venue),
			Pair:   domain.Pair{Base: domain.Asset(base), Quote: domain.Asset(quote)},
			Action: domain.LegAction(action),
		}
		out.Status = domain.LegStatus(status)
		if out.FilledQty, err = decimal.NewFromString(qty); err != nil {
			return fmt.Errorf("postgres: parse filled_qty %q: %w", qty, err)
		}
		if out.FilledPrice, err = decimal.NewFromString(price); err != nil {
			return fmt.Errorf("postgres: parse filled_price %q: %w", price, err)
		}
		if remediation {
			res.Remediations = append(res.Remediations, out)
		} else {
			res.Legs = append(res.Legs, out)
			res.Path.Legs = append(res.Path.Legs, out.Leg)
		}
	}
	return rows.Err()
}

// Compile-time interface check.
var _ domain.ExecutionStore = (*ExecutionStore)(nil)
