package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LegStatus tracks one leg's lifecycle within an execution.
type LegStatus string

const (
	LegPending  LegStatus = "pending"
	LegFilled   LegStatus = "filled"
	LegTimedOut LegStatus = "timed_out"
	LegRejected LegStatus = "rejected"
)

// TerminalState is the final state of a committed execution.
type TerminalState string

const (
	// Completed means every leg filled, or a failed leg was successfully
	// remediated (possibly at a loss).
	Completed TerminalState = "completed"
	// RolledBack means the first leg never filled, so no asset was converted
	// and nothing needed remediation.
	RolledBack TerminalState = "rolled_back"
	// PartiallyStranded means a later leg failed and the remediation order
	// also failed; inventory is stranded in an intermediate asset.
	PartiallyStranded TerminalState = "partially_stranded"
)

// LegOutcome records what actually happened to one leg.
type LegOutcome struct {
	Leg         Leg
	OrderID     string
	FilledQty   decimal.Decimal // in the leg's produced asset
	FilledPrice decimal.Decimal
	Status      LegStatus
}

// ExecutionResult is created once per committed opportunity and handed to the
// persistence collaborator.
type ExecutionResult struct {
	ID            string
	OpportunityID string
	Path          Path
	Legs          []LegOutcome
	// Remediations records the liquidation orders issued after a leg
	// failure. A terminal partial fill can leave balances in two assets
	// (the partial output and the unconverted input), so there may be more
	// than one.
	Remediations   []LegOutcome
	CommittedSize  decimal.Decimal
	RealizedProfit decimal.Decimal // in StartAsset, negative on remediated loss
	State          TerminalState
	StartedAt      time.Time
	CompletedAt    time.Time
}
