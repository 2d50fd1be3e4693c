package domain

import "time"

// Decision is the verdict the tracker emits for a signal.
type Decision string

const (
	DecisionApproved Decision = "APPROVED"
	DecisionBlocked  Decision = "BLOCKED"
)

// DecisionEvent records why a signal was approved or blocked. Exactly one per
// signal; append-only, never mutated. Corrections are new events referencing
// the original signal_id.
type DecisionEvent struct {
	SignalID       string
	Decision       Decision
	BlockerGuard   string // empty when approved
	BlockerReason  string // empty when approved
	CompositeScore float64
	Tier           Tier
	SizeMultiplier float64
	Snapshot       MarketSnapshot
	DecidedAt      time.Time
}

// Blocked reports whether the decision rejected the signal.
func (d DecisionEvent) Blocked() bool {
	return d.Decision == DecisionBlocked
}

// TradeOutcome is the uniform shape for real and shadow trade results.
// Downstream analysis never needs to care which kind it is beyond the
// Shadow flag.
type TradeOutcome struct {
	SignalID   string
	Symbol     string
	Shadow     bool
	EntryPrice float64
	ExitPrice  float64
	PnL        float64
	ExitReason ExitReason
	OpenedAt   time.Time
	ClosedAt   time.Time
	Incomplete bool // true when no price stream was available to resolve the exit
}
