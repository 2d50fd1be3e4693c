package domain

import "time"

// ExitReason identifies which exit rule closed a position. Ordered by
// precedence: when several rules fire on the same tick, the lowest value wins.
type ExitReason int

const (
	ExitNone ExitReason = iota
	ExitStopLoss
	ExitProfitTarget
	ExitMaxHold
	ExitTTLExpiry
	ExitIncomplete
)

func (r ExitReason) String() string {
	switch r {
	case ExitNone:
		return "none"
	case ExitStopLoss:
		return "stop_loss"
	case ExitProfitTarget:
		return "profit_target"
	case ExitMaxHold:
		return "max_hold"
	case ExitTTLExpiry:
		return "ttl_expiry"
	case ExitIncomplete:
		return "incomplete"
	default:
		return "unknown"
	}
}

// ExitRules is the rule set shared by live trading and the shadow engine.
// Both paths MUST evaluate the same rules; that is what makes shadow outcomes
// comparable with real ones.
type ExitRules struct {
	StopLossPct     float64       // e.g. 0.02 → close at −2% move against the position
	ProfitTargetPct float64       // e.g. 0.03 → close at +3% move in favour
	MaxHold         time.Duration // time-based exit, evaluated even without a fresh tick
}

// ExitDecision is the outcome of evaluating the rules against one price tick.
type ExitDecision struct {
	ShouldExit bool
	Reason     ExitReason
	ExitPrice  float64
}

// Evaluate applies the rules to an open position at one observed price.
// Precedence: stop-loss, then profit target, then max hold time.
func (r ExitRules) Evaluate(pos ShadowPosition, price float64, now time.Time) ExitDecision {
	change := pos.SignedPnL(price)

	if r.StopLossPct > 0 && change <= -r.StopLossPct {
		return ExitDecision{ShouldExit: true, Reason: ExitStopLoss, ExitPrice: price}
	}
	if r.ProfitTargetPct > 0 && change >= r.ProfitTargetPct {
		return ExitDecision{ShouldExit: true, Reason: ExitProfitTarget, ExitPrice: price}
	}
	if r.MaxHold > 0 && now.Sub(pos.EntryTime) >= r.MaxHold {
		return ExitDecision{ShouldExit: true, Reason: ExitMaxHold, ExitPrice: price}
	}
	return ExitDecision{}
}
