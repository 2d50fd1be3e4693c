package domain

import "time"

// ShadowStatus represents the lifecycle of a simulated position.
type ShadowStatus string

const (
	ShadowStatusOpen       ShadowStatus = "OPEN"
	ShadowStatusClosed     ShadowStatus = "CLOSED"
	ShadowStatusExpired    ShadowStatus = "EXPIRED"
	ShadowStatusIncomplete ShadowStatus = "INCOMPLETE"
)

// ShadowPosition is a simulated trade opened for every signal — approved or
// blocked — to measure the counterfactual outcome. Exactly one per signal_id,
// created at signal generation time.
type ShadowPosition struct {
	SignalID   string
	Symbol     string
	Direction  Direction
	EntryPrice float64
	EntryTime  time.Time
	Status     ShadowStatus
	ExitPrice  float64
	ExitTime   time.Time
	ExitReason ExitReason
	PnL        float64

	// LastPrice is the most recent tick seen for the symbol; used to
	// force-close when the max hold time expires.
	LastPrice   float64
	LastPriceAt time.Time
	MaxHold     time.Duration
}

// Open reports whether the position still needs exit evaluation.
func (p ShadowPosition) Open() bool {
	return p.Status == ShadowStatusOpen
}

// SignedPnL computes the P&L for a fill at exitPrice given the position's
// direction and entry, per unit of notional.
func (p ShadowPosition) SignedPnL(exitPrice float64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	change := (exitPrice - p.EntryPrice) / p.EntryPrice
	if p.Direction == DirectionShort {
		change = -change
	}
	return change
}

// Outcome converts a finished position into the uniform outcome shape.
func (p ShadowPosition) Outcome() TradeOutcome {
	return TradeOutcome{
		SignalID:   p.SignalID,
		Symbol:     p.Symbol,
		Shadow:     true,
		EntryPrice: p.EntryPrice,
		ExitPrice:  p.ExitPrice,
		PnL:        p.PnL,
		ExitReason: p.ExitReason,
		OpenedAt:   p.EntryTime,
		ClosedAt:   p.ExitTime,
		Incomplete: p.Status == ShadowStatusIncomplete,
	}
}
