package domain

import "time"

// Direction is the side a signal wants to trade.
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// Signal is a timestamped trading opportunity with named component scores.
// Immutable once created: the pipeline never edits a signal, it only appends
// events that reference it.
type Signal struct {
	SignalID        string
	Symbol          string
	Direction       Direction
	ComponentScores map[string]float64 // each score in [-1, 1]
	GeneratedAt     time.Time
	TTL             time.Duration
}

// ExpiresAt returns the instant after which the signal can no longer execute.
func (s Signal) ExpiresAt() time.Time {
	return s.GeneratedAt.Add(s.TTL)
}

// Expired reports whether the signal's TTL has elapsed at the given instant.
func (s Signal) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt())
}

// MarketSnapshot is the market state frozen at decision time. The shadow
// engine reuses it unchanged as the simulated entry price.
type MarketSnapshot struct {
	Price      float64
	Spread     float64
	SpreadBps  float64
	CapturedAt time.Time
}

// Stale reports whether the snapshot is older than maxAge at the given instant.
func (m MarketSnapshot) Stale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(m.CapturedAt) > maxAge
}

// PriceTick is one observed price for a symbol, consumed by the shadow engine
// to resolve exits.
type PriceTick struct {
	Symbol     string
	Price      float64
	ObservedAt time.Time
}
