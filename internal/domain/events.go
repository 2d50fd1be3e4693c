package domain

import "time"

// EventKind discriminates the payload carried by a bus event.
type EventKind string

const (
	EventSignal    EventKind = "SIGNAL"
	EventDecision  EventKind = "DECISION"
	EventOutcome   EventKind = "OUTCOME"
	EventIntegrity EventKind = "INTEGRITY"
)

// Event is the append-only log envelope. Seq is assigned by the bus under its
// writer lock and is strictly monotonic within a log.
type Event struct {
	Seq        int64
	SignalID   string
	Kind       EventKind
	RecordedAt time.Time

	// Exactly one of the following is set, matching Kind.
	Signal    *Signal
	Decision  *DecisionEvent
	Outcome   *TradeOutcome
	Integrity *IntegrityFlag
}

// IntegrityFlag marks a signal for manual inspection after a rejected
// transition or duplicate write. The signal itself is left untouched.
type IntegrityFlag struct {
	SignalID  string
	Op        string
	Detail    string
	FlaggedAt time.Time
}
