package domain

import "fmt"

// DataIntegrityError flags an illegal state transition or a duplicate
// signal_id. The affected signal is marked for inspection; the pipeline keeps
// running for every other signal.
type DataIntegrityError struct {
	SignalID string
	Op       string
	Detail   string
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("data integrity: %s: signal %s: %s", e.Op, e.SignalID, e.Detail)
}

// TransientIOError wraps a log append/read failure that should be retried
// with backoff and buffered rather than dropped.
type TransientIOError struct {
	Op  string
	Err error
}

func (e *TransientIOError) Error() string {
	return fmt.Sprintf("transient io: %s: %v", e.Op, e.Err)
}

func (e *TransientIOError) Unwrap() error { return e.Err }

// LearningError aborts a learning cycle cleanly: the previous WeightSet stays
// authoritative and the failure is recorded in the health status.
type LearningError struct {
	Reason string
	Err    error
}

func (e *LearningError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("learning cycle aborted: %s", e.Reason)
	}
	return fmt.Sprintf("learning cycle aborted: %s: %v", e.Reason, e.Err)
}

func (e *LearningError) Unwrap() error { return e.Err }

// ShadowSimError marks a single shadow position as unresolvable (missing
// price data). Only the affected position becomes INCOMPLETE.
type ShadowSimError struct {
	SignalID string
	Detail   string
}

func (e *ShadowSimError) Error() string {
	return fmt.Sprintf("shadow simulation: signal %s: %s", e.SignalID, e.Detail)
}
