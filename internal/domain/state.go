package domain

// SignalState is a node in the signal lifecycle graph.
type SignalState string

const (
	StateGenerated  SignalState = "GENERATED"
	StateEvaluating SignalState = "EVALUATING"
	StateApproved   SignalState = "APPROVED"
	StateBlocked    SignalState = "BLOCKED"
	StateExecuting  SignalState = "EXECUTING"
	StateExecuted   SignalState = "EXECUTED"
	StateExpired    SignalState = "EXPIRED"
	StateLearned    SignalState = "LEARNED"
)

// legalTransitions is the complete lifecycle graph. Anything not listed here
// is an integrity violation.
//
//	GENERATED → EVALUATING → {APPROVED, BLOCKED}
//	APPROVED  → EXECUTING → {EXECUTED, EXPIRED}
//	BLOCKED   → LEARNED            (once its shadow outcome is consumed)
//	EXECUTED  → LEARNED
//	EXPIRED   → LEARNED
//
// Any non-terminal state may force-transition to EXPIRED when the TTL lapses.
var legalTransitions = map[SignalState][]SignalState{
	StateGenerated:  {StateEvaluating, StateExpired},
	StateEvaluating: {StateApproved, StateBlocked, StateExpired},
	StateApproved:   {StateExecuting, StateExpired},
	StateBlocked:    {StateLearned, StateExpired},
	StateExecuting:  {StateExecuted, StateExpired},
	StateExecuted:   {StateLearned},
	StateExpired:    {StateLearned},
	StateLearned:    nil, // terminal
}

// Terminal reports whether the state has no outgoing edges.
func (s SignalState) Terminal() bool {
	return len(legalTransitions[s]) == 0
}

// Transition validates a state change. It returns a *DataIntegrityError for
// any edge not present in the lifecycle graph; the caller decides whether to
// flag the signal, it must never force-advance.
func Transition(signalID string, from, to SignalState) error {
	for _, allowed := range legalTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return &DataIntegrityError{
		SignalID: signalID,
		Op:       "transition",
		Detail:   string(from) + " → " + string(to) + " is not a legal lifecycle edge",
	}
}
