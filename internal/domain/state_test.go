package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransition_LegalPath(t *testing.T) {
	path := []SignalState{
		StateGenerated, StateEvaluating, StateApproved,
		StateExecuting, StateExecuted, StateLearned,
	}
	for i := 1; i < len(path); i++ {
		assert.NoError(t, Transition("sig-1", path[i-1], path[i]))
	}
}

func TestTransition_BlockedGoesStraightToLearned(t *testing.T) {
	require.NoError(t, Transition("sig-1", StateEvaluating, StateBlocked))
	assert.NoError(t, Transition("sig-1", StateBlocked, StateLearned))
}

func TestTransition_ExecutingRequiresApproved(t *testing.T) {
	for _, from := range []SignalState{StateGenerated, StateEvaluating, StateBlocked, StateExpired} {
		err := Transition("sig-1", from, StateExecuting)
		require.Error(t, err, "from %s", from)

		var integrity *DataIntegrityError
		assert.True(t, errors.As(err, &integrity))
		assert.Equal(t, "sig-1", integrity.SignalID)
	}
}

func TestTransition_TTLExpiryFromNonTerminalStates(t *testing.T) {
	for _, from := range []SignalState{StateGenerated, StateEvaluating, StateApproved, StateExecuting, StateBlocked} {
		assert.NoError(t, Transition("sig-1", from, StateExpired), "from %s", from)
	}
}

func TestTransition_TerminalStateRejectsEverything(t *testing.T) {
	assert.True(t, StateLearned.Terminal())
	for _, to := range []SignalState{StateGenerated, StateEvaluating, StateApproved, StateBlocked, StateExecuting, StateExecuted, StateExpired, StateLearned} {
		assert.Error(t, Transition("sig-1", StateLearned, to), "to %s", to)
	}
}

func TestTransition_NoBackwardsEdges(t *testing.T) {
	assert.Error(t, Transition("sig-1", StateApproved, StateEvaluating))
	assert.Error(t, Transition("sig-1", StateExecuted, StateExecuting))
	assert.Error(t, Transition("sig-1", StateBlocked, StateApproved))
}
