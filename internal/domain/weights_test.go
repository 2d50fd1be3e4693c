package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWeightSet_EnforcesFloor(t *testing.T) {
	_, err := NewWeightSet(map[string]float64{"ofi": 0.04}, time.Now())
	assert.Error(t, err)

	ws, err := NewWeightSet(map[string]float64{"ofi": 0.05}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), ws.Version)
}

func TestNewWeightSet_RejectsNonFinite(t *testing.T) {
	_, err := NewWeightSet(map[string]float64{"ofi": nan()}, time.Now())
	assert.Error(t, err)
}

func TestRebalanced_ClampsRelativeChange(t *testing.T) {
	ws, err := NewWeightSet(map[string]float64{"ofi": 0.50, "funding": 0.50}, time.Now())
	require.NoError(t, err)

	next := ws.Rebalanced(map[string]float64{
		"ofi":     1.00, // wants +100%, clamped to +20%
		"funding": 0.10, // wants −80%, clamped to −20%
	}, time.Now())

	assert.Equal(t, int64(2), next.Version)
	assert.InDelta(t, 0.60, next.Weights["ofi"], 1e-9)
	assert.InDelta(t, 0.40, next.Weights["funding"], 1e-9)

	// Original set untouched.
	assert.InDelta(t, 0.50, ws.Weights["ofi"], 1e-9)
}

func TestRebalanced_NeverBelowFloor(t *testing.T) {
	ws, err := NewWeightSet(map[string]float64{"ofi": 0.06}, time.Now())
	require.NoError(t, err)

	// −20% of 0.06 is 0.048, below the floor → pinned at 0.05.
	next := ws.Rebalanced(map[string]float64{"ofi": 0.0}, time.Now())
	assert.InDelta(t, WeightFloor, next.Weights["ofi"], 1e-9)
}

func TestRebalanced_InvariantHoldsUnderRepeatedCycles(t *testing.T) {
	ws, err := NewWeightSet(map[string]float64{"a": 0.30, "b": 0.70}, time.Now())
	require.NoError(t, err)

	targets := []map[string]float64{
		{"a": 2.0, "b": 0.0},
		{"a": 0.0, "b": 2.0},
		{"a": 0.05, "b": 0.05},
	}
	for cycle := 0; cycle < 30; cycle++ {
		prev := ws
		ws = ws.Rebalanced(targets[cycle%len(targets)], time.Now())
		assert.Equal(t, prev.Version+1, ws.Version)
		for name, w := range ws.Weights {
			old := prev.Weights[name]
			rel := (w - old) / old
			assert.LessOrEqual(t, rel, MaxWeightStep+1e-9, "cycle %d %s", cycle, name)
			assert.GreaterOrEqual(t, rel, -MaxWeightStep-1e-9, "cycle %d %s", cycle, name)
			assert.GreaterOrEqual(t, w, WeightFloor, "cycle %d %s", cycle, name)
		}
	}
}

func TestRebalanced_MissingTargetKeepsWeight(t *testing.T) {
	ws, err := NewWeightSet(map[string]float64{"a": 0.30, "b": 0.70}, time.Now())
	require.NoError(t, err)

	next := ws.Rebalanced(map[string]float64{"a": 0.35}, time.Now())
	assert.InDelta(t, 0.35, next.Weights["a"], 1e-9)
	assert.InDelta(t, 0.70, next.Weights["b"], 1e-9)
}

func nan() float64 {
	var zero float64
	return zero / zero
}
