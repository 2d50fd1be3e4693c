package domain

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testWeights(t *testing.T) WeightSet {
	t.Helper()
	ws, err := NewWeightSet(map[string]float64{
		"ofi":         0.40,
		"funding":     0.30,
		"liquidation": 0.30,
	}, time.Now())
	require.NoError(t, err)
	return ws
}

func TestFuse_WeightedSum(t *testing.T) {
	ws := testWeights(t)
	res := Fuse(map[string]float64{
		"ofi":         0.5,
		"funding":     -0.2,
		"liquidation": 0.1,
	}, ws, DefaultTierTable())

	// 0.5*0.4 - 0.2*0.3 + 0.1*0.3 = 0.17
	assert.InDelta(t, 0.17, res.CompositeScore, 1e-9)
	assert.Equal(t, TierBaseline, res.Tier)
	assert.Equal(t, 1.0, res.SizeMultiplier)
}

func TestFuse_MissingComponentsContributeZero(t *testing.T) {
	ws := testWeights(t)
	res := Fuse(map[string]float64{"ofi": 1.0}, ws, DefaultTierTable())
	assert.InDelta(t, 0.40, res.CompositeScore, 1e-9)

	// Unknown components carry weight 0, not an error.
	res = Fuse(map[string]float64{"ofi": 1.0, "sentiment": 1.0}, ws, DefaultTierTable())
	assert.InDelta(t, 0.40, res.CompositeScore, 1e-9)
}

func TestFuse_Deterministic(t *testing.T) {
	ws := testWeights(t)
	scores := map[string]float64{"ofi": 0.9, "funding": 0.4, "liquidation": -0.3}
	first := Fuse(scores, ws, DefaultTierTable())
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, Fuse(scores, ws, DefaultTierTable()))
	}
}

func TestTierTable_LookupExamples(t *testing.T) {
	table := DefaultTierTable()

	cases := []struct {
		score      float64
		wantTier   Tier
		wantMult   float64
	}{
		{0.42, TierHigh, 1.5},
		{-0.05, TierMinimum, 0.4},
		{0.00, TierLow, 0.6},
		{0.50, TierUltra, 2.0}, // exact threshold: higher tier wins the tie
		{0.35, TierHigh, 1.5},
		{0.999, TierUltra, 2.0},
		{-1.5, TierMinimum, 0.4},
	}
	for _, tc := range cases {
		entry := table.Lookup(tc.score)
		assert.Equal(t, tc.wantTier, entry.Tier, "score %v", tc.score)
		assert.Equal(t, tc.wantMult, entry.Multiplier, "score %v", tc.score)
	}
}

func TestFuse_SpecExamples(t *testing.T) {
	// composite 0.42 → HIGH/1.5×, composite −0.05 → below LOW threshold.
	ws, err := NewWeightSet(map[string]float64{"c": 1.0}, time.Now())
	require.NoError(t, err)
	table := DefaultTierTable()

	res := Fuse(map[string]float64{"c": 0.42}, ws, table)
	assert.Equal(t, TierHigh, res.Tier)
	assert.Equal(t, 1.5, res.SizeMultiplier)

	res = Fuse(map[string]float64{"c": -0.05}, ws, table)
	assert.Equal(t, TierMinimum, res.Tier)
	assert.Equal(t, 0.4, res.SizeMultiplier)
}

func TestNewTierTable_RejectsBadTables(t *testing.T) {
	_, err := NewTierTable(nil)
	assert.Error(t, err)

	// Not descending.
	_, err = NewTierTable([]TierEntry{
		{Threshold: 0.1, Multiplier: 1, Tier: TierLow},
		{Threshold: 0.2, Multiplier: 1, Tier: TierHigh},
	})
	assert.Error(t, err)

	// No catch-all.
	_, err = NewTierTable([]TierEntry{
		{Threshold: 0.2, Multiplier: 1, Tier: TierHigh},
		{Threshold: 0.1, Multiplier: 1, Tier: TierLow},
	})
	assert.Error(t, err)

	// Catch-all present → ok.
	_, err = NewTierTable([]TierEntry{
		{Threshold: 0.2, Multiplier: 1.5, Tier: TierHigh},
		{Threshold: math.Inf(-1), Multiplier: 0.5, Tier: TierMinimum},
	})
	assert.NoError(t, err)
}
