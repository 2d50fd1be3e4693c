package domain

import (
	"fmt"
	"math"
	"time"
)

const (
	// WeightFloor is the minimum weight any component may carry. A component
	// never drops to zero influence, so a recovering signal can still move
	// the composite score and regain weight in later learning cycles.
	WeightFloor = 0.05

	// MaxWeightStep bounds the relative change of any single weight per
	// learning cycle. Keeps the scoring function numerically stable even if
	// one window produces an extreme expectancy estimate.
	MaxWeightStep = 0.20
)

// WeightSet is the versioned mapping from component name to weight. It is an
// immutable value: LearningEngine replaces it wholesale with a new version,
// readers always see a complete set.
type WeightSet struct {
	Version   int64
	Weights   map[string]float64
	UpdatedAt time.Time
}

// NewWeightSet builds version 1 from the given weights, enforcing the floor
// at construction rather than at every call site.
func NewWeightSet(weights map[string]float64, at time.Time) (WeightSet, error) {
	if len(weights) == 0 {
		return WeightSet{}, fmt.Errorf("domain.NewWeightSet: no weights")
	}
	cp := make(map[string]float64, len(weights))
	for name, w := range weights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return WeightSet{}, fmt.Errorf("domain.NewWeightSet: weight %q is not finite", name)
		}
		if w < WeightFloor {
			return WeightSet{}, fmt.Errorf("domain.NewWeightSet: weight %q = %v below floor %v", name, w, WeightFloor)
		}
		cp[name] = w
	}
	return WeightSet{Version: 1, Weights: cp, UpdatedAt: at}, nil
}

// Weight returns the weight for a component, or 0 if the component is not in
// the set (unknown components never move the score).
func (ws WeightSet) Weight(component string) float64 {
	return ws.Weights[component]
}

// Rebalanced returns a new WeightSet moved toward target, with every per-weight
// relative change clamped to MaxWeightStep and the result floored at
// WeightFloor. Components absent from target keep their current weight.
// The version is bumped and the receiver is left untouched.
func (ws WeightSet) Rebalanced(target map[string]float64, at time.Time) WeightSet {
	next := make(map[string]float64, len(ws.Weights))
	for name, old := range ws.Weights {
		want, ok := target[name]
		if !ok || math.IsNaN(want) || math.IsInf(want, 0) {
			next[name] = old
			continue
		}
		next[name] = clampStep(old, want)
	}
	return WeightSet{Version: ws.Version + 1, Weights: next, UpdatedAt: at}
}

// clampStep moves old toward want, limited to MaxWeightStep relative change
// and never below WeightFloor.
func clampStep(old, want float64) float64 {
	maxUp := old * (1 + MaxWeightStep)
	maxDown := old * (1 - MaxWeightStep)
	w := want
	if w > maxUp {
		w = maxUp
	}
	if w < maxDown {
		w = maxDown
	}
	if w < WeightFloor {
		w = WeightFloor
	}
	return w
}

// Clone returns a deep copy, for callers that need to hand the map to
// something that may retain it.
func (ws WeightSet) Clone() WeightSet {
	cp := make(map[string]float64, len(ws.Weights))
	for k, v := range ws.Weights {
		cp[k] = v
	}
	return WeightSet{Version: ws.Version, Weights: cp, UpdatedAt: ws.UpdatedAt}
}
