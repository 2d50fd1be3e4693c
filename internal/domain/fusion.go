package domain

// fusion.go — núcleo de scoring del gate.
//
// Fuse es una función pura de (scores, weights, tabla de tiers) → resultado.
// Sin estado oculto y sin I/O: el shadow engine puede re-ejecutarla para
// replay determinista, y los tests la ejercitan sin mocks.

// FusionResult is the composite verdict of one scoring pass.
type FusionResult struct {
	CompositeScore float64
	Tier           Tier
	SizeMultiplier float64
}

// Fuse combines named component scores into a composite score and conviction
// tier. Composite = Σ(score_i × weight_i) over the components present in both
// the signal and the weight set; a missing component contributes 0, it is not
// an error.
func Fuse(scores map[string]float64, ws WeightSet, table TierTable) FusionResult {
	composite := 0.0
	for name, score := range scores {
		composite += score * ws.Weight(name)
	}
	entry := table.Lookup(composite)
	return FusionResult{
		CompositeScore: composite,
		Tier:           entry.Tier,
		SizeMultiplier: entry.Multiplier,
	}
}
