package domain

import (
	"fmt"
	"math"
)

// Tier is the discrete conviction bucket derived from the composite score.
type Tier string

const (
	TierUltra    Tier = "ULTRA"
	TierHigh     Tier = "HIGH"
	TierMedium   Tier = "MEDIUM"
	TierBaseline Tier = "BASELINE"
	TierLow      Tier = "LOW"
	TierMinimum  Tier = "MINIMUM"
)

// TierEntry maps a score threshold to a tier and its position-size multiplier.
type TierEntry struct {
	Threshold  float64 `yaml:"threshold"`
	Multiplier float64 `yaml:"multiplier"`
	Tier       Tier    `yaml:"tier"`
}

// TierTable is an ordered threshold table. Entries are strictly descending by
// threshold; the last entry must be a catch-all so every score resolves.
type TierTable struct {
	entries []TierEntry
}

// NewTierTable validates and builds a tier table. Thresholds must be strictly
// descending and the final entry must catch every score (threshold = -Inf).
func NewTierTable(entries []TierEntry) (TierTable, error) {
	if len(entries) == 0 {
		return TierTable{}, fmt.Errorf("domain.NewTierTable: empty table")
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].Threshold >= entries[i-1].Threshold {
			return TierTable{}, fmt.Errorf("domain.NewTierTable: thresholds not strictly descending at index %d", i)
		}
	}
	last := entries[len(entries)-1]
	if !math.IsInf(last.Threshold, -1) {
		return TierTable{}, fmt.Errorf("domain.NewTierTable: last entry must be a catch-all (-Inf threshold), got %v", last.Threshold)
	}
	for _, e := range entries {
		if e.Multiplier <= 0 {
			return TierTable{}, fmt.Errorf("domain.NewTierTable: tier %s has non-positive multiplier %v", e.Tier, e.Multiplier)
		}
	}
	cp := make([]TierEntry, len(entries))
	copy(cp, entries)
	return TierTable{entries: cp}, nil
}

// DefaultTierTable returns the production threshold table.
func DefaultTierTable() TierTable {
	t, err := NewTierTable([]TierEntry{
		{Threshold: 0.50, Multiplier: 2.0, Tier: TierUltra},
		{Threshold: 0.35, Multiplier: 1.5, Tier: TierHigh},
		{Threshold: 0.20, Multiplier: 1.2, Tier: TierMedium},
		{Threshold: 0.10, Multiplier: 1.0, Tier: TierBaseline},
		{Threshold: 0.00, Multiplier: 0.6, Tier: TierLow},
		{Threshold: math.Inf(-1), Multiplier: 0.4, Tier: TierMinimum},
	})
	if err != nil {
		panic(err) // table literal is wrong, unreachable in a correct build
	}
	return t
}

// Lookup scans in descending threshold order and returns the first entry
// whose threshold is ≤ score. Ties resolve to the higher threshold because
// the scan is top-down.
func (t TierTable) Lookup(score float64) TierEntry {
	for _, e := range t.entries {
		if e.Threshold <= score {
			return e
		}
	}
	// Unreachable when the table was built via NewTierTable.
	return t.entries[len(t.entries)-1]
}

// Entries returns a copy of the ordered table, for reporting.
func (t TierTable) Entries() []TierEntry {
	cp := make([]TierEntry, len(t.entries))
	copy(cp, t.entries)
	return cp
}
