package tracker

import (
	"fmt"
	"time"

	"github.com/alejandrodnm/shadowgate/internal/domain"
)

// GuardInput is everything a guard may look at. Guards are pure predicates:
// no I/O, no shared state, independently testable.
type GuardInput struct {
	Signal         domain.Signal
	Fusion         domain.FusionResult
	Snapshot       domain.MarketSnapshot
	Now            time.Time
	OpenSameSymbol int // non-terminal approved signals currently on this symbol
}

// Guard is a named predicate that may block a signal. The first guard that
// rejects supplies the DecisionEvent's blocker fields.
type Guard struct {
	Name  string
	Check func(in GuardInput) (ok bool, reason string)
}

// GuardConfig holds the thresholds for the built-in guard set.
type GuardConfig struct {
	MinCompositeScore float64       `yaml:"min_composite_score"`
	MaxSpreadBps      float64       `yaml:"max_spread_bps"`
	MaxSnapshotAge    time.Duration `yaml:"max_snapshot_age"`
	MinTTL            time.Duration `yaml:"min_ttl"`
	MaxTTL            time.Duration `yaml:"max_ttl"`
	MaxPerSymbol      int           `yaml:"max_per_symbol"`
}

// DefaultGuardConfig returns conservative production thresholds.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		MinCompositeScore: 0.10,
		MaxSpreadBps:      50,
		MaxSnapshotAge:    5 * time.Second,
		MinTTL:            10 * time.Second,
		MaxTTL:            6 * time.Hour,
		MaxPerSymbol:      3,
	}
}

// DefaultGuards builds the ordered production guard set. Order matters: the
// cheapest checks run first, and the first rejection wins.
func DefaultGuards(cfg GuardConfig) []Guard {
	return []Guard{
		TTLSanityGuard(cfg.MinTTL, cfg.MaxTTL),
		StaleSnapshotGuard(cfg.MaxSnapshotAge),
		ScoreFloorGuard(cfg.MinCompositeScore),
		SpreadCeilingGuard(cfg.MaxSpreadBps),
		SymbolExposureGuard(cfg.MaxPerSymbol),
	}
}

// ScoreFloorGuard blocks signals whose composite score is below the floor.
func ScoreFloorGuard(min float64) Guard {
	return Guard{
		Name: "score_floor",
		Check: func(in GuardInput) (bool, string) {
			if in.Fusion.CompositeScore < min {
				return false, fmt.Sprintf("composite %.4f below floor %.4f", in.Fusion.CompositeScore, min)
			}
			return true, ""
		},
	}
}

// SpreadCeilingGuard blocks when the market spread makes entry too expensive.
func SpreadCeilingGuard(maxBps float64) Guard {
	return Guard{
		Name: "spread_ceiling",
		Check: func(in GuardInput) (bool, string) {
			if in.Snapshot.SpreadBps > maxBps {
				return false, fmt.Sprintf("spread %.1f bps above ceiling %.1f", in.Snapshot.SpreadBps, maxBps)
			}
			return true, ""
		},
	}
}

// StaleSnapshotGuard blocks when the market snapshot is too old to trust.
func StaleSnapshotGuard(maxAge time.Duration) Guard {
	return Guard{
		Name: "stale_snapshot",
		Check: func(in GuardInput) (bool, string) {
			if in.Snapshot.Stale(in.Now, maxAge) {
				return false, fmt.Sprintf("snapshot age %s exceeds %s", in.Now.Sub(in.Snapshot.CapturedAt).Round(time.Millisecond), maxAge)
			}
			return true, ""
		},
	}
}

// TTLSanityGuard blocks signals whose TTL is out of range or already spent.
func TTLSanityGuard(min, max time.Duration) Guard {
	return Guard{
		Name: "ttl_sanity",
		Check: func(in GuardInput) (bool, string) {
			if in.Signal.TTL < min || in.Signal.TTL > max {
				return false, fmt.Sprintf("ttl %s outside [%s, %s]", in.Signal.TTL, min, max)
			}
			if in.Signal.Expired(in.Now) {
				return false, "signal already expired at evaluation time"
			}
			return true, ""
		},
	}
}

// SymbolExposureGuard caps concurrent approved signals per symbol.
func SymbolExposureGuard(max int) Guard {
	return Guard{
		Name: "symbol_exposure",
		Check: func(in GuardInput) (bool, string) {
			if max > 0 && in.OpenSameSymbol >= max {
				return false, fmt.Sprintf("%d open signals on %s, cap %d", in.OpenSameSymbol, in.Signal.Symbol, max)
			}
			return true, ""
		},
	}
}

// evaluate runs the guard chain and returns the first rejection.
func evaluate(guards []Guard, in GuardInput) (blocked bool, guardName, reason string) {
	for _, g := range guards {
		if ok, why := g.Check(in); !ok {
			return true, g.Name, why
		}
	}
	return false, "", ""
}
