// Package learning adapts the fusion weights from consumed trade outcomes.
// Cycles run on a ticker; each cycle replays the window of events since the
// previous one, scores every component by expectancy, measures every guard
// against the shadow outcomes of the signals it blocked, and publishes one
// new WeightSet version shifted toward what worked — never more than the
// bounded step the domain allows. A cycle that cannot complete aborts whole:
// the previous WeightSet stays authoritative.
package learning

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/shadowgate/internal/bus"
	"github.com/alejandrodnm/shadowgate/internal/domain"
	"github.com/alejandrodnm/shadowgate/internal/health"
	"github.com/alejandrodnm/shadowgate/internal/ports"
)

// Config holds the learning cadence and sensitivity.
type Config struct {
	Cadence      time.Duration
	MinSamples   int     // usable outcomes required before any adjustment
	LearningRate float64 // expectancy multiplier before the domain clamp
}

// DefaultConfig returns production settings.
func DefaultConfig() Config {
	return Config{
		Cadence:      5 * time.Minute,
		MinSamples:   10,
		LearningRate: 4.0,
	}
}

// cursorName keys the engine's consumed-sequence cursor in the store.
const cursorName = "learning"

// Engine runs the adaptation loop.
type Engine struct {
	cfg     Config
	bus     *bus.Bus
	weights ports.WeightStore
	states  ports.StateStore
	cursors ports.CursorStore
	status  *health.Recorder

	lastSeq      int64 // highest event consumed by a completed cycle
	cursorLoaded bool
	lastGuards   []domain.GuardEffectiveness
}

// New builds an Engine with all dependencies injected.
func New(cfg Config, b *bus.Bus, weights ports.WeightStore, states ports.StateStore, cursors ports.CursorStore, status *health.Recorder) *Engine {
	return &Engine{cfg: cfg, bus: b, weights: weights, states: states, cursors: cursors, status: status}
}

// Run executes cycles on the configured cadence until the context is
// cancelled. A failed cycle is logged and recorded; the loop keeps going.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.Cadence)
	defer ticker.Stop()

	slog.Info("learning engine starting", "cadence", e.cfg.Cadence, "min_samples", e.cfg.MinSamples)

	for {
		select {
		case <-ctx.Done():
			slog.Info("learning engine stopped")
			return nil
		case <-ticker.C:
			if err := e.Cycle(ctx); err != nil {
				e.status.LearningCycle("aborted")
				e.status.RecordError(health.ClassLearning, "", err)
				slog.Warn("learning cycle aborted, previous weights stay", "err", err)
				continue
			}
			e.status.LearningCycle("ok")
		}
	}
}

// GuardRecords returns the guard effectiveness computed by the last completed
// cycle, for the analytics reporter and the console summary.
func (e *Engine) GuardRecords() []domain.GuardEffectiveness {
	return e.lastGuards
}

// Cycle runs one learning pass. All-or-nothing: any validation or store
// failure returns a *domain.LearningError and leaves every piece of state —
// weights, signal lifecycle, consumed-sequence cursor — exactly as it was.
func (e *Engine) Cycle(ctx context.Context) error {
	if !e.cursorLoaded {
		seq, err := e.cursors.Cursor(ctx, cursorName)
		if err != nil {
			return &domain.LearningError{Reason: "loading consumed-sequence cursor", Err: err}
		}
		e.lastSeq = seq
		e.cursorLoaded = true
	}

	window := NewWindow()
	var maxSeq int64
	err := e.bus.Replay(ctx, e.lastSeq, func(ev domain.Event) error {
		if ev.Seq > maxSeq {
			maxSeq = ev.Seq
		}
		// An outcome whose signal is already LEARNED was consumed by an
		// earlier cycle; re-counting it would bump the weights on no new
		// evidence.
		if ev.Kind == domain.EventOutcome {
			state, found, err := e.states.SignalState(ctx, ev.SignalID)
			if err != nil {
				return err
			}
			if found && state == domain.StateLearned {
				return nil
			}
		}
		window.Add(ev)
		return nil
	})
	if err != nil {
		return &domain.LearningError{Reason: "event replay failed", Err: err}
	}

	if err := validateOutcomes(window.Outcomes); err != nil {
		return err
	}

	usable := window.Usable()
	if len(usable) < e.cfg.MinSamples {
		return &domain.LearningError{
			Reason: fmt.Sprintf("insufficient samples: %d usable outcomes, need %d", len(usable), e.cfg.MinSamples),
		}
	}

	stats := ComponentStats(window)
	guards := GuardRecords(window)

	current, err := e.weights.CurrentWeights(ctx)
	if err != nil {
		return &domain.LearningError{Reason: "reading current weights", Err: err}
	}

	next := e.adjust(current, stats)
	if err := e.weights.PublishWeights(ctx, next); err != nil {
		return &domain.LearningError{Reason: "publishing weights", Err: err}
	}

	e.markLearned(ctx, window)
	if err := e.cursors.SetCursor(ctx, cursorName, maxSeq); err != nil {
		// The cycle already completed; the LEARNED filter above keeps a
		// stale cursor from double-counting after a restart.
		e.status.RecordError(health.ClassIO, "", err)
		slog.Warn("learning: cursor persist failed", "seq", maxSeq, "err", err)
	}
	e.lastSeq = maxSeq
	e.lastGuards = guards

	slog.Info("learning cycle complete",
		"version", next.Version,
		"outcomes", len(usable),
		"components", len(stats),
		"guards", len(guards))
	for _, g := range guards {
		slog.Info("guard effectiveness",
			"guard", g.GuardName,
			"blocked", g.BlockedCount,
			"avoided_loss", g.AvoidedLoss,
			"missed_profit", g.MissedProfit,
			"net_effect", g.NetEffect)
	}
	return nil
}

// adjust shifts each component weight toward its expectancy. The domain clamp
// in Rebalanced bounds the relative step and enforces the floor, so an
// extreme window can never swing the gate violently.
func (e *Engine) adjust(current domain.WeightSet, stats []domain.ComponentStat) domain.WeightSet {
	target := make(map[string]float64, len(current.Weights))
	expectancy := make(map[string]float64, len(stats))
	for _, s := range stats {
		expectancy[s.Component] = s.Expectancy
	}
	for name, w := range current.Weights {
		exp, sampled := expectancy[name]
		if !sampled {
			target[name] = w // no evidence this window, leave it alone
			continue
		}
		target[name] = w * (1 + e.cfg.LearningRate*exp)
	}
	return current.Rebalanced(target, time.Now().UTC())
}

// markLearned advances every signal whose outcome this cycle consumed to
// LEARNED. Incomplete outcomes count as consumed too — the signal is done,
// it just never contributed to aggregates. Illegal edges are skipped: the
// signal was already flagged by whoever broke its lifecycle.
func (e *Engine) markLearned(ctx context.Context, w *Window) {
	for _, o := range w.Outcomes {
		state, found, err := e.states.SignalState(ctx, o.SignalID)
		if err != nil {
			e.status.RecordError(health.ClassIO, o.SignalID, err)
			continue
		}
		if !found || state == domain.StateLearned {
			continue
		}
		if err := domain.Transition(o.SignalID, state, domain.StateLearned); err != nil {
			slog.Debug("learning: signal not ready for LEARNED", "signal_id", o.SignalID, "state", state)
			continue
		}
		if err := e.states.SetSignalState(ctx, o.SignalID, domain.StateLearned); err != nil {
			e.status.RecordError(health.ClassIO, o.SignalID, err)
		}
	}
}
