// Package tracker implements the decision path: it evaluates every incoming
// signal against the gate (fusion + guards), emits exactly one immutable
// DecisionEvent per signal, and drives the signal lifecycle state machine.
package tracker

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/shadowgate/internal/bus"
	"github.com/alejandrodnm/shadowgate/internal/domain"
	"github.com/alejandrodnm/shadowgate/internal/health"
	"github.com/alejandrodnm/shadowgate/internal/ports"
)

// Config holds the tracker's tunables.
type Config struct {
	Guards         GuardConfig
	TierTable      domain.TierTable
	SweepEvery     time.Duration // TTL expiry sweep cadence
	DefaultWeights map[string]float64
}

// DefaultConfig returns production settings.
func DefaultConfig() Config {
	return Config{
		Guards:     DefaultGuardConfig(),
		TierTable:  domain.DefaultTierTable(),
		SweepEvery: 5 * time.Second,
		DefaultWeights: map[string]float64{
			"ofi":         0.30,
			"funding":     0.25,
			"liquidation": 0.25,
			"momentum":    0.20,
		},
	}
}

// Tracker consumes SIGNAL events and produces DECISION events.
type Tracker struct {
	cfg     Config
	bus     *bus.Bus
	states  ports.StateStore
	weights ports.WeightStore
	prices  ports.PriceProvider
	status  *health.Recorder
	guards  []Guard

	mu           sync.Mutex
	openBySymbol map[string]int // approved, not yet terminal, per symbol
}

// New builds a Tracker with all dependencies injected.
func New(
	cfg Config,
	b *bus.Bus,
	states ports.StateStore,
	weights ports.WeightStore,
	prices ports.PriceProvider,
	status *health.Recorder,
) *Tracker {
	return &Tracker{
		cfg:          cfg,
		bus:          b,
		states:       states,
		weights:      weights,
		prices:       prices,
		status:       status,
		guards:       DefaultGuards(cfg.Guards),
		openBySymbol: make(map[string]int),
	}
}

// Run consumes signals from the bus until the context is cancelled. The TTL
// sweep runs on its own ticker inside the same loop; neither ever blocks the
// other for long since decisions are per-signal and fast.
func (t *Tracker) Run(ctx context.Context) error {
	if err := t.Recover(ctx); err != nil {
		return err
	}

	sub := t.bus.Subscribe("tracker", 512)
	defer t.bus.Unsubscribe(sub)

	ticker := time.NewTicker(t.cfg.SweepEvery)
	defer ticker.Stop()

	slog.Info("tracker starting", "guards", len(t.guards), "sweep", t.cfg.SweepEvery)

	for {
		select {
		case <-ctx.Done():
			slog.Info("tracker stopped")
			return nil
		case <-ticker.C:
			t.SweepExpired(ctx, time.Now().UTC())
		case ev, ok := <-sub.C:
			if !ok {
				return nil
			}
			if ev.Kind != domain.EventSignal || ev.Signal == nil {
				continue
			}
			t.Decide(ctx, *ev.Signal)
		}
	}
}

// Decide evaluates one signal end to end. Idempotent on signal_id: a signal
// already past EVALUATING is skipped without side effects.
func (t *Tracker) Decide(ctx context.Context, sig domain.Signal) {
	state, found, err := t.states.SignalState(ctx, sig.SignalID)
	if err != nil {
		t.status.RecordError(health.ClassIO, sig.SignalID, err)
		slog.Warn("tracker: state lookup failed", "signal_id", sig.SignalID, "err", err)
		return
	}
	if found && state != domain.StateGenerated {
		slog.Debug("tracker: signal already decided, skipping", "signal_id", sig.SignalID, "state", state)
		return
	}

	if err := t.advance(ctx, sig.SignalID, state, domain.StateEvaluating); err != nil {
		return
	}

	now := time.Now().UTC()

	snapshot, err := t.prices.Snapshot(ctx, sig.Symbol)
	if err != nil {
		// Sin mercado no hay decisión fiable: bloquear con razón explícita
		// antes que aprobar a ciegas.
		t.status.RecordError(health.ClassIO, sig.SignalID, err)
		snapshot = domain.MarketSnapshot{CapturedAt: time.Time{}}
	}

	ws, err := t.weights.CurrentWeights(ctx)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			t.status.RecordError(health.ClassIO, sig.SignalID, err)
		}
		ws = t.bootstrapWeights(ctx, now)
	}

	fusion := domain.Fuse(sig.ComponentScores, ws, t.cfg.TierTable)

	in := GuardInput{
		Signal:         sig,
		Fusion:         fusion,
		Snapshot:       snapshot,
		Now:            now,
		OpenSameSymbol: t.openCount(sig.Symbol),
	}
	blocked, guardName, reason := evaluate(t.guards, in)

	decision := domain.DecisionEvent{
		SignalID:       sig.SignalID,
		Decision:       domain.DecisionApproved,
		CompositeScore: fusion.CompositeScore,
		Tier:           fusion.Tier,
		SizeMultiplier: fusion.SizeMultiplier,
		Snapshot:       snapshot,
		DecidedAt:      now,
	}
	next := domain.StateApproved
	if blocked {
		decision.Decision = domain.DecisionBlocked
		decision.BlockerGuard = guardName
		decision.BlockerReason = reason
		next = domain.StateBlocked
	}

	if _, err := t.bus.Publish(ctx, domain.Event{
		SignalID:   sig.SignalID,
		Kind:       domain.EventDecision,
		RecordedAt: now,
		Decision:   &decision,
	}); err != nil {
		var integrity *domain.DataIntegrityError
		if errors.As(err, &integrity) {
			// Decisión ya registrada (replay): no hay cambio de estado extra.
			slog.Debug("tracker: decision already recorded", "signal_id", sig.SignalID)
			return
		}
		slog.Warn("tracker: decision publish failed, buffered", "signal_id", sig.SignalID, "err", err)
	}

	if err := t.advance(ctx, sig.SignalID, domain.StateEvaluating, next); err != nil {
		return
	}

	if next == domain.StateApproved {
		t.adjustOpen(sig.Symbol, +1)
	}
	t.status.DecisionMade(string(decision.Decision))

	slog.Info("tracker: decision",
		"signal_id", sig.SignalID,
		"symbol", sig.Symbol,
		"decision", decision.Decision,
		"score", decision.CompositeScore,
		"tier", decision.Tier,
		"blocker", decision.BlockerGuard,
	)
}

// ReportExecuting records that the execution layer picked up an approved
// signal. The transition is validated against the stored state, never an
// assumed one: a signal that was BLOCKED or EXPIRED stays where it is.
func (t *Tracker) ReportExecuting(ctx context.Context, signalID string) error {
	state, err := t.currentState(ctx, signalID, "report executing")
	if err != nil {
		return err
	}
	return t.advance(ctx, signalID, state, domain.StateExecuting)
}

// ReportExecuted records a real fill and publishes its outcome.
func (t *Tracker) ReportExecuted(ctx context.Context, outcome domain.TradeOutcome) error {
	state, err := t.currentState(ctx, outcome.SignalID, "report executed")
	if err != nil {
		return err
	}
	if err := t.advance(ctx, outcome.SignalID, state, domain.StateExecuted); err != nil {
		return err
	}
	t.adjustOpen(outcome.Symbol, -1)

	outcome.Shadow = false
	_, err = t.bus.Publish(ctx, domain.Event{
		SignalID:   outcome.SignalID,
		Kind:       domain.EventOutcome,
		RecordedAt: time.Now().UTC(),
		Outcome:    &outcome,
	})
	return err
}

// SweepExpired force-transitions every signal whose TTL lapsed without
// reaching EXECUTED. Run drives it on its ticker; it is exported for
// deterministic sweeps in tests and tooling.
func (t *Tracker) SweepExpired(ctx context.Context, now time.Time) {
	signals, err := t.states.ActiveSignals(ctx)
	if err != nil {
		t.status.RecordError(health.ClassIO, "", err)
		return
	}

	for _, sig := range signals {
		if !sig.Expired(now) {
			continue
		}
		state, _, err := t.states.SignalState(ctx, sig.SignalID)
		if err != nil || state == domain.StateExecuted || state == domain.StateLearned {
			continue
		}
		if err := t.advance(ctx, sig.SignalID, state, domain.StateExpired); err != nil {
			continue
		}
		if state == domain.StateApproved || state == domain.StateExecuting {
			t.adjustOpen(sig.Symbol, -1)
		}
		slog.Info("tracker: signal expired", "signal_id", sig.SignalID, "ttl", sig.TTL)
	}
}

// Recover rebuilds the in-memory per-symbol exposure counter from the store
// so the symbol cap keeps holding across restarts. Run calls it on startup.
func (t *Tracker) Recover(ctx context.Context) error {
	signals, err := t.states.ActiveSignals(ctx)
	if err != nil {
		return err
	}

	counts := make(map[string]int)
	for _, sig := range signals {
		state, found, err := t.states.SignalState(ctx, sig.SignalID)
		if err != nil {
			return err
		}
		if found && (state == domain.StateApproved || state == domain.StateExecuting) {
			counts[sig.Symbol]++
		}
	}

	t.mu.Lock()
	t.openBySymbol = counts
	t.mu.Unlock()
	if len(counts) > 0 {
		slog.Info("tracker recovered open exposure", "symbols", len(counts))
	}
	return nil
}

// currentState reads the stored lifecycle state; an unknown signal is an
// integrity violation, not a default.
func (t *Tracker) currentState(ctx context.Context, signalID, op string) (domain.SignalState, error) {
	state, found, err := t.states.SignalState(ctx, signalID)
	if err != nil {
		t.status.RecordError(health.ClassIO, signalID, err)
		return "", err
	}
	if !found {
		ierr := &domain.DataIntegrityError{SignalID: signalID, Op: op, Detail: "unknown signal"}
		t.flagIntegrity(ctx, signalID, op, ierr)
		return "", ierr
	}
	return state, nil
}

// advance validates and records one state transition. Illegal edges flag the
// signal for inspection and leave it untouched — never force-advanced.
func (t *Tracker) advance(ctx context.Context, signalID string, from, to domain.SignalState) error {
	if err := domain.Transition(signalID, from, to); err != nil {
		t.flagIntegrity(ctx, signalID, "transition", err)
		return err
	}
	if err := t.states.SetSignalState(ctx, signalID, to); err != nil {
		var integrity *domain.DataIntegrityError
		if errors.As(err, &integrity) {
			t.flagIntegrity(ctx, signalID, "set state", err)
		} else {
			t.status.RecordError(health.ClassIO, signalID, err)
		}
		return err
	}
	return nil
}

// flagIntegrity records the violation and appends an inspection marker to the
// log; decisioning continues for every other signal.
func (t *Tracker) flagIntegrity(ctx context.Context, signalID, op string, cause error) {
	t.status.RecordError(health.ClassIntegrity, signalID, cause)
	slog.Error("tracker: integrity violation, signal flagged", "signal_id", signalID, "op", op, "err", cause)

	now := time.Now().UTC()
	t.bus.Publish(ctx, domain.Event{
		SignalID:   signalID,
		Kind:       domain.EventIntegrity,
		RecordedAt: now,
		Integrity: &domain.IntegrityFlag{
			SignalID:  signalID,
			Op:        op,
			Detail:    cause.Error(),
			FlaggedAt: now,
		},
	})
}

// bootstrapWeights publishes the configured default WeightSet the first time
// the pipeline runs against an empty store.
func (t *Tracker) bootstrapWeights(ctx context.Context, now time.Time) domain.WeightSet {
	ws, err := domain.NewWeightSet(t.cfg.DefaultWeights, now)
	if err != nil {
		slog.Error("tracker: invalid default weights", "err", err)
		ws, _ = domain.NewWeightSet(map[string]float64{"composite": 1.0}, now)
	}
	if err := t.weights.PublishWeights(ctx, ws); err != nil {
		// Otra instancia pudo publicarlos primero; releer.
		if current, rerr := t.weights.CurrentWeights(ctx); rerr == nil {
			return current
		}
	}
	return ws
}

func (t *Tracker) openCount(symbol string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.openBySymbol[symbol]
}

func (t *Tracker) adjustOpen(symbol string, delta int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.openBySymbol[symbol] + delta
	if n <= 0 {
		delete(t.openBySymbol, symbol)
		return
	}
	t.openBySymbol[symbol] = n
}
