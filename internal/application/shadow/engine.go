// Package shadow runs the counterfactual execution engine: one simulated
// position per signal — approved or blocked — opened at the decision's frozen
// snapshot price and closed by the same exit rules live trading uses, against
// real subsequent prices.
//
// The engine is fully asynchronous with respect to the decision path: it only
// consumes bus events and price ticks, and its accounting is entirely
// separate from live capital.
package shadow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/shadowgate/internal/bus"
	"github.com/alejandrodnm/shadowgate/internal/domain"
	"github.com/alejandrodnm/shadowgate/internal/health"
	"github.com/alejandrodnm/shadowgate/internal/ports"
)

// Config holds the simulation settings.
type Config struct {
	Exits      domain.ExitRules
	MaxHold    time.Duration // fallback when a position carries none
	SweepEvery time.Duration // cadence of the hold-time / incomplete sweep
}

// DefaultConfig mirrors the live exit configuration.
func DefaultConfig() Config {
	return Config{
		Exits: domain.ExitRules{
			StopLossPct:     0.02,
			ProfitTargetPct: 0.03,
			MaxHold:         time.Hour,
		},
		MaxHold:    time.Hour,
		SweepEvery: 10 * time.Second,
	}
}

// Engine simulates a position for every signal.
type Engine struct {
	cfg     Config
	bus     *bus.Bus
	shadows ports.ShadowStore
	prices  ports.PriceProvider
	status  *health.Recorder

	mu       sync.Mutex
	bySymbol map[string]map[string]*domain.ShadowPosition // symbol → signal_id → position
}

// New builds the engine.
func New(cfg Config, b *bus.Bus, shadows ports.ShadowStore, prices ports.PriceProvider, status *health.Recorder) *Engine {
	if cfg.Exits.MaxHold <= 0 {
		cfg.Exits.MaxHold = cfg.MaxHold
	}
	return &Engine{
		cfg:      cfg,
		bus:      b,
		shadows:  shadows,
		prices:   prices,
		status:   status,
		bySymbol: make(map[string]map[string]*domain.ShadowPosition),
	}
}

// Run recovers open positions from the store, then consumes bus events and
// price ticks until the context is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Recover(ctx); err != nil {
		return err
	}

	sub := e.bus.Subscribe("shadow", 512)
	defer e.bus.Unsubscribe(sub)

	ticks, err := e.prices.Ticks(ctx)
	if err != nil {
		return err
	}

	sweep := time.NewTicker(e.cfg.SweepEvery)
	defer sweep.Stop()

	slog.Info("shadow engine starting",
		"stop_loss", e.cfg.Exits.StopLossPct,
		"profit_target", e.cfg.Exits.ProfitTargetPct,
		"max_hold", e.cfg.Exits.MaxHold,
	)

	for {
		select {
		case <-ctx.Done():
			slog.Info("shadow engine stopped")
			return nil
		case ev, ok := <-sub.C:
			if !ok {
				return nil
			}
			e.HandleEvent(ctx, ev)
		case tick, ok := <-ticks:
			if !ok {
				return nil
			}
			e.HandleTick(ctx, tick)
		case <-sweep.C:
			e.Sweep(ctx, time.Now().UTC())
		}
	}
}

// Recover reloads open positions after a restart. Run calls it on startup;
// it is exported for deterministic replay in tests and tooling.
func (e *Engine) Recover(ctx context.Context) error {
	open, err := e.shadows.OpenShadowPositions(ctx)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range open {
		pos := open[i]
		e.trackLocked(&pos)
		e.status.ShadowOpened()
	}
	if len(open) > 0 {
		slog.Info("shadow engine recovered open positions", "count", len(open))
	}
	return nil
}

// HandleEvent reacts to signals (ensure a position exists) and decisions
// (stamp the entry price from the frozen snapshot).
func (e *Engine) HandleEvent(ctx context.Context, ev domain.Event) {
	switch ev.Kind {
	case domain.EventSignal:
		if ev.Signal != nil {
			e.ensurePosition(ctx, *ev.Signal)
		}
	case domain.EventDecision:
		if ev.Decision != nil {
			e.stampEntry(ctx, *ev.Decision)
		}
	}
}

// ensurePosition creates the shadow row if ingress could not. Idempotent on
// signal_id thanks to the store's uniqueness guarantee.
func (e *Engine) ensurePosition(ctx context.Context, sig domain.Signal) {
	e.mu.Lock()
	_, tracked := e.bySymbol[sig.Symbol][sig.SignalID]
	e.mu.Unlock()
	if tracked {
		return
	}

	if existing, found, err := e.shadows.ShadowPosition(ctx, sig.SignalID); err == nil && found {
		if existing.Open() {
			e.track(&existing)
			e.status.ShadowOpened()
		}
		return
	}

	pos := domain.ShadowPosition{
		SignalID:  sig.SignalID,
		Symbol:    sig.Symbol,
		Direction: sig.Direction,
		EntryTime: sig.GeneratedAt,
		Status:    domain.ShadowStatusOpen,
		MaxHold:   e.cfg.MaxHold,
	}
	if err := e.shadows.SaveShadowPosition(ctx, pos); err != nil {
		var integrity *domain.DataIntegrityError
		if !errors.As(err, &integrity) {
			e.status.RecordError(health.ClassIO, sig.SignalID, err)
			return
		}
	}
	e.track(&pos)
	e.status.ShadowOpened()
}

// stampEntry freezes the decision snapshot price as the simulated entry.
func (e *Engine) stampEntry(ctx context.Context, decision domain.DecisionEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos := e.findLocked(decision.SignalID)
	if pos == nil || pos.EntryPrice != 0 {
		return
	}
	if decision.Snapshot.Price <= 0 {
		// Snapshot could not be captured; the sweep will mark INCOMPLETE
		// once the hold window lapses without an entry.
		return
	}
	pos.EntryPrice = decision.Snapshot.Price
	pos.EntryTime = decision.DecidedAt
	if err := e.shadows.UpdateShadowPosition(ctx, *pos); err != nil {
		e.status.RecordError(health.ClassIO, pos.SignalID, err)
	}
}

// HandleTick evaluates exits for every open position on the tick's symbol.
func (e *Engine) HandleTick(ctx context.Context, tick domain.PriceTick) {
	var closed []domain.ShadowPosition

	e.mu.Lock()
	for _, pos := range e.bySymbol[tick.Symbol] {
		pos.LastPrice = tick.Price
		pos.LastPriceAt = tick.ObservedAt

		if pos.EntryPrice == 0 {
			continue // entry not stamped yet, nothing to evaluate
		}
		d := e.cfg.Exits.Evaluate(*pos, tick.Price, tick.ObservedAt)
		if !d.ShouldExit {
			continue
		}
		pos.Status = domain.ShadowStatusClosed
		if d.Reason == domain.ExitMaxHold {
			pos.Status = domain.ShadowStatusExpired
		}
		pos.ExitPrice = d.ExitPrice
		pos.ExitTime = tick.ObservedAt
		pos.ExitReason = d.Reason
		pos.PnL = pos.SignedPnL(d.ExitPrice)
		closed = append(closed, *pos)
	}
	for _, pos := range closed {
		e.untrackLocked(pos.SignalID, pos.Symbol)
	}
	e.mu.Unlock()

	for _, pos := range closed {
		e.finalize(ctx, pos)
	}
}

// Sweep force-closes positions past their hold window and marks positions
// that never saw a price as INCOMPLETE.
func (e *Engine) Sweep(ctx context.Context, now time.Time) {
	var done []domain.ShadowPosition

	e.mu.Lock()
	for _, positions := range e.bySymbol {
		for _, pos := range positions {
			maxHold := pos.MaxHold
			if maxHold <= 0 {
				maxHold = e.cfg.MaxHold
			}
			if now.Sub(pos.EntryTime) < maxHold {
				continue
			}

			if pos.EntryPrice == 0 || pos.LastPrice == 0 {
				// No usable price stream: excluded from learning, not a
				// zero-P&L outcome.
				pos.Status = domain.ShadowStatusIncomplete
				pos.ExitReason = domain.ExitIncomplete
				pos.ExitTime = now
				e.status.RecordError(health.ClassShadow, pos.SignalID,
					&domain.ShadowSimError{SignalID: pos.SignalID, Detail: "no price data before hold window lapsed"})
			} else {
				pos.Status = domain.ShadowStatusExpired
				pos.ExitPrice = pos.LastPrice
				pos.ExitTime = now
				pos.ExitReason = domain.ExitTTLExpiry
				pos.PnL = pos.SignedPnL(pos.LastPrice)
			}
			done = append(done, *pos)
		}
	}
	for _, pos := range done {
		e.untrackLocked(pos.SignalID, pos.Symbol)
	}
	e.mu.Unlock()

	for _, pos := range done {
		e.finalize(ctx, pos)
	}
}

// finalize persists the closed position and appends its outcome event.
func (e *Engine) finalize(ctx context.Context, pos domain.ShadowPosition) {
	if err := e.shadows.UpdateShadowPosition(ctx, pos); err != nil {
		e.status.RecordError(health.ClassIO, pos.SignalID, err)
	}
	e.status.ShadowClosed()

	outcome := pos.Outcome()
	if _, err := e.bus.Publish(ctx, domain.Event{
		SignalID:   pos.SignalID,
		Kind:       domain.EventOutcome,
		RecordedAt: pos.ExitTime,
		Outcome:    &outcome,
	}); err != nil {
		var integrity *domain.DataIntegrityError
		if errors.As(err, &integrity) {
			// Rejected outright (corrupt outcome or duplicate): flag it,
			// there is nothing to retry.
			e.status.RecordError(health.ClassShadow, pos.SignalID, err)
			slog.Error("shadow: outcome rejected", "signal_id", pos.SignalID, "err", err)
		} else {
			slog.Warn("shadow: outcome publish failed, buffered", "signal_id", pos.SignalID, "err", err)
		}
	}

	slog.Info("shadow: position closed",
		"signal_id", pos.SignalID,
		"symbol", pos.Symbol,
		"status", pos.Status,
		"reason", pos.ExitReason,
		"pnl", pos.PnL,
	)
}

// --- tracking helpers (in-memory working set) ---

func (e *Engine) track(pos *domain.ShadowPosition) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.trackLocked(pos)
}

func (e *Engine) trackLocked(pos *domain.ShadowPosition) {
	m := e.bySymbol[pos.Symbol]
	if m == nil {
		m = make(map[string]*domain.ShadowPosition)
		e.bySymbol[pos.Symbol] = m
	}
	m[pos.SignalID] = pos
}

func (e *Engine) untrackLocked(signalID, symbol string) {
	if m := e.bySymbol[symbol]; m != nil {
		delete(m, signalID)
		if len(m) == 0 {
			delete(e.bySymbol, symbol)
		}
	}
}

func (e *Engine) findLocked(signalID string) *domain.ShadowPosition {
	for _, m := range e.bySymbol {
		if pos, ok := m[signalID]; ok {
			return pos
		}
	}
	return nil
}

// OpenCount reports the current number of tracked open positions.
func (e *Engine) OpenCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, m := range e.bySymbol {
		n += len(m)
	}
	return n
}
