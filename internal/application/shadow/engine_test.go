package shadow_test

import (
	"context"
	"testing"
	"time"

	"github.com/alejandrodnm/shadowgate/internal/adapters/storage"
	"github.com/alejandrodnm/shadowgate/internal/application/shadow"
	"github.com/alejandrodnm/shadowgate/internal/bus"
	"github.com/alejandrodnm/shadowgate/internal/domain"
	"github.com/alejandrodnm/shadowgate/internal/health"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPrices struct {
	snapshot domain.MarketSnapshot
	ticks    chan domain.PriceTick
}

func (s *stubPrices) Snapshot(_ context.Context, _ string) (domain.MarketSnapshot, error) {
	return s.snapshot, nil
}

func (s *stubPrices) Ticks(_ context.Context) (<-chan domain.PriceTick, error) {
	return s.ticks, nil
}

type fixture struct {
	engine *shadow.Engine
	bus    *bus.Bus
	store  *storage.SQLiteStore
}

func newFixture(t *testing.T, cfg shadow.Config) *fixture {
	t.Helper()
	store, err := storage.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	status := health.NewRecorder(prometheus.NewRegistry())
	b := bus.New(store, status)
	prices := &stubPrices{ticks: make(chan domain.PriceTick)}
	return &fixture{
		engine: shadow.New(cfg, b, store, prices, status),
		bus:    b,
		store:  store,
	}
}

func (f *fixture) admit(t *testing.T, ctx context.Context, id, symbol string, dir domain.Direction, at time.Time) {
	t.Helper()
	sig := domain.Signal{
		SignalID:        id,
		Symbol:          symbol,
		Direction:       dir,
		ComponentScores: map[string]float64{"ofi": 0.5},
		GeneratedAt:     at,
		TTL:             2 * time.Minute,
	}
	_, err := f.bus.Publish(ctx, domain.Event{
		SignalID: id, Kind: domain.EventSignal, RecordedAt: at, Signal: &sig,
	})
	require.NoError(t, err)
	f.engine.HandleEvent(ctx, domain.Event{Kind: domain.EventSignal, Signal: &sig})
}

func (f *fixture) decide(t *testing.T, ctx context.Context, id string, decision domain.Decision, price float64, at time.Time) {
	t.Helper()
	ev := domain.DecisionEvent{
		SignalID:  id,
		Decision:  decision,
		Snapshot:  domain.MarketSnapshot{Price: price, CapturedAt: at},
		DecidedAt: at,
	}
	_, err := f.bus.Publish(ctx, domain.Event{
		SignalID: id, Kind: domain.EventDecision, RecordedAt: at, Decision: &ev,
	})
	require.NoError(t, err)
	f.engine.HandleEvent(ctx, domain.Event{Kind: domain.EventDecision, Decision: &ev})
}

func (f *fixture) outcomes(t *testing.T, ctx context.Context) []domain.TradeOutcome {
	t.Helper()
	var out []domain.TradeOutcome
	require.NoError(t, f.bus.Replay(ctx, 0, func(ev domain.Event) error {
		if ev.Kind == domain.EventOutcome && ev.Outcome != nil {
			out = append(out, *ev.Outcome)
		}
		return nil
	}))
	return out
}

func TestEngine_OnePositionPerSignalRegardlessOfDecision(t *testing.T) {
	f := newFixture(t, shadow.DefaultConfig())
	ctx := context.Background()
	now := time.Now().UTC()

	f.admit(t, ctx, "approved-1", "BTCUSDT", domain.DirectionLong, now)
	f.decide(t, ctx, "approved-1", domain.DecisionApproved, 50_000, now)

	f.admit(t, ctx, "blocked-1", "BTCUSDT", domain.DirectionLong, now)
	f.decide(t, ctx, "blocked-1", domain.DecisionBlocked, 50_000, now)

	assert.Equal(t, 2, f.engine.OpenCount())

	for _, id := range []string{"approved-1", "blocked-1"} {
		pos, found, err := f.store.ShadowPosition(ctx, id)
		require.NoError(t, err)
		require.True(t, found, id)
		assert.Equal(t, domain.ShadowStatusOpen, pos.Status)
		assert.Equal(t, 50_000.0, pos.EntryPrice)
	}
}

func TestEngine_ProfitTargetClosesPosition(t *testing.T) {
	cfg := shadow.DefaultConfig()
	cfg.Exits = domain.ExitRules{StopLossPct: 0.02, ProfitTargetPct: 0.03, MaxHold: time.Hour}
	f := newFixture(t, cfg)
	ctx := context.Background()
	now := time.Now().UTC()

	f.admit(t, ctx, "sig-1", "BTCUSDT", domain.DirectionLong, now)
	f.decide(t, ctx, "sig-1", domain.DecisionBlocked, 100, now)

	// +2% no dispara nada, +3.5% cierra en profit target.
	f.engine.HandleTick(ctx, domain.PriceTick{Symbol: "BTCUSDT", Price: 102, ObservedAt: now.Add(time.Minute)})
	assert.Equal(t, 1, f.engine.OpenCount())

	f.engine.HandleTick(ctx, domain.PriceTick{Symbol: "BTCUSDT", Price: 103.5, ObservedAt: now.Add(2 * time.Minute)})
	assert.Equal(t, 0, f.engine.OpenCount())

	pos, _, err := f.store.ShadowPosition(ctx, "sig-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ShadowStatusClosed, pos.Status)
	assert.Equal(t, domain.ExitProfitTarget, pos.ExitReason)
	assert.InDelta(t, 0.035, pos.PnL, 1e-9)

	outs := f.outcomes(t, ctx)
	require.Len(t, outs, 1)
	assert.True(t, outs[0].Shadow)
	assert.Equal(t, "sig-1", outs[0].SignalID)
	assert.False(t, outs[0].Incomplete)
}

func TestEngine_StopLossOnShort(t *testing.T) {
	cfg := shadow.DefaultConfig()
	cfg.Exits = domain.ExitRules{StopLossPct: 0.02, ProfitTargetPct: 0.05, MaxHold: time.Hour}
	f := newFixture(t, cfg)
	ctx := context.Background()
	now := time.Now().UTC()

	f.admit(t, ctx, "sig-1", "ETHUSDT", domain.DirectionShort, now)
	f.decide(t, ctx, "sig-1", domain.DecisionApproved, 2000, now)

	// Un short pierde cuando el precio sube.
	f.engine.HandleTick(ctx, domain.PriceTick{Symbol: "ETHUSDT", Price: 2045, ObservedAt: now.Add(time.Minute)})

	pos, _, err := f.store.ShadowPosition(ctx, "sig-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ShadowStatusClosed, pos.Status)
	assert.Equal(t, domain.ExitStopLoss, pos.ExitReason)
	assert.InDelta(t, -0.0225, pos.PnL, 1e-4)
}

func TestEngine_ForceCloseAtLastPriceAfterMaxHold(t *testing.T) {
	cfg := shadow.DefaultConfig()
	cfg.Exits = domain.ExitRules{StopLossPct: 0.10, ProfitTargetPct: 0.10, MaxHold: 2 * time.Minute}
	cfg.MaxHold = 2 * time.Minute
	f := newFixture(t, cfg)
	ctx := context.Background()
	now := time.Now().UTC()

	f.admit(t, ctx, "sig-1", "BTCUSDT", domain.DirectionLong, now)
	f.decide(t, ctx, "sig-1", domain.DecisionApproved, 100, now)

	// Un tick dentro de la ventana deja registrado el último precio.
	f.engine.HandleTick(ctx, domain.PriceTick{Symbol: "BTCUSDT", Price: 101, ObservedAt: now.Add(time.Minute)})
	assert.Equal(t, 1, f.engine.OpenCount())

	f.engine.Sweep(ctx, now.Add(3*time.Minute))
	assert.Equal(t, 0, f.engine.OpenCount())

	pos, _, err := f.store.ShadowPosition(ctx, "sig-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ShadowStatusExpired, pos.Status)
	assert.Equal(t, domain.ExitTTLExpiry, pos.ExitReason)
	assert.Equal(t, 101.0, pos.ExitPrice)
	assert.InDelta(t, 0.01, pos.PnL, 1e-9)
}

func TestEngine_NoPriceDataMarksIncomplete(t *testing.T) {
	cfg := shadow.DefaultConfig()
	cfg.MaxHold = 2 * time.Minute
	cfg.Exits.MaxHold = 2 * time.Minute
	f := newFixture(t, cfg)
	ctx := context.Background()
	now := time.Now().UTC()

	f.admit(t, ctx, "sig-1", "DOGEUSDT", domain.DirectionLong, now)
	f.decide(t, ctx, "sig-1", domain.DecisionBlocked, 0.15, now)

	// Sin ticks: la posición nunca puede resolver su salida.
	f.engine.Sweep(ctx, now.Add(5*time.Minute))

	pos, _, err := f.store.ShadowPosition(ctx, "sig-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ShadowStatusIncomplete, pos.Status)
	assert.Equal(t, domain.ExitIncomplete, pos.ExitReason)

	outs := f.outcomes(t, ctx)
	require.Len(t, outs, 1)
	assert.True(t, outs[0].Incomplete)
}

func TestEngine_ConcurrentSameSymbolSignalsAreIndependent(t *testing.T) {
	cfg := shadow.DefaultConfig()
	cfg.Exits = domain.ExitRules{StopLossPct: 0.02, ProfitTargetPct: 0.03, MaxHold: time.Hour}
	f := newFixture(t, cfg)
	ctx := context.Background()
	now := time.Now().UTC()

	// Mismo símbolo, entradas distintas: cada posición evalúa contra la suya.
	f.admit(t, ctx, "sig-a", "BTCUSDT", domain.DirectionLong, now)
	f.decide(t, ctx, "sig-a", domain.DecisionApproved, 100, now)

	f.admit(t, ctx, "sig-b", "BTCUSDT", domain.DirectionLong, now)
	f.decide(t, ctx, "sig-b", domain.DecisionBlocked, 104, now)

	// 103.1: +3.1% para sig-a (target), −0.9% para sig-b (nada).
	f.engine.HandleTick(ctx, domain.PriceTick{Symbol: "BTCUSDT", Price: 103.1, ObservedAt: now.Add(time.Minute)})

	posA, _, err := f.store.ShadowPosition(ctx, "sig-a")
	require.NoError(t, err)
	assert.Equal(t, domain.ShadowStatusClosed, posA.Status)

	posB, _, err := f.store.ShadowPosition(ctx, "sig-b")
	require.NoError(t, err)
	assert.Equal(t, domain.ShadowStatusOpen, posB.Status)
	assert.Equal(t, 1, f.engine.OpenCount())
}

func TestEngine_RecoversOpenPositionsAfterRestart(t *testing.T) {
	f := newFixture(t, shadow.DefaultConfig())
	ctx := context.Background()
	now := time.Now().UTC()

	f.admit(t, ctx, "sig-1", "BTCUSDT", domain.DirectionLong, now)
	f.decide(t, ctx, "sig-1", domain.DecisionApproved, 100, now)

	// Nuevo engine sobre el mismo store, como tras un reinicio.
	status := health.NewRecorder(prometheus.NewRegistry())
	prices := &stubPrices{ticks: make(chan domain.PriceTick)}
	fresh := shadow.New(shadow.DefaultConfig(), f.bus, f.store, prices, status)
	require.NoError(t, fresh.Recover(ctx))
	assert.Equal(t, 1, fresh.OpenCount())
}
