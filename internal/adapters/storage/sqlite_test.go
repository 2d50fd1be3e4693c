package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/alejandrodnm/shadowgate/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testSignal(id, symbol string) domain.Signal {
	return domain.Signal{
		SignalID:  id,
		Symbol:    symbol,
		Direction: domain.DirectionLong,
		ComponentScores: map[string]float64{
			"ofi":     0.8,
			"funding": -0.1,
		},
		GeneratedAt: time.Now().UTC().Truncate(time.Millisecond),
		TTL:         2 * time.Minute,
	}
}

func signalEvent(sig domain.Signal) domain.Event {
	return domain.Event{
		SignalID:   sig.SignalID,
		Kind:       domain.EventSignal,
		RecordedAt: sig.GeneratedAt,
		Signal:     &sig,
	}
}

func TestAppendRead_Roundtrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sig := testSignal("sig-1", "BTCUSDT")
	seq, err := s.Append(ctx, signalEvent(sig))
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq)

	events, err := s.Read(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.NotNil(t, events[0].Signal)
	assert.Equal(t, sig.SignalID, events[0].Signal.SignalID)
	assert.Equal(t, sig.ComponentScores, events[0].Signal.ComponentScores)
	assert.Equal(t, sig.TTL, events[0].Signal.TTL)
}

func TestAppend_RejectsDuplicateSignal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sig := testSignal("sig-1", "BTCUSDT")
	_, err := s.Append(ctx, signalEvent(sig))
	require.NoError(t, err)

	_, err = s.Append(ctx, signalEvent(sig))
	require.Error(t, err)
	var integrity *domain.DataIntegrityError
	assert.True(t, errors.As(err, &integrity))

	// El duplicado rechazado no deja rastro en el log.
	last, err := s.LastSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), last)
}

func TestAppend_RejectsDuplicateDecision(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Append(ctx, signalEvent(testSignal("sig-1", "BTCUSDT")))
	require.NoError(t, err)

	decision := domain.Event{
		SignalID:   "sig-1",
		Kind:       domain.EventDecision,
		RecordedAt: time.Now().UTC(),
		Decision: &domain.DecisionEvent{
			SignalID: "sig-1",
			Decision: domain.DecisionApproved,
			Tier:     domain.TierHigh,
		},
	}
	_, err = s.Append(ctx, decision)
	require.NoError(t, err)

	_, err = s.Append(ctx, decision)
	var integrity *domain.DataIntegrityError
	assert.True(t, errors.As(err, &integrity))
}

func TestStateStore_Lifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Append(ctx, signalEvent(testSignal("sig-1", "BTCUSDT")))
	require.NoError(t, err)

	state, found, err := s.SignalState(ctx, "sig-1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, domain.StateGenerated, state)

	require.NoError(t, s.SetSignalState(ctx, "sig-1", domain.StateEvaluating))
	state, _, _ = s.SignalState(ctx, "sig-1")
	assert.Equal(t, domain.StateEvaluating, state)

	active, err := s.ActiveSignals(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	require.NoError(t, s.SetSignalState(ctx, "sig-1", domain.StateExpired))
	active, err = s.ActiveSignals(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	_, found, err = s.SignalState(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, found)

	err = s.SetSignalState(ctx, "nope", domain.StateEvaluating)
	var integrity *domain.DataIntegrityError
	assert.True(t, errors.As(err, &integrity))
}

func TestWeightStore_VersionsAreMonotonic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ws, err := domain.NewWeightSet(map[string]float64{"ofi": 0.5}, time.Now())
	require.NoError(t, err)
	require.NoError(t, s.PublishWeights(ctx, ws))

	got, err := s.CurrentWeights(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.InDelta(t, 0.5, got.Weights["ofi"], 1e-9)

	// Re-publicar la misma versión se rechaza.
	err = s.PublishWeights(ctx, ws)
	var integrity *domain.DataIntegrityError
	assert.True(t, errors.As(err, &integrity))

	next := ws.Rebalanced(map[string]float64{"ofi": 0.55}, time.Now())
	require.NoError(t, s.PublishWeights(ctx, next))

	got, err = s.CurrentWeights(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
}

func TestShadowStore_SaveUpdateQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pos := domain.ShadowPosition{
		SignalID:   "sig-1",
		Symbol:     "ETHUSDT",
		Direction:  domain.DirectionShort,
		EntryPrice: 2500,
		EntryTime:  time.Now().UTC().Truncate(time.Millisecond),
		Status:     domain.ShadowStatusOpen,
		MaxHold:    time.Hour,
	}
	require.NoError(t, s.SaveShadowPosition(ctx, pos))

	err := s.SaveShadowPosition(ctx, pos)
	var integrity *domain.DataIntegrityError
	assert.True(t, errors.As(err, &integrity))

	open, err := s.OpenShadowPositions(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, domain.DirectionShort, open[0].Direction)
	assert.Equal(t, time.Hour, open[0].MaxHold)

	pos.Status = domain.ShadowStatusClosed
	pos.ExitPrice = 2400
	pos.ExitTime = time.Now().UTC().Truncate(time.Millisecond)
	pos.ExitReason = domain.ExitProfitTarget
	pos.PnL = 0.04
	require.NoError(t, s.UpdateShadowPosition(ctx, pos))

	got, found, err := s.ShadowPosition(ctx, "sig-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, domain.ShadowStatusClosed, got.Status)
	assert.Equal(t, domain.ExitProfitTarget, got.ExitReason)
	assert.InDelta(t, 0.04, got.PnL, 1e-9)

	open, err = s.OpenShadowPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestShadowStore_UpdatePersistsStampedEntry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Ingress crea la fila con la entrada pendiente; la decisión la estampa.
	pos := domain.ShadowPosition{
		SignalID:  "sig-pending",
		Symbol:    "BTCUSDT",
		Direction: domain.DirectionLong,
		EntryTime: time.Now().UTC().Truncate(time.Millisecond),
		Status:    domain.ShadowStatusOpen,
		MaxHold:   time.Hour,
	}
	require.NoError(t, s.SaveShadowPosition(ctx, pos))

	pos.EntryPrice = 50_000
	pos.EntryTime = pos.EntryTime.Add(2 * time.Second)
	require.NoError(t, s.UpdateShadowPosition(ctx, pos))

	got, found, err := s.ShadowPosition(ctx, "sig-pending")
	require.NoError(t, err)
	require.True(t, found)
	assert.InDelta(t, 50_000, got.EntryPrice, 1e-9)
	assert.True(t, got.EntryTime.Equal(pos.EntryTime))

	// La recuperación tras reinicio ve la entrada estampada, no un cero.
	open, err := s.OpenShadowPositions(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.InDelta(t, 50_000, open[0].EntryPrice, 1e-9)
}

func TestCursorStore_Roundtrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seq, err := s.Cursor(ctx, "learning")
	require.NoError(t, err)
	assert.Zero(t, seq)

	require.NoError(t, s.SetCursor(ctx, "learning", 42))
	require.NoError(t, s.SetCursor(ctx, "learning", 99))

	seq, err = s.Cursor(ctx, "learning")
	require.NoError(t, err)
	assert.Equal(t, int64(99), seq)
}

func TestDailySummaries_Upsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	day := time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveDailySummary(ctx, domain.DailySummary{Date: day, Signals: 5, Approved: 3, Blocked: 2}))
	require.NoError(t, s.SaveDailySummary(ctx, domain.DailySummary{Date: day, Signals: 9, Approved: 5, Blocked: 4, ShadowPnL: 1.5}))

	dailies, err := s.DailySummaries(ctx)
	require.NoError(t, err)
	require.Len(t, dailies, 1)
	assert.Equal(t, 9, dailies[0].Signals)
	assert.InDelta(t, 1.5, dailies[0].ShadowPnL, 1e-9)
}

func TestStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gate.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	_, err = s.Append(ctx, signalEvent(testSignal("sig-1", "BTCUSDT")))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()

	last, err := s.LastSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), last)

	// El signal_id sigue siendo único tras el reinicio.
	_, err = s.Append(ctx, signalEvent(testSignal("sig-1", "BTCUSDT")))
	var integrity *domain.DataIntegrityError
	assert.True(t, errors.As(err, &integrity))
}
