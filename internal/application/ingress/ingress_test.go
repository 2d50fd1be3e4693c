package ingress_test

import (
	"context"
	"testing"
	"time"

	"github.com/alejandrodnm/shadowgate/internal/adapters/storage"
	"github.com/alejandrodnm/shadowgate/internal/application/ingress"
	"github.com/alejandrodnm/shadowgate/internal/bus"
	"github.com/alejandrodnm/shadowgate/internal/domain"
	"github.com/alejandrodnm/shadowgate/internal/health"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	ingress *ingress.Ingress
	bus     *bus.Bus
	store   *storage.SQLiteStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	status := health.NewRecorder(prometheus.NewRegistry())
	b := bus.New(store, status)
	return &fixture{
		ingress: ingress.New(ingress.DefaultConfig(), b, store, status),
		bus:     b,
		store:   store,
	}
}

func rawSignal() domain.Signal {
	return domain.Signal{
		Symbol:    "BTC-USD",
		Direction: domain.DirectionLong,
		ComponentScores: map[string]float64{
			"momentum": 0.6,
			"ofi":      0.3,
		},
	}
}

func TestAccept_AssignsIdentityAndDefaults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	before := time.Now().UTC()
	sig, err := f.ingress.Accept(ctx, rawSignal())
	require.NoError(t, err)

	assert.NotEmpty(t, sig.SignalID)
	assert.False(t, sig.GeneratedAt.Before(before))
	assert.Equal(t, 2*time.Minute, sig.TTL)

	state, found, err := f.store.SignalState(ctx, sig.SignalID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, domain.StateGenerated, state)
}

func TestAccept_PreservesProducerFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := rawSignal()
	in.SignalID = "producer-chosen-id"
	in.GeneratedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	in.TTL = 45 * time.Second

	sig, err := f.ingress.Accept(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, "producer-chosen-id", sig.SignalID)
	assert.Equal(t, in.GeneratedAt, sig.GeneratedAt)
	assert.Equal(t, 45*time.Second, sig.TTL)
}

func TestAccept_AppendsSignalEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sig, err := f.ingress.Accept(ctx, rawSignal())
	require.NoError(t, err)

	events, err := f.store.Read(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventSignal, events[0].Kind)
	assert.Equal(t, sig.SignalID, events[0].SignalID)
	require.NotNil(t, events[0].Signal)
	assert.Equal(t, sig.ComponentScores, events[0].Signal.ComponentScores)
}

func TestAccept_CreatesShadowPosition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sig, err := f.ingress.Accept(ctx, rawSignal())
	require.NoError(t, err)

	pos, found, err := f.store.ShadowPosition(ctx, sig.SignalID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, sig.Symbol, pos.Symbol)
	assert.Equal(t, sig.Direction, pos.Direction)
	assert.Equal(t, domain.ShadowStatusOpen, pos.Status)
}

func TestAccept_RejectsDuplicateSignalID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := rawSignal()
	in.SignalID = "dup-1"
	_, err := f.ingress.Accept(ctx, in)
	require.NoError(t, err)

	_, err = f.ingress.Accept(ctx, in)
	var integrity *domain.DataIntegrityError
	require.ErrorAs(t, err, &integrity)

	// El log no crece con el duplicado.
	events, err := f.store.Read(ctx, 0, 10)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestAccept_Validation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*domain.Signal)
	}{
		{"missing symbol", func(s *domain.Signal) { s.Symbol = "" }},
		{"invalid direction", func(s *domain.Signal) { s.Direction = "SIDEWAYS" }},
		{"no component scores", func(s *domain.Signal) { s.ComponentScores = nil }},
		{"score above range", func(s *domain.Signal) { s.ComponentScores["momentum"] = 1.2 }},
		{"score below range", func(s *domain.Signal) { s.ComponentScores["ofi"] = -3 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			in := rawSignal()
			tc.mutate(&in)

			_, err := f.ingress.Accept(context.Background(), in)
			require.Error(t, err)

			// Una señal rechazada no deja rastro en el log.
			events, readErr := f.store.Read(context.Background(), 0, 10)
			require.NoError(t, readErr)
			assert.Empty(t, events)
		})
	}
}
