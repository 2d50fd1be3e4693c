// Package ingress is the producer-facing entry point. It validates raw
// signals, assigns identities, and atomically creates the signal event plus
// its shadow position row — every admitted signal gets a counterfactual,
// whatever the gate later decides.
package ingress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/shadowgate/internal/bus"
	"github.com/alejandrodnm/shadowgate/internal/domain"
	"github.com/alejandrodnm/shadowgate/internal/health"
	"github.com/alejandrodnm/shadowgate/internal/ports"
	"github.com/google/uuid"
)

// Config holds ingress validation settings.
type Config struct {
	DefaultTTL time.Duration // applied when a producer omits the TTL
	MaxHold    time.Duration // shadow position lifetime mirror of live max hold
}

// DefaultConfig returns production ingress settings.
func DefaultConfig() Config {
	return Config{
		DefaultTTL: 2 * time.Minute,
		MaxHold:    time.Hour,
	}
}

// Ingress admits signals onto the bus.
type Ingress struct {
	cfg     Config
	bus     *bus.Bus
	shadows ports.ShadowStore
	status  *health.Recorder
}

// New builds an Ingress.
func New(cfg Config, b *bus.Bus, shadows ports.ShadowStore, status *health.Recorder) *Ingress {
	return &Ingress{cfg: cfg, bus: b, shadows: shadows, status: status}
}

// Accept validates and admits one signal. Safe for concurrent producers: the
// bus serializes the write and enforces signal_id uniqueness. Returns the
// admitted signal (with assigned ID) or the validation/integrity error.
func (i *Ingress) Accept(ctx context.Context, sig domain.Signal) (domain.Signal, error) {
	if sig.SignalID == "" {
		sig.SignalID = uuid.New().String()
	}
	if sig.GeneratedAt.IsZero() {
		sig.GeneratedAt = time.Now().UTC()
	}
	if sig.TTL <= 0 {
		sig.TTL = i.cfg.DefaultTTL
	}
	if err := validate(sig); err != nil {
		return domain.Signal{}, err
	}

	if _, err := i.bus.Publish(ctx, domain.Event{
		SignalID:   sig.SignalID,
		Kind:       domain.EventSignal,
		RecordedAt: sig.GeneratedAt,
		Signal:     &sig,
	}); err != nil {
		var integrity *domain.DataIntegrityError
		if errors.As(err, &integrity) {
			i.status.RecordError(health.ClassIntegrity, sig.SignalID, err)
		}
		return domain.Signal{}, err
	}

	// The shadow row is created up front with a pending entry; the shadow
	// engine stamps the entry price from the decision's frozen snapshot.
	pos := domain.ShadowPosition{
		SignalID:  sig.SignalID,
		Symbol:    sig.Symbol,
		Direction: sig.Direction,
		EntryTime: sig.GeneratedAt,
		Status:    domain.ShadowStatusOpen,
		MaxHold:   i.cfg.MaxHold,
	}
	if err := i.shadows.SaveShadowPosition(ctx, pos); err != nil {
		var integrity *domain.DataIntegrityError
		if !errors.As(err, &integrity) {
			// The shadow engine re-creates missing rows when it consumes the
			// SIGNAL event, so this is degraded, not fatal.
			i.status.RecordError(health.ClassIO, sig.SignalID, err)
			slog.Warn("ingress: shadow position deferred", "signal_id", sig.SignalID, "err", err)
		}
	}

	i.status.SignalReceived()
	slog.Debug("ingress: signal admitted",
		"signal_id", sig.SignalID, "symbol", sig.Symbol, "direction", sig.Direction, "ttl", sig.TTL)
	return sig, nil
}

// validate enforces the signal contract at the boundary.
func validate(sig domain.Signal) error {
	if sig.Symbol == "" {
		return fmt.Errorf("ingress: signal %s has no symbol", sig.SignalID)
	}
	if sig.Direction != domain.DirectionLong && sig.Direction != domain.DirectionShort {
		return fmt.Errorf("ingress: signal %s has invalid direction %q", sig.SignalID, sig.Direction)
	}
	if len(sig.ComponentScores) == 0 {
		return fmt.Errorf("ingress: signal %s has no component scores", sig.SignalID)
	}
	for name, score := range sig.ComponentScores {
		if score < -1 || score > 1 {
			return fmt.Errorf("ingress: signal %s component %q score %v outside [-1, 1]", sig.SignalID, name, score)
		}
	}
	return nil
}
