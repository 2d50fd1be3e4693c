// Package producer synthesizes component scores from the live price stream
// and feeds them through the ingress path. It stands in for the upstream
// alpha models: every score is derived purely from observed prices, so the
// whole pipeline can run against a feed with nothing else attached.
package producer

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/alejandrodnm/shadowgate/internal/application/ingress"
	"github.com/alejandrodnm/shadowgate/internal/domain"
	"github.com/alejandrodnm/shadowgate/internal/ports"
)

const historyLen = 60

// Config holds the emission cadence.
type Config struct {
	EmitEvery time.Duration
	TTL       time.Duration
}

// DefaultConfig returns production settings.
func DefaultConfig() Config {
	return Config{EmitEvery: 20 * time.Second, TTL: 2 * time.Minute}
}

// Producer watches ticks and periodically emits a signal per symbol.
type Producer struct {
	cfg     Config
	ingress *ingress.Ingress
	prices  ports.PriceProvider

	history map[string][]float64 // per-symbol rolling price window
}

// New builds a Producer.
func New(cfg Config, in *ingress.Ingress, prices ports.PriceProvider) *Producer {
	return &Producer{
		cfg:     cfg,
		ingress: in,
		prices:  prices,
		history: make(map[string][]float64),
	}
}

// Run consumes ticks and emits signals until the context is cancelled.
func (p *Producer) Run(ctx context.Context) error {
	ticks, err := p.prices.Ticks(ctx)
	if err != nil {
		return err
	}

	emit := time.NewTicker(p.cfg.EmitEvery)
	defer emit.Stop()

	slog.Info("producer starting", "emit_every", p.cfg.EmitEvery)

	for {
		select {
		case <-ctx.Done():
			slog.Info("producer stopped")
			return nil
		case tick, ok := <-ticks:
			if !ok {
				return nil
			}
			p.observe(tick)
		case <-emit.C:
			p.emit(ctx)
		}
	}
}

// observe appends a tick to the symbol's rolling window.
func (p *Producer) observe(tick domain.PriceTick) {
	h := append(p.history[tick.Symbol], tick.Price)
	if len(h) > historyLen {
		h = h[len(h)-historyLen:]
	}
	p.history[tick.Symbol] = h
}

// emit publishes one signal per symbol with enough history.
func (p *Producer) emit(ctx context.Context) {
	for symbol, h := range p.history {
		if len(h) < 10 {
			continue
		}
		scores := deriveScores(h)
		direction := domain.DirectionLong
		if scores["momentum"] < 0 {
			direction = domain.DirectionShort
		}
		sig := domain.Signal{
			Symbol:          symbol,
			Direction:       direction,
			ComponentScores: scores,
			TTL:             p.cfg.TTL,
		}
		if _, err := p.ingress.Accept(ctx, sig); err != nil {
			slog.Warn("producer: signal rejected", "symbol", symbol, "err", err)
		}
	}
}

// deriveScores maps the recent price window to the component score space.
// Each score lands in [-1, 1].
//
//	momentum    — return over the whole window
//	ofi         — return over the last quarter, a crude flow-imbalance proxy
//	funding     — mean reversion pressure: distance from the window mean
//	liquidation — realized volatility, signed by the short-term move
func deriveScores(h []float64) map[string]float64 {
	last := h[len(h)-1]
	first := h[0]
	quarter := h[len(h)-len(h)/4:]

	var sum float64
	for _, p := range h {
		sum += p
	}
	mean := sum / float64(len(h))

	var vol float64
	for i := 1; i < len(h); i++ {
		r := (h[i] - h[i-1]) / h[i-1]
		vol += r * r
	}
	vol = math.Sqrt(vol / float64(len(h)-1))

	shortRet := (last - quarter[0]) / quarter[0]

	return map[string]float64{
		"momentum":    clampScore((last - first) / first * 50),
		"ofi":         clampScore(shortRet * 100),
		"funding":     clampScore((mean - last) / mean * 50),
		"liquidation": clampScore(math.Copysign(vol*200, shortRet)),
	}
}

func clampScore(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(-1, math.Min(1, v))
}
