package marketdata

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/alejandrodnm/shadowgate/internal/domain"
)

// ReplayFeed is the dry-run price provider: a seeded random walk per symbol,
// so a whole pipeline run is reproducible without touching an exchange.
type ReplayFeed struct {
	interval time.Duration
	spread   float64 // fixed fractional spread applied to every snapshot

	mu     sync.Mutex
	rng    *rand.Rand
	prices map[string]float64
}

// NewReplayFeed seeds a walk for each symbol at its starting price.
func NewReplayFeed(seed int64, interval time.Duration, start map[string]float64) *ReplayFeed {
	prices := make(map[string]float64, len(start))
	for sym, p := range start {
		prices[sym] = p
	}
	return &ReplayFeed{
		interval: interval,
		spread:   0.0005,
		rng:      rand.New(rand.NewSource(seed)),
		prices:   prices,
	}
}

// Snapshot returns the walk's current price for the symbol.
func (f *ReplayFeed) Snapshot(_ context.Context, symbol string) (domain.MarketSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	price, ok := f.prices[symbol]
	if !ok {
		return domain.MarketSnapshot{}, &domain.TransientIOError{Op: "replay snapshot: unknown symbol " + symbol}
	}
	spread := price * f.spread
	return domain.MarketSnapshot{
		Price:      price,
		Spread:     spread,
		SpreadBps:  f.spread * 10_000,
		CapturedAt: time.Now().UTC(),
	}, nil
}

// Ticks advances every symbol's walk on the configured interval.
func (f *ReplayFeed) Ticks(ctx context.Context) (<-chan domain.PriceTick, error) {
	out := make(chan domain.PriceTick, 256)
	go func() {
		defer close(out)
		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, tick := range f.step() {
					select {
					case out <- tick:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return out, nil
}

// step moves every walk one increment: ±0.2% per tick, never below zero.
func (f *ReplayFeed) step() []domain.PriceTick {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	ticks := make([]domain.PriceTick, 0, len(f.prices))
	for sym, price := range f.prices {
		next := price * (1 + (f.rng.Float64()-0.5)*0.004)
		if next <= 0 {
			next = price
		}
		f.prices[sym] = next
		ticks = append(ticks, domain.PriceTick{Symbol: sym, Price: next, ObservedAt: now})
	}
	return ticks
}
