package ports

import (
	"context"

	"github.com/alejandrodnm/shadowgate/internal/domain"
)

// PriceProvider supplies market state: a frozen snapshot on demand for the
// decision path, and a tick stream for the shadow engine's exit evaluation.
type PriceProvider interface {
	// Snapshot returns the current price/spread for a symbol. The tracker
	// freezes the result into the DecisionEvent.
	Snapshot(ctx context.Context, symbol string) (domain.MarketSnapshot, error)

	// Ticks streams subsequent prices for every subscribed symbol until the
	// context is cancelled. The channel is closed on shutdown.
	Ticks(ctx context.Context) (<-chan domain.PriceTick, error)
}
