package ports

import (
	"context"

	"github.com/alejandrodnm/shadowgate/internal/domain"
)

// Notifier renders derived analytics for an operator.
type Notifier interface {
	// NotifyDecision emits a one-line summary of a fresh decision.
	NotifyDecision(ctx context.Context, ev domain.DecisionEvent) error

	// NotifyReport renders the full analytics report.
	NotifyReport(ctx context.Context, report domain.AnalyticsReport) error
}
