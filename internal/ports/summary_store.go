package ports

import (
	"context"

	"github.com/alejandrodnm/shadowgate/internal/domain"
)

// SummaryStore persists the per-day gate activity snapshots.
type SummaryStore interface {
	SaveDailySummary(ctx context.Context, s domain.DailySummary) error
	DailySummaries(ctx context.Context) ([]domain.DailySummary, error)
}
