package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/alejandrodnm/shadowgate/internal/adapters/notify"
	"github.com/alejandrodnm/shadowgate/internal/adapters/storage"
	"github.com/alejandrodnm/shadowgate/internal/application/analytics"
	"github.com/alejandrodnm/shadowgate/internal/bus"
	"github.com/alejandrodnm/shadowgate/internal/domain"
	"github.com/alejandrodnm/shadowgate/internal/health"
)

// runReport prints the full analytics view from the durable log: report,
// daily history and the current weights.
func runReport(ctx context.Context, b *bus.Bus, store *storage.SQLiteStore, console *notify.Console) {
	reporter := analytics.New(analytics.DefaultConfig(), b, store, console, health.NewRecorder(nil))

	if err := reporter.RefreshDailySummaries(ctx); err != nil {
		slog.Error("daily summary refresh failed", "err", err)
		os.Exit(1)
	}
	if err := reporter.Report(ctx, time.Time{}, time.Now().UTC()); err != nil {
		slog.Error("report failed", "err", err)
		os.Exit(1)
	}

	summaries, err := store.DailySummaries(ctx)
	if err != nil {
		slog.Error("reading daily summaries", "err", err)
		os.Exit(1)
	}
	console.PrintDailySummaries(summaries)

	ws, err := store.CurrentWeights(ctx)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		slog.Info("no weights published yet")
	case err != nil:
		slog.Error("reading weights", "err", err)
		os.Exit(1)
	default:
		console.PrintWeights(ws)
	}
}

// runReplay re-prints every decision in the event log, oldest first. Useful
// to audit what the gate did without touching any state.
func runReplay(ctx context.Context, b *bus.Bus, console *notify.Console) {
	var decisions int
	err := b.Replay(ctx, 0, func(ev domain.Event) error {
		if ev.Kind != domain.EventDecision || ev.Decision == nil {
			return nil
		}
		decisions++
		return console.NotifyDecision(ctx, *ev.Decision)
	})
	if err != nil {
		slog.Error("replay failed", "err", err)
		os.Exit(1)
	}
	slog.Info("replay complete", "decisions", decisions)
}
