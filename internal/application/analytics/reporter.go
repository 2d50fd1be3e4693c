// Package analytics derives the read-only views persisted events support:
// what blocking cost, how fast signals decay, which components earn their
// weight, and which guards earn their keep. Everything here is computed by
// replaying the event log — the reporter owns no state of its own beyond the
// persisted daily summaries.
package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alejandrodnm/shadowgate/internal/application/learning"
	"github.com/alejandrodnm/shadowgate/internal/bus"
	"github.com/alejandrodnm/shadowgate/internal/domain"
	"github.com/alejandrodnm/shadowgate/internal/health"
	"github.com/alejandrodnm/shadowgate/internal/ports"
)

// Config holds the reporter's cadences.
type Config struct {
	SummaryEvery time.Duration // how often the current day's summary is refreshed
	ReportEvery  time.Duration // how often the full report is rendered (0 disables)
}

// DefaultConfig returns production settings.
func DefaultConfig() Config {
	return Config{
		SummaryEvery: 15 * time.Minute,
		ReportEvery:  time.Hour,
	}
}

// Reporter builds analytics reports and daily summaries from the event log.
type Reporter struct {
	cfg       Config
	bus       *bus.Bus
	summaries ports.SummaryStore
	notifier  ports.Notifier
	status    *health.Recorder
}

// New builds a Reporter with all dependencies injected.
func New(cfg Config, b *bus.Bus, summaries ports.SummaryStore, notifier ports.Notifier, status *health.Recorder) *Reporter {
	return &Reporter{cfg: cfg, bus: b, summaries: summaries, notifier: notifier, status: status}
}

// Run refreshes the current day's summary and periodically renders the full
// report until the context is cancelled.
func (r *Reporter) Run(ctx context.Context) error {
	summaryTicker := time.NewTicker(r.cfg.SummaryEvery)
	defer summaryTicker.Stop()

	var reportCh <-chan time.Time
	if r.cfg.ReportEvery > 0 {
		reportTicker := time.NewTicker(r.cfg.ReportEvery)
		defer reportTicker.Stop()
		reportCh = reportTicker.C
	}

	slog.Info("analytics reporter starting", "summary_every", r.cfg.SummaryEvery, "report_every", r.cfg.ReportEvery)

	for {
		select {
		case <-ctx.Done():
			slog.Info("analytics reporter stopped")
			return nil
		case <-summaryTicker.C:
			if err := r.RefreshDailySummaries(ctx); err != nil {
				r.status.RecordError(health.ClassIO, "", err)
				slog.Warn("daily summary refresh failed", "err", err)
			}
		case <-reportCh:
			if err := r.Report(ctx, time.Time{}, time.Now().UTC()); err != nil {
				slog.Warn("report rendering failed", "err", err)
			}
		}
	}
}

// Report builds a report for [from, to] and renders it through the notifier.
// A zero from means "since the beginning of the log".
func (r *Reporter) Report(ctx context.Context, from, to time.Time) error {
	report, err := r.BuildReport(ctx, from, to)
	if err != nil {
		return err
	}
	return r.notifier.NotifyReport(ctx, report)
}

// BuildReport replays the event log and computes every derived view for the
// given window.
func (r *Reporter) BuildReport(ctx context.Context, from, to time.Time) (domain.AnalyticsReport, error) {
	window, _, err := r.collect(ctx, from, to)
	if err != nil {
		return domain.AnalyticsReport{}, fmt.Errorf("analytics: collecting window: %w", err)
	}

	return domain.AnalyticsReport{
		From:        window.From,
		To:          window.To,
		BlockedCost: blockedCost(window),
		Decay:       decayStats(window),
		Leaderboard: learning.ComponentStats(window),
		Guards:      learning.GuardRecords(window),
	}, nil
}

// RefreshDailySummaries recomputes every UTC day present in the log and
// upserts the rows. Recomputing from the log keeps the summaries correct even
// after a crash mid-day.
func (r *Reporter) RefreshDailySummaries(ctx context.Context) error {
	window, integrityHits, err := r.collect(ctx, time.Time{}, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("analytics: collecting window: %w", err)
	}

	for _, s := range dailySummaries(window, integrityHits) {
		if err := r.summaries.SaveDailySummary(ctx, s); err != nil {
			return fmt.Errorf("analytics: saving summary for %s: %w", s.Date.Format("2006-01-02"), err)
		}
	}
	return nil
}

// collect replays the log into a window, filtering by RecordedAt. It also
// counts integrity events per UTC day, which the learning window does not
// carry.
func (r *Reporter) collect(ctx context.Context, from, to time.Time) (*learning.Window, map[time.Time]int, error) {
	window := learning.NewWindow()
	integrityByDay := make(map[time.Time]int)
	err := r.bus.Replay(ctx, 0, func(ev domain.Event) error {
		if !from.IsZero() && ev.RecordedAt.Before(from) {
			return nil
		}
		if !to.IsZero() && ev.RecordedAt.After(to) {
			return nil
		}
		if ev.Kind == domain.EventIntegrity {
			integrityByDay[utcDay(ev.RecordedAt)]++
			return nil
		}
		window.Add(ev)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return window, integrityByDay, nil
}

// blockedCost totals the counterfactual P&L of every blocked signal whose
// shadow resolved, and counts the ones that never did.
func blockedCost(w *learning.Window) domain.BlockedCost {
	shadowByID := make(map[string]domain.TradeOutcome)
	for _, o := range w.Outcomes {
		if o.Shadow {
			shadowByID[o.SignalID] = o
		}
	}

	var cost domain.BlockedCost
	for id, d := range w.Decisions {
		if !d.Blocked() {
			continue
		}
		cost.BlockedSignals++
		o, ok := shadowByID[id]
		if !ok || o.Incomplete {
			cost.Incomplete++
			continue
		}
		if o.PnL > 0 {
			cost.MissedProfit += o.PnL
		} else {
			cost.AvoidedLoss += -o.PnL
		}
	}
	cost.NetSaved = cost.AvoidedLoss - cost.MissedProfit
	return cost
}

// decayStats measures how long signals live between generation and their
// resolved exit, over every usable outcome whose signal is in the window.
func decayStats(w *learning.Window) domain.DecayStats {
	var stats domain.DecayStats
	var seconds []float64

	for _, o := range w.Usable() {
		sig, ok := w.Signals[o.SignalID]
		if !ok {
			continue
		}
		stats.Samples++
		if o.Shadow && o.ExitReason == domain.ExitTTLExpiry {
			stats.ExpiredCount++
		} else if !o.Shadow {
			stats.Executed++
		}
		seconds = append(seconds, o.ClosedAt.Sub(sig.GeneratedAt).Seconds())
	}
	if len(seconds) == 0 {
		return stats
	}

	sort.Float64s(seconds)
	var sum float64
	for _, s := range seconds {
		sum += s
	}
	stats.MeanSeconds = sum / float64(len(seconds))
	stats.P50Seconds = percentile(seconds, 0.50)
	stats.P90Seconds = percentile(seconds, 0.90)
	stats.MaxSeconds = seconds[len(seconds)-1]
	return stats
}

// dailySummaries groups the window per UTC day.
func dailySummaries(w *learning.Window, integrityByDay map[time.Time]int) []domain.DailySummary {
	byDay := make(map[time.Time]*domain.DailySummary)
	day := func(at time.Time) *domain.DailySummary {
		d := utcDay(at)
		s := byDay[d]
		if s == nil {
			s = &domain.DailySummary{Date: d}
			byDay[d] = s
		}
		return s
	}

	for _, sig := range w.Signals {
		day(sig.GeneratedAt).Signals++
	}
	for _, dec := range w.Decisions {
		if dec.Blocked() {
			day(dec.DecidedAt).Blocked++
		} else {
			day(dec.DecidedAt).Approved++
		}
	}
	for _, o := range w.Outcomes {
		if o.Incomplete {
			continue
		}
		s := day(o.ClosedAt)
		if o.Shadow {
			s.ShadowClosed++
			s.ShadowPnL += o.PnL
		} else {
			s.RealPnL += o.PnL
		}
	}
	for d, hits := range integrityByDay {
		s := byDay[d]
		if s == nil {
			s = &domain.DailySummary{Date: d}
			byDay[d] = s
		}
		s.IntegrityHits = hits
	}

	out := make([]domain.DailySummary, 0, len(byDay))
	for _, s := range byDay {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

func utcDay(at time.Time) time.Time {
	u := at.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// percentile uses nearest-rank on an already sorted slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p*float64(len(sorted))+0.5) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
