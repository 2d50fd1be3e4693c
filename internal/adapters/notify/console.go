// Package notify renderiza las vistas derivadas para un operador en consola.
package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/shadowgate/internal/domain"
)

// Console implementa ports.Notifier.
type Console struct {
	out     io.Writer
	verbose bool // imprime cada decisión, no solo los bloqueos
}

// NewConsole crea un notificador que escribe a stdout.
func NewConsole(verbose bool) *Console {
	return &Console{out: os.Stdout, verbose: verbose}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer, verbose bool) *Console {
	return &Console{out: w, verbose: verbose}
}

// NotifyDecision imprime una línea por decisión. En modo no-verbose solo se
// imprimen los bloqueos, que son los que un operador quiere ver pasar.
func (c *Console) NotifyDecision(_ context.Context, ev domain.DecisionEvent) error {
	now := ev.DecidedAt.Format("15:04:05")
	if ev.Blocked() {
		fmt.Fprintf(c.out, "[%s] BLOCK %-12s score=%.3f guard=%s: %s\n",
			now, shortID(ev.SignalID), ev.CompositeScore, ev.BlockerGuard, ev.BlockerReason)
		return nil
	}
	if c.verbose {
		fmt.Fprintf(c.out, "[%s] PASS  %-12s score=%.3f tier=%s size=x%.1f @%.2f\n",
			now, shortID(ev.SignalID), ev.CompositeScore, ev.Tier, ev.SizeMultiplier, ev.Snapshot.Price)
	}
	return nil
}

// NotifyReport imprime el informe completo: coste de bloqueo, decay,
// leaderboard de componentes y efectividad de guards.
func (c *Console) NotifyReport(_ context.Context, report domain.AnalyticsReport) error {
	fmt.Fprintf(c.out, "\n=== GATE REPORT %s — %s ===\n",
		windowLabel(report.From), windowLabel(report.To))

	c.printBlockedCost(report.BlockedCost)
	c.printDecay(report.Decay)
	c.printLeaderboard(report.Leaderboard)
	c.printGuards(report.Guards)
	fmt.Fprintln(c.out)
	return nil
}

// printBlockedCost imprime el balance contrafactual de los bloqueos.
func (c *Console) printBlockedCost(cost domain.BlockedCost) {
	fmt.Fprintf(c.out, "\n  BLOCKED OPPORTUNITY COST (%d blocked, %d unresolved)\n",
		cost.BlockedSignals, cost.Incomplete)
	fmt.Fprintf(c.out, "  avoided loss: %+.4f | missed profit: %+.4f | net saved: %+.4f\n",
		cost.AvoidedLoss, cost.MissedProfit, cost.NetSaved)
	if cost.NetSaved >= 0 {
		fmt.Fprintf(c.out, "  >>> the gate is paying for itself\n")
	} else {
		fmt.Fprintf(c.out, "  >>> the gate is blocking more profit than it saves — review guards below\n")
	}
}

// printDecay imprime la distribución de vida de las señales.
func (c *Console) printDecay(d domain.DecayStats) {
	if d.Samples == 0 {
		fmt.Fprintf(c.out, "\n  SIGNAL DECAY: no resolved signals yet\n")
		return
	}
	fmt.Fprintf(c.out, "\n  SIGNAL DECAY (%d samples, %d executed, %d expired)\n",
		d.Samples, d.Executed, d.ExpiredCount)
	fmt.Fprintf(c.out, "  mean %.0fs | p50 %.0fs | p90 %.0fs | max %.0fs\n",
		d.MeanSeconds, d.P50Seconds, d.P90Seconds, d.MaxSeconds)
}

// printLeaderboard imprime la tabla de componentes ordenada por expectancy.
func (c *Console) printLeaderboard(stats []domain.ComponentStat) {
	if len(stats) == 0 {
		return
	}
	fmt.Fprintf(c.out, "\n  COMPONENT LEADERBOARD\n")
	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Component", "Samples", "Win rate", "Expectancy")
	for i, s := range stats {
		table.Append(
			fmt.Sprintf("%d", i+1),
			s.Component,
			fmt.Sprintf("%d", s.Samples),
			fmt.Sprintf("%.1f%%", s.WinRate*100),
			fmt.Sprintf("%+.4f", s.Expectancy),
		)
	}
	table.Render()
}

// printGuards imprime la tabla de efectividad de guards.
func (c *Console) printGuards(guards []domain.GuardEffectiveness) {
	if len(guards) == 0 {
		return
	}
	fmt.Fprintf(c.out, "\n  GUARD EFFECTIVENESS\n")
	table := tablewriter.NewWriter(c.out)
	table.Header("Guard", "Blocked", "Avoided loss", "Missed profit", "Net effect", "Verdict")
	for _, g := range guards {
		verdict := "EARNING"
		if !g.Effective {
			verdict = "COSTING"
		}
		table.Append(
			g.GuardName,
			fmt.Sprintf("%d", g.BlockedCount),
			fmt.Sprintf("%+.4f", g.AvoidedLoss),
			fmt.Sprintf("%+.4f", -g.MissedProfit),
			fmt.Sprintf("%+.4f", g.NetEffect),
			verdict,
		)
	}
	table.Render()
}

// PrintDailySummaries imprime el histórico de actividad por día UTC.
func (c *Console) PrintDailySummaries(summaries []domain.DailySummary) {
	if len(summaries) == 0 {
		fmt.Fprintln(c.out, "\n  No daily summaries yet. Run the gate first.")
		return
	}

	fmt.Fprintf(c.out, "\n=== DAILY ACTIVITY (%d days) ===\n", len(summaries))
	table := tablewriter.NewWriter(c.out)
	table.Header("Date", "Signals", "Approved", "Blocked", "Shadow closed", "Shadow PnL", "Real PnL", "Integrity")

	var shadowTotal, realTotal float64
	for _, s := range summaries {
		shadowTotal += s.ShadowPnL
		realTotal += s.RealPnL
		table.Append(
			s.Date.Format("2006-01-02"),
			fmt.Sprintf("%d", s.Signals),
			fmt.Sprintf("%d", s.Approved),
			fmt.Sprintf("%d", s.Blocked),
			fmt.Sprintf("%d", s.ShadowClosed),
			fmt.Sprintf("%+.4f", s.ShadowPnL),
			fmt.Sprintf("%+.4f", s.RealPnL),
			fmt.Sprintf("%d", s.IntegrityHits),
		)
	}
	table.Render()
	fmt.Fprintf(c.out, "  totals: shadow %+.4f | real %+.4f\n\n", shadowTotal, realTotal)
}

// PrintWeights imprime el WeightSet vigente.
func (c *Console) PrintWeights(ws domain.WeightSet) {
	fmt.Fprintf(c.out, "\n  WEIGHTS v%d (updated %s)\n", ws.Version, windowLabel(ws.UpdatedAt))
	names := make([]string, 0, len(ws.Weights))
	for name := range ws.Weights {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(c.out, "    %-14s %.4f\n", name, ws.Weights[name])
	}
}

// --- helpers ---

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func windowLabel(at time.Time) string {
	if at.IsZero() {
		return "start"
	}
	return at.UTC().Format("2006-01-02 15:04")
}
