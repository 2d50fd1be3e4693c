package learning

import (
	"math"
	"sort"
	"time"

	"github.com/alejandrodnm/shadowgate/internal/domain"
)

// Window is one learning cycle's input: every signal, decision and outcome
// consumed from the bus since the previous cycle.
type Window struct {
	Signals   map[string]domain.Signal
	Decisions map[string]domain.DecisionEvent
	Outcomes  []domain.TradeOutcome
	From      time.Time
	To        time.Time
}

// NewWindow returns an empty window.
func NewWindow() *Window {
	return &Window{
		Signals:   make(map[string]domain.Signal),
		Decisions: make(map[string]domain.DecisionEvent),
	}
}

// Add folds one bus event into the window.
func (w *Window) Add(ev domain.Event) {
	switch ev.Kind {
	case domain.EventSignal:
		if ev.Signal != nil {
			w.Signals[ev.SignalID] = *ev.Signal
		}
	case domain.EventDecision:
		if ev.Decision != nil {
			if _, dup := w.Decisions[ev.SignalID]; !dup {
				w.Decisions[ev.SignalID] = *ev.Decision
			}
		}
	case domain.EventOutcome:
		if ev.Outcome != nil {
			w.Outcomes = append(w.Outcomes, *ev.Outcome)
		}
	}
	if w.From.IsZero() || ev.RecordedAt.Before(w.From) {
		w.From = ev.RecordedAt
	}
	if ev.RecordedAt.After(w.To) {
		w.To = ev.RecordedAt
	}
}

// Usable returns the outcomes that may enter aggregates: INCOMPLETE shadows
// are excluded — a missing price stream is not a zero-P&L trade.
func (w *Window) Usable() []domain.TradeOutcome {
	out := make([]domain.TradeOutcome, 0, len(w.Outcomes))
	for _, o := range w.Outcomes {
		if o.Incomplete {
			continue
		}
		out = append(out, o)
	}
	return out
}

// ComponentStats computes win-rate and expectancy per component across every
// usable outcome whose originating signal mentioned that component.
func ComponentStats(w *Window) []domain.ComponentStat {
	type acc struct {
		samples int
		wins    int
		pnl     float64
	}
	byComponent := make(map[string]*acc)

	for _, o := range w.Usable() {
		sig, ok := w.Signals[o.SignalID]
		if !ok {
			continue
		}
		for name := range sig.ComponentScores {
			a := byComponent[name]
			if a == nil {
				a = &acc{}
				byComponent[name] = a
			}
			a.samples++
			a.pnl += o.PnL
			if o.PnL > 0 {
				a.wins++
			}
		}
	}

	stats := make([]domain.ComponentStat, 0, len(byComponent))
	for name, a := range byComponent {
		stats = append(stats, domain.ComponentStat{
			Component:  name,
			Samples:    a.samples,
			Wins:       a.wins,
			WinRate:    float64(a.wins) / float64(a.samples),
			Expectancy: a.pnl / float64(a.samples),
		})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Expectancy > stats[j].Expectancy })
	return stats
}

// GuardRecords computes per-guard effectiveness from the shadow outcomes of
// the signals each guard blocked in the window.
//
// A blocked signal whose shadow closed in profit is money the guard cost
// (missed profit); one that closed at a loss is money the guard saved.
func GuardRecords(w *Window) []domain.GuardEffectiveness {
	shadowByID := make(map[string]domain.TradeOutcome, len(w.Outcomes))
	for _, o := range w.Usable() {
		if o.Shadow {
			shadowByID[o.SignalID] = o
		}
	}

	byGuard := make(map[string]*domain.GuardEffectiveness)
	for id, d := range w.Decisions {
		if !d.Blocked() {
			continue
		}
		o, ok := shadowByID[id]
		if !ok {
			continue
		}
		rec := byGuard[d.BlockerGuard]
		if rec == nil {
			rec = &domain.GuardEffectiveness{
				GuardName:   d.BlockerGuard,
				WindowStart: w.From,
				WindowEnd:   w.To,
			}
			byGuard[d.BlockerGuard] = rec
		}
		rec.BlockedCount++
		if o.PnL > 0 {
			rec.MissedProfit += o.PnL
		} else {
			rec.AvoidedLoss += -o.PnL
		}
	}

	records := make([]domain.GuardEffectiveness, 0, len(byGuard))
	for _, rec := range byGuard {
		rec.NetEffect = rec.AvoidedLoss - rec.MissedProfit
		rec.Effective = rec.NetEffect > 0
		records = append(records, *rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].GuardName < records[j].GuardName })
	return records
}

// validateOutcomes rejects corrupt records before they can poison a cycle.
func validateOutcomes(outcomes []domain.TradeOutcome) error {
	for _, o := range outcomes {
		if math.IsNaN(o.PnL) || math.IsInf(o.PnL, 0) {
			return &domain.LearningError{Reason: "corrupt outcome record for signal " + o.SignalID}
		}
	}
	return nil
}
