package domain

import "time"

// GuardEffectiveness measures what a guard saved versus what it cost over a
// window, using the shadow outcomes of the signals it blocked.
// net_effect = avoided_loss − missed_profit; positive means the guard earned
// its keep.
type GuardEffectiveness struct {
	GuardName    string
	WindowStart  time.Time
	WindowEnd    time.Time
	BlockedCount int
	AvoidedLoss  float64
	MissedProfit float64
	NetEffect    float64
	Effective    bool
}

// ComponentStat is one leaderboard row: how a signal component performed
// across every consumed outcome that mentioned it.
type ComponentStat struct {
	Component  string
	Samples    int
	Wins       int
	WinRate    float64
	Expectancy float64 // mean PnL per trade mentioning this component
}

// DecayStats describes the distribution of time between GENERATED and the
// terminal execution outcome (EXECUTED or EXPIRED).
type DecayStats struct {
	Samples      int
	Executed     int
	ExpiredCount int
	MeanSeconds  float64
	P50Seconds   float64
	P90Seconds   float64
	MaxSeconds   float64
}

// BlockedCost splits the counterfactual cost of blocking into the profit the
// gate walked away from and the loss it dodged.
type BlockedCost struct {
	BlockedSignals int
	MissedProfit   float64
	AvoidedLoss    float64
	NetSaved       float64 // AvoidedLoss − MissedProfit
	Incomplete     int     // blocked signals whose shadow never resolved
}

// DailySummary aggregates one UTC day of gate activity.
type DailySummary struct {
	Date          time.Time
	Signals       int
	Approved      int
	Blocked       int
	ShadowClosed  int
	ShadowPnL     float64
	RealPnL       float64
	IntegrityHits int
}

// AnalyticsReport bundles every derived read-only view for rendering.
type AnalyticsReport struct {
	From        time.Time
	To          time.Time
	BlockedCost BlockedCost
	Decay       DecayStats
	Leaderboard []ComponentStat
	Guards      []GuardEffectiveness
}
