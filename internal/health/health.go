// Package health keeps the operational status record for the pipeline:
// Prometheus counters for external scraping plus a bounded in-memory tail of
// recent errors per class, consumable by ops tooling. No error class recorded
// here may ever block decisioning — recording is lock-cheap and never fails.
package health

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	maxErrorsPerClass = 50

	// healthyWindow bounds how long a transient IO error keeps the pipeline
	// reported unhealthy; older records stay in the tail for inspection but
	// no longer count against Healthy.
	healthyWindow = 5 * time.Minute
)

// Error classes, matching the pipeline's error taxonomy.
const (
	ClassIntegrity = "data_integrity"
	ClassIO        = "transient_io"
	ClassLearning  = "learning"
	ClassShadow    = "shadow_sim"
)

// ErrorRecord is one captured failure.
type ErrorRecord struct {
	Class      string
	SignalID   string
	Message    string
	OccurredAt time.Time
}

// Status is a point-in-time snapshot of pipeline health.
type Status struct {
	Healthy      bool
	RecentErrors []ErrorRecord
	LastLearning time.Time
	LastDecision time.Time
}

// Recorder collects counters and recent errors. Safe for concurrent use.
type Recorder struct {
	mu           sync.Mutex
	errors       map[string][]ErrorRecord
	lastLearning time.Time
	lastDecision time.Time

	signalsTotal      prometheus.Counter
	decisionsTotal    *prometheus.CounterVec
	shadowOpen        prometheus.Gauge
	integrityTotal    prometheus.Counter
	learningTotal     *prometheus.CounterVec
	droppedDeliveries prometheus.Counter
}

// NewRecorder builds a Recorder and registers its metrics. Pass
// prometheus.NewRegistry() in tests to avoid global registration clashes.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		errors: make(map[string][]ErrorRecord),
		signalsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shadowgate_signals_total",
			Help: "Signals accepted onto the bus.",
		}),
		decisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shadowgate_decisions_total",
			Help: "Decisions emitted, by verdict.",
		}, []string{"decision"}),
		shadowOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shadowgate_shadow_open_positions",
			Help: "Shadow positions currently open.",
		}),
		integrityTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shadowgate_integrity_errors_total",
			Help: "Rejected transitions and duplicate writes.",
		}),
		learningTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shadowgate_learning_cycles_total",
			Help: "Learning cycles, by result.",
		}, []string{"status"}),
		droppedDeliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shadowgate_bus_dropped_deliveries_total",
			Help: "Subscriber deliveries dropped due to a full buffer (recoverable via replay).",
		}),
	}
	if reg != nil {
		reg.MustRegister(r.signalsTotal, r.decisionsTotal, r.shadowOpen,
			r.integrityTotal, r.learningTotal, r.droppedDeliveries)
	}
	return r
}

// RecordError captures one failure in the bounded per-class tail.
func (r *Recorder) RecordError(class, signalID string, err error) {
	if err == nil {
		return
	}
	if class == ClassIntegrity {
		r.integrityTotal.Inc()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	tail := append(r.errors[class], ErrorRecord{
		Class:      class,
		SignalID:   signalID,
		Message:    err.Error(),
		OccurredAt: time.Now().UTC(),
	})
	if len(tail) > maxErrorsPerClass {
		tail = tail[len(tail)-maxErrorsPerClass:]
	}
	r.errors[class] = tail
}

// SignalReceived counts one accepted signal.
func (r *Recorder) SignalReceived() {
	r.signalsTotal.Inc()
}

// DecisionMade counts a decision and stamps the decision path as live.
func (r *Recorder) DecisionMade(decision string) {
	r.decisionsTotal.WithLabelValues(decision).Inc()
	r.mu.Lock()
	r.lastDecision = time.Now().UTC()
	r.mu.Unlock()
}

// ShadowOpened / ShadowClosed track the open-position gauge.
func (r *Recorder) ShadowOpened() { r.shadowOpen.Inc() }
func (r *Recorder) ShadowClosed() { r.shadowOpen.Dec() }

// LearningCycle records the result of one learning pass ("ok" | "aborted").
func (r *Recorder) LearningCycle(status string) {
	r.learningTotal.WithLabelValues(status).Inc()
	if status == "ok" {
		r.mu.Lock()
		r.lastLearning = time.Now().UTC()
		r.mu.Unlock()
	}
}

// DeliveryDropped counts a fan-out drop to a slow subscriber.
func (r *Recorder) DeliveryDropped() { r.droppedDeliveries.Inc() }

// Snapshot returns the current status record.
func (r *Recorder) Snapshot() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	var recent []ErrorRecord
	for _, tail := range r.errors {
		recent = append(recent, tail...)
	}
	healthy := true
	cutoff := time.Now().UTC().Add(-healthyWindow)
	for _, rec := range r.errors[ClassIO] {
		if rec.OccurredAt.After(cutoff) {
			healthy = false
			break
		}
	}
	return Status{
		Healthy:      healthy,
		RecentErrors: recent,
		LastLearning: r.lastLearning,
		LastDecision: r.lastDecision,
	}
}
