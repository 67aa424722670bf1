// Package metrics exposes Prometheus instrumentation for scope checks.
// All methods are nil-receiver safe so instrumentation stays optional.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Check outcome label values.
const (
	OutcomeAccepted       = "accepted"
	OutcomeFailed         = "failed"
	OutcomeInputError     = "input_error"
	OutcomeBudgetExceeded = "budget_exceeded"
)

// Metrics holds the scope check instrument set.
type Metrics struct {
	checksStarted   prometheus.Counter
	checksCompleted *prometheus.CounterVec
	repairCycles    prometheus.Counter
	sourceFailures  *prometheus.CounterVec
	checkDuration   prometheus.Histogram
	queueDepth      prometheus.Gauge
}

// New registers the instrument set against reg and returns it.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		checksStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "scopeguard_checks_started_total",
			Help: "Scope checks started.",
		}),
		checksCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scopeguard_checks_completed_total",
			Help: "Scope checks completed, by outcome.",
		}, []string{"outcome"}),
		repairCycles: factory.NewCounter(prometheus.CounterOpts{
			Name: "scopeguard_repair_cycles_total",
			Help: "Judge repair cycles run after malformed model output.",
		}),
		sourceFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scopeguard_retrieval_source_failures_total",
			Help: "Retrieval source failures, by source.",
		}, []string{"source"}),
		checkDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "scopeguard_check_duration_seconds",
			Help:    "End-to-end scope check duration.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "scopeguard_checks_in_flight",
			Help: "Scope checks currently executing.",
		}),
	}
}

// CheckStarted records the start of a check.
func (m *Metrics) CheckStarted() {
	if m == nil {
		return
	}
	m.checksStarted.Inc()
	m.queueDepth.Inc()
}

// CheckCompleted records a finished check with its outcome and duration.
func (m *Metrics) CheckCompleted(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.checksCompleted.WithLabelValues(outcome).Inc()
	m.checkDuration.Observe(elapsed.Seconds())
	m.queueDepth.Dec()
}

// RepairCycles adds n judge repair cycles.
func (m *Metrics) RepairCycles(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.repairCycles.Add(float64(n))
}

// SourceFailed records the loss of one retrieval source.
func (m *Metrics) SourceFailed(source string) {
	if m == nil {
		return
	}
	m.sourceFailures.WithLabelValues(source).Inc()
}
