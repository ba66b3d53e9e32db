// Package metrics exposes the Prometheus instruments of the verification
// gateway. Every method is safe on a nil *Metrics, which tests rely on.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Terminal pipeline outcomes
	Outcomes *prometheus.CounterVec

	// Reputation lookups by result: "ok", "degraded", "cache_hit"
	ReputationLookups *prometheus.CounterVec

	PipelineLatency prometheus.Histogram

	// Records purged by erasure sweeps
	ErasuresPurged prometheus.Counter

	// Audit entries dropped because the dispatcher buffer was full
	AuditDropped prometheus.Counter
}

// New registers the instruments with the default registry. Call it once per process.
func New() *Metrics {
	return &Metrics{
		Outcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "verify_outcomes_total",
			Help: "Verification runs by terminal outcome",
		}, []string{"outcome"}),

		ReputationLookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "verify_reputation_lookups_total",
			Help: "Origin reputation lookups by result",
		}, []string{"result"}),

		PipelineLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "verify_pipeline_duration_seconds",
			Help:    "Duration of a full verification run including upstream calls",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),

		ErasuresPurged: promauto.NewCounter(prometheus.CounterOpts{
			Name: "verify_erasures_purged_total",
			Help: "Verification records deleted by erasure sweeps",
		}),

		AuditDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "verify_audit_dropped_total",
			Help: "Audit entries dropped because the dispatch buffer was full",
		}),
	}
}

func (m *Metrics) IncrementOutcome(outcome string) {
	if m != nil {
		m.Outcomes.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) IncrementLookup(result string) {
	if m != nil {
		m.ReputationLookups.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) ObservePipelineLatency(d time.Duration) {
	if m != nil {
		m.PipelineLatency.Observe(d.Seconds())
	}
}

func (m *Metrics) AddPurged(n int) {
	if m != nil && n > 0 {
		m.ErasuresPurged.Add(float64(n))
	}
}

func (m *Metrics) IncrementAuditDropped() {
	if m != nil {
		m.AuditDropped.Inc()
	}
}
