// Package metrics exposes the Prometheus collectors used by the generation
// pipeline. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "flowsmith"

// Metrics groups every collector the pipeline records.
type Metrics struct {
	// CacheLookups counts cache lookups.
	// Labels: tier (exact, semantic), outcome (hit, miss, error, timeout)
	CacheLookups *prometheus.CounterVec

	// ProviderAttempts counts provider calls inside the retry loop.
	// Labels: model, outcome (valid, invalid, rate_limited, overloaded, empty, error)
	ProviderAttempts *prometheus.CounterVec

	// GenerationSeconds measures the whole retry loop.
	// Labels: diagram_type, status (success, error)
	GenerationSeconds *prometheus.HistogramVec

	// Recommendations counts complexity router outcomes.
	// Labels: diagram_type, recommendation
	Recommendations *prometheus.CounterVec

	// DispatchDecisions counts sync versus background routing.
	// Labels: mode (sync, background, fallback)
	DispatchDecisions *prometheus.CounterVec

	// JobsFinished counts background jobs reaching a terminal state.
	// Labels: status (completed, failed)
	JobsFinished *prometheus.CounterVec

	// TaskFailures counts fire-and-forget side effects that failed.
	// Labels: task
	TaskFailures *prometheus.CounterVec
}

// New registers the collectors on reg. A nil reg uses a private registry so
// tests can build several instances.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Cache lookups by tier and outcome",
		}, []string{"tier", "outcome"}),

		ProviderAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "attempts_total",
			Help:      "Provider attempts by model and outcome",
		}, []string{"model", "outcome"}),

		GenerationSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "duration_seconds",
			Help:      "Duration of the generate and validate loop in seconds",
			Buckets:   []float64{1, 2.5, 5, 10, 20, 30, 45, 60, 120, 300},
		}, []string{"diagram_type", "status"}),

		Recommendations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "complexity",
			Name:      "recommendations_total",
			Help:      "Complexity router recommendations by diagram type",
		}, []string{"diagram_type", "recommendation"}),

		DispatchDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "decisions_total",
			Help:      "Dispatch decisions by execution mode",
		}, []string{"mode"}),

		JobsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "finished_total",
			Help:      "Background jobs by terminal status",
		}, []string{"status"}),

		TaskFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "failures_total",
			Help:      "Failed background side effects by task name",
		}, []string{"task"}),
	}
}

// CacheLookup records one cache tier outcome.
func (m *Metrics) CacheLookup(tier, outcome string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(tier, outcome).Inc()
}

// Attempt records one provider attempt.
func (m *Metrics) Attempt(model, outcome string) {
	if m == nil {
		return
	}
	m.ProviderAttempts.WithLabelValues(model, outcome).Inc()
}

// Generation records the duration of a retry loop.
func (m *Metrics) Generation(diagramType string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.GenerationSeconds.WithLabelValues(diagramType, status).Observe(d.Seconds())
}

// Recommendation records a router outcome.
func (m *Metrics) Recommendation(diagramType, rec string) {
	if m == nil {
		return
	}
	m.Recommendations.WithLabelValues(diagramType, rec).Inc()
}

// Dispatch records a dispatch decision.
func (m *Metrics) Dispatch(mode string) {
	if m == nil {
		return
	}
	m.DispatchDecisions.WithLabelValues(mode).Inc()
}

// JobFinished records a terminal job status.
func (m *Metrics) JobFinished(status string) {
	if m == nil {
		return
	}
	m.JobsFinished.WithLabelValues(status).Inc()
}

// TaskFailed records a failed background side effect.
func (m *Metrics) TaskFailed(task string) {
	if m == nil {
		return
	}
	m.TaskFailures.WithLabelValues(task).Inc()
}
