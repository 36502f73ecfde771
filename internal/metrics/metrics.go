// Package metrics exposes Prometheus instrumentation for the quiz ledger and
// message retention.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "epicstoria"

// Quiz completion outcomes.
const (
	OutcomeAwarded    = "awarded"
	OutcomeZeroPoints = "zero_points"
	OutcomeCooldown   = "cooldown"
)

// Message deletion reasons.
const (
	ReasonAge    = "age"
	ReasonExcess = "excess"
	ReasonInline = "inline"
)

// Cleanup run statuses.
const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusFailure = "failure"
)

// Metrics holds every collector the service records to.
type Metrics struct {
	registry *prometheus.Registry

	QuizCompletions *prometheus.CounterVec
	PointsAwarded   *prometheus.CounterVec
	MessagesDeleted *prometheus.CounterVec
	CleanupRuns     *prometheus.CounterVec
	CleanupDuration prometheus.Histogram
}

// New creates the collectors and registers them on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		QuizCompletions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quiz_completions_total",
			Help:      "Quiz completion attempts by outcome.",
		}, []string{"outcome"}),
		PointsAwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "points_awarded_total",
			Help:      "Points credited to users by source.",
		}, []string{"source"}),
		MessagesDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_deleted_total",
			Help:      "Chat messages removed by retention, by reason.",
		}, []string{"reason"}),
		CleanupRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_runs_total",
			Help:      "Message cleanup runs by status.",
		}, []string{"status"}),
		CleanupDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cleanup_duration_seconds",
			Help:      "Wall time of a message cleanup run.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
	}

	m.registry.MustRegister(
		m.QuizCompletions,
		m.PointsAwarded,
		m.MessagesDeleted,
		m.CleanupRuns,
		m.CleanupDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// The recorders below are nil-safe so components can run without metrics.

// RecordQuiz counts a quiz completion attempt.
func (m *Metrics) RecordQuiz(outcome string) {
	if m == nil {
		return
	}
	m.QuizCompletions.WithLabelValues(outcome).Inc()
}

// RecordPoints counts points credited from source.
func (m *Metrics) RecordPoints(source string, points int) {
	if m == nil || points <= 0 {
		return
	}
	m.PointsAwarded.WithLabelValues(source).Add(float64(points))
}

// RecordDeleted counts messages removed for reason.
func (m *Metrics) RecordDeleted(reason string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.MessagesDeleted.WithLabelValues(reason).Add(float64(n))
}

// RecordCleanup counts a cleanup run and its duration.
func (m *Metrics) RecordCleanup(status string, seconds float64) {
	if m == nil {
		return
	}
	m.CleanupRuns.WithLabelValues(status).Inc()
	m.CleanupDuration.Observe(seconds)
}
