package telemetry

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Metrics collects workflow execution metrics on a dedicated registry.
type Metrics struct {
	registry *prometheus.Registry

	// JobsExecuted counts successfully executed jobs.
	JobsExecuted prometheus.Counter

	// JobsFailed counts failed jobs.
	JobsFailed prometheus.Counter

	// JobsSkipped counts jobs skipped because their outputs were up to date.
	JobsSkipped prometheus.Counter

	// QueueLength is the number of jobs in the current flush.
	QueueLength prometheus.Gauge

	// JobDuration observes job execution times in seconds.
	JobDuration prometheus.Histogram
}

// NewMetrics creates a metrics set on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		JobsExecuted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dentist_workflow",
			Name:      "jobs_executed_total",
			Help:      "Number of successfully executed jobs.",
		}),
		JobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dentist_workflow",
			Name:      "jobs_failed_total",
			Help:      "Number of failed jobs.",
		}),
		JobsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dentist_workflow",
			Name:      "jobs_skipped_total",
			Help:      "Number of jobs skipped because outputs were up to date.",
		}),
		QueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dentist_workflow",
			Name:      "queue_length",
			Help:      "Number of jobs in the current flush.",
		}),
		JobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dentist_workflow",
			Name:      "job_duration_seconds",
			Help:      "Job execution time in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 10),
		}),
	}

	registry.MustRegister(
		m.JobsExecuted,
		m.JobsFailed,
		m.JobsSkipped,
		m.QueueLength,
		m.JobDuration,
	)

	return m
}

// Registry returns the underlying registry, e.g. for custom collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Dump renders all metrics in the Prometheus text exposition format.
func (m *Metrics) Dump() (string, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, family := range families {
		if _, err := expfmt.MetricFamilyToText(&sb, family); err != nil {
			return "", err
		}
	}
	return sb.String(), nil
}
