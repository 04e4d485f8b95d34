// Package metrics defines the Prometheus instrumentation for the extraction
// service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the collectors used across the service. A single instance
// is created in main and handed to the components that record into it.
type Metrics struct {
	SubmissionsTotal *prometheus.CounterVec
	JobsTotal        *prometheus.CounterVec
	RetriesTotal     prometheus.Counter
	ActiveJobs       prometheus.Gauge
	PipelineDuration prometheus.Histogram
}

// New creates the collectors and registers them with the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SubmissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pdf_extract_submissions_total",
			Help: "Extraction submissions by outcome (accepted, deduplicated).",
		}, []string{"outcome"}),
		JobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pdf_extract_jobs_total",
			Help: "Finished extraction jobs by result (completed, validation_failed, transient_failed, timeout, cancelled).",
		}, []string{"result"}),
		RetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pdf_extract_retries_total",
			Help: "Retries scheduled for transient failures.",
		}),
		ActiveJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pdf_extract_active_jobs",
			Help: "Jobs currently being processed by this worker.",
		}),
		PipelineDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pdf_extract_pipeline_duration_seconds",
			Help:    "Wall-clock duration of the extraction pipeline per attempt.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
	}

	reg.MustRegister(
		m.SubmissionsTotal,
		m.JobsTotal,
		m.RetriesTotal,
		m.ActiveJobs,
		m.PipelineDuration,
	)

	return m
}
