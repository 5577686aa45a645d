package cron

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes scheduler observability counters.
type Metrics struct {
	Wakeups     prometheus.Counter
	RunsTotal   *prometheus.CounterVec
	ActiveJobs  prometheus.Gauge
	RunDuration prometheus.Histogram
}

// NewMetrics registers scheduler metrics with the given registerer.
// Passing nil uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		Wakeups: factory.NewCounter(prometheus.CounterOpts{
			Name: "countbot_scheduler_wakeups_total",
			Help: "Number of times the scheduler timer fired.",
		}),
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "countbot_scheduler_runs_total",
			Help: "Job executions by terminal status.",
		}, []string{"status"}),
		ActiveJobs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "countbot_scheduler_active_jobs",
			Help: "Jobs currently executing.",
		}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "countbot_scheduler_run_duration_seconds",
			Help:    "Wall-clock duration of job executions.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
	}
}

// NewNopMetrics returns metrics bound to a throwaway registry, for tests
// and callers that do not export metrics.
func NewNopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
