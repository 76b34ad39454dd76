package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	BuildsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "logdata_index_builds_started_total",
		Help: "Total number of index builds started, including extensions",
	})

	BuildsCancelled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "logdata_index_builds_cancelled_total",
		Help: "Total number of index builds stopped before completion",
	})

	BuildsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "logdata_index_builds_failed_total",
		Help: "Total number of index builds aborted by a read error",
	})

	BuildSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "logdata_index_build_seconds",
		Help:    "Histogram of index scan durations",
		Buckets: prometheus.DefBuckets,
	})

	LinesIndexed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "logdata_lines_indexed_total",
		Help: "Total number of lines recorded by completed scans",
	})

	MaterializeErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "logdata_materialize_errors_total",
		Help: "Total number of line reads that failed on the byte source",
	})

	DegradedLines = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "logdata_degraded_lines_total",
		Help: "Total number of lines materialized with replacement characters",
	})

	StaleTransitions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "logdata_stale_transitions_total",
		Help: "Total number of views retired by incompatible file changes",
	})

	FilterRuns = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "logdata_filter_runs_total",
		Help: "Total number of predicate evaluations over a view",
	})

	CurrentGenerationLines = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "logdata_current_generation_lines",
		Help: "Line count of the most recently published view",
	})
)

// Collectors returns every collector in this package
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		BuildsStarted,
		BuildsCancelled,
		BuildsFailed,
		BuildSeconds,
		LinesIndexed,
		MaterializeErrors,
		DegradedLines,
		StaleTransitions,
		FilterRuns,
		CurrentGenerationLines,
	}
}

// Register adds the collectors to reg. Collectors already registered on
// reg are skipped.
func Register(reg prometheus.Registerer) error {
	for _, c := range Collectors() {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}
