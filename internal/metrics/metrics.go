// Package metrics provides Prometheus metrics for vigil.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "vigil"
)

// Runner metrics
var (
	// MonitorRunsTotal counts monitor runs by outcome.
	MonitorRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runner",
			Name:      "monitor_runs_total",
			Help:      "Total monitor runs",
		},
		[]string{"result"}, // ok, error
	)

	// MonitorRunDuration tracks monitor run latency.
	MonitorRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "runner",
			Name:      "monitor_run_duration_seconds",
			Help:      "Monitor run latency in seconds",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	// TriggersFiredTotal counts trigger evaluations that fired.
	TriggersFiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runner",
			Name:      "triggers_fired_total",
			Help:      "Total trigger evaluations that returned true",
		},
	)

	// AlertsComposedTotal counts composed alerts by resulting state.
	AlertsComposedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runner",
			Name:      "alerts_composed_total",
			Help:      "Total alerts composed, by state",
		},
		[]string{"state"},
	)
)

// Store metrics
var (
	// AlertWritesTotal counts alert bulk items submitted.
	AlertWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "alert_writes_total",
			Help:      "Total alert bulk items submitted, by operation",
		},
		[]string{"op"}, // index, delete
	)

	// BulkRetriesTotal counts alert-save bulk resubmissions after 429s.
	BulkRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "bulk_retries_total",
			Help:      "Total alert-save bulk resubmissions after 429 rejections",
		},
	)

	// AlertsMovedTotal counts alerts moved to history on reconfigure.
	AlertsMovedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "alerts_moved_total",
			Help:      "Total stale alerts moved into the history index",
		},
	)
)

// Destination metrics
var (
	// PublishesTotal counts destination publishes by type and outcome.
	PublishesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "destination",
			Name:      "publishes_total",
			Help:      "Total destination publishes",
		},
		[]string{"type", "result"}, // result: ok, error
	)

	// PublishDuration tracks destination publish latency.
	PublishDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "destination",
			Name:      "publish_duration_seconds",
			Help:      "Destination publish latency in seconds",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"type"},
	)

	// ActionsThrottledTotal counts actions suppressed by throttling.
	ActionsThrottledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "destination",
			Name:      "actions_throttled_total",
			Help:      "Total action dispatches suppressed by throttling",
		},
	)
)

// Info metric
var (
	// BuildInfo exposes build information.
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information",
		},
		[]string{"version", "commit", "build_time"},
	)
)

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, commit, buildTime string) {
	BuildInfo.WithLabelValues(version, commit, buildTime).Set(1)
}
