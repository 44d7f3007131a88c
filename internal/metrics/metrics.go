package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rollcall"

var (
	// StatusChanges counts single-student mutations by log action.
	StatusChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "status_changes_total",
		Help:      "Single-student attendance changes by action.",
	}, []string{"action"})

	BulkOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bulk_operations_total",
		Help:      "Bulk attendance operations by target status.",
	}, []string{"status"})

	Resets = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "resets_total",
		Help:      "Manual attendance resets.",
	})

	Rollovers = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rollovers_total",
		Help:      "Day rollovers by reason.",
	}, []string{"reason"})

	Archives = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "archives_total",
		Help:      "Historical records created.",
	})

	SweepDeleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sweep_deleted_total",
		Help:      "Rows removed by the retention sweep.",
	}, []string{"kind"})

	// JobRuns counts scheduled jobs by type and outcome (ok, error).
	JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "job_runs_total",
		Help:      "Scheduled job executions.",
	}, []string{"job", "outcome"})

	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the rate limiter.",
	})

	daySummary = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "today_students",
		Help:      "Students in today's record by status.",
	}, []string{"status"})
)

// ObserveSummary publishes the latest day summary.
func ObserveSummary(present, absent, total int) {
	daySummary.WithLabelValues("present").Set(float64(present))
	daySummary.WithLabelValues("absent").Set(float64(absent))
	daySummary.WithLabelValues("unmarked").Set(float64(total - present - absent))
}
