// Package lintmetrics holds the process-wide Prometheus collectors shared by
// the process manager and document linter, mirroring the teacher's
// pkg/metrics observability surface.
package lintmetrics

import "github.com/prometheus/client_golang/prometheus"

//nolint:gochecknoglobals // process-wide collectors, registered once at init
var (
	// ProcessesCreated counts fresh worker provisions. It backs the
	// spec's numberOfProcessesEverCreated test hook as a real operational
	// metric, not just a test counter.
	ProcessesCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "lintorch",
		Subsystem: "procmanager",
		Name:      "processes_created_total",
		Help:      "Number of fresh worker processes ever provisioned.",
	})

	// WorkerCrashes counts worker handles reported crashed.
	WorkerCrashes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "lintorch",
		Subsystem: "procmanager",
		Name:      "worker_crashes_total",
		Help:      "Number of worker handles reported crashed.",
	})

	// LintDuration observes the wall-clock time of one successful engine
	// lint call, keyed implicitly by nothing further (a single document's
	// lints are already serialized).
	LintDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "lintorch",
		Subsystem: "linter",
		Name:      "lint_duration_seconds",
		Help:      "Duration of a single successful engine lint call.",
		Buckets:   prometheus.DefBuckets,
	})

	// LintingCrashedTotal counts public operations that surfaced
	// LintingCrashed to the caller rather than absorbing it.
	LintingCrashedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "lintorch",
		Subsystem: "linter",
		Name:      "linting_crashed_total",
		Help:      "Number of operations that surfaced LintingCrashed to the caller.",
	})
)

func init() { //nolint:gochecknoinits // one-time collector registration
	prometheus.MustRegister(ProcessesCreated, WorkerCrashes, LintDuration, LintingCrashedTotal)
}
