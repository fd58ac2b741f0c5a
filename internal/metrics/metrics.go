package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metric label values for test results and run outcomes.
const (
	ResultPassed = "passed"
	ResultFailed = "failed"

	RunCompleted = "completed"
	RunAborted   = "aborted"
)

var (
	TestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paratest_tests_total",
			Help: "Total number of tests executed, by result.",
		},
		[]string{"result"},
	)

	TestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "paratest_test_duration_seconds",
			Help:    "Wall clock duration of successful tests, in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		},
	)

	WorkerAborts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "paratest_worker_aborts_total",
			Help: "Total number of workers stopped by a failing hook.",
		},
	)

	QueueItems = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "paratest_queue_items",
			Help: "Number of items, sentinels included, waiting in the shared queue.",
		},
	)

	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paratest_runs_total",
			Help: "Total number of runs, by outcome.",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(TestsTotal)
	prometheus.MustRegister(TestDuration)
	prometheus.MustRegister(WorkerAborts)
	prometheus.MustRegister(QueueItems)
	prometheus.MustRegister(RunsTotal)

	// Pre-initialize counter label combinations so they appear in /metrics
	// with value 0 from startup, rather than only after first observation.
	TestsTotal.WithLabelValues(ResultPassed)
	TestsTotal.WithLabelValues(ResultFailed)
	RunsTotal.WithLabelValues(RunCompleted)
	RunsTotal.WithLabelValues(RunAborted)
}
