package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(batchJobsTotal, batchItemsTotal, batchDurationSeconds, batchOutputBytes)
}

var batchJobsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "batch_jobs_total",
		Help: "Batch jobs reaching a terminal status, labeled by status.",
	},
	[]string{"status"}, // 'completed', 'failed', 'cancelled'
)

var batchItemsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "batch_items_total",
		Help: "Per-item composition outcomes across all batch jobs.",
	},
	[]string{"outcome"}, // 'processed', 'failed'
)

var batchDurationSeconds = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "batch_duration_seconds",
		Help:    "Wall-clock duration of a batch run.",
		Buckets: []float64{1, 5, 15, 60, 120, 300, 600, 1800, 3600},
	},
)

var batchOutputBytes = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "batch_output_bytes",
		Help:    "Size distribution of packaged output archives.",
		Buckets: prometheus.ExponentialBuckets(1<<10, 4, 10),
	},
)

func IncBatchJob(status string) {
	batchJobsTotal.WithLabelValues(norm(status)).Inc()
}

func AddBatchItems(outcome string, n int) {
	if n > 0 {
		batchItemsTotal.WithLabelValues(norm(outcome)).Add(float64(n))
	}
}

func ObserveBatchRun(seconds float64, outputBytes int64) {
	batchDurationSeconds.Observe(seconds)
	if outputBytes > 0 {
		batchOutputBytes.Observe(float64(outputBytes))
	}
}
