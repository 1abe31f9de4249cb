package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Queue metrics
	JobsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_jobs_processed_total",
			Help: "Total number of jobs completed by type",
		},
		[]string{"type"},
	)

	JobsRetriedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_jobs_retried_total",
			Help: "Total number of job attempts requeued for retry by type",
		},
		[]string{"type"},
	)

	JobsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_jobs_failed_total",
			Help: "Total number of jobs that exhausted their retries by type",
		},
		[]string{"type"},
	)

	JobsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_jobs_active",
			Help: "Number of jobs currently executing",
		},
	)

	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "burrow_job_duration_seconds",
			Help:    "Job handler execution time in seconds by type",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	// State metrics
	EnvironmentsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "burrow_environments_total",
			Help: "Total number of environments by status",
		},
		[]string{"status"},
	)

	TasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "burrow_tasks_total",
			Help: "Total number of tasks by status",
		},
		[]string{"status"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(JobsProcessedTotal)
	prometheus.MustRegister(JobsRetriedTotal)
	prometheus.MustRegister(JobsFailedTotal)
	prometheus.MustRegister(JobsActive)
	prometheus.MustRegister(JobDuration)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(EnvironmentsTotal)
	prometheus.MustRegister(TasksTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
