// Package metrics declares the Prometheus collectors the Worker and
// debug HTTP surface publish, and a minimal /metrics scrape server.
// Grounded on the teacher's internal/metrics/metrics.go, retargeted from
// HTTP-job-execution metrics to the cold-path job kinds this service
// actually runs.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Job queue / worker metrics

	JobPickupLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "memoryd",
		Name:      "job_pickup_latency_seconds",
		Help:      "Time from job creation to a claimer picking it up.",
		Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})

	JobExecutionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "memoryd",
		Name:      "job_execution_duration_seconds",
		Help:      "Duration of a job handler's execution, by kind.",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"kind"})

	JobsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "memoryd",
		Name:      "worker_jobs_in_flight",
		Help:      "Number of jobs currently being executed across all claimers.",
	})

	JobsCompletedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "memoryd",
		Name:      "jobs_completed_total",
		Help:      "Total jobs finished, by kind and outcome (done/retry/failed).",
	}, []string{"kind", "outcome"})

	// Reaper metrics (folded into each claimer's loop, see internal/worker)

	ReaperRescuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "memoryd",
		Name:      "reaper_rescued_total",
		Help:      "Total stale (lease-expired) jobs handled, by action.",
	}, []string{"action"})

	// Hot-path metrics

	RetrievalDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "memoryd",
		Name:      "retrieval_duration_seconds",
		Help:      "Wall-clock time of one hook-prompt Classify+Retrieve+Format pass.",
		Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 1.5, 2, 3},
	})

	RetrievalBranchTimeouts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "memoryd",
		Name:      "retrieval_branch_timeouts_total",
		Help:      "Number of Retriever branches that hit the deadline before returning.",
	}, []string{"branch"})

	// HTTP metrics (debug/introspection surface)

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "memoryd",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "memoryd",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests.",
	}, []string{"method", "path", "status"})
)

func Register() {
	prometheus.MustRegister(
		JobPickupLatency,
		JobExecutionDuration,
		JobsInFlight,
		JobsCompletedTotal,
		ReaperRescuedTotal,
		RetrievalDuration,
		RetrievalBranchTimeouts,
		HTTPRequestDuration,
		HTTPRequestsTotal,
	)
}

// NewServer serves the Prometheus scrape endpoint. Health/readiness and
// the debug introspection routes live on internal/transport/http's
// separate, localhost-bound router.
func NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{Addr: addr, Handler: mux}
}
