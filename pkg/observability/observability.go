package observability

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	JobsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docgen_jobs_submitted_total",
		Help: "The total number of accepted generation jobs",
	}, []string{"kind"})

	SubmissionReplays = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docgen_submission_replays_total",
		Help: "Submissions collapsed onto an existing job by idempotency key",
	})

	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docgen_jobs_processed_total",
		Help: "The total number of processed jobs",
	}, []string{"kind", "outcome"}) // outcome: completed, failed, retried, dropped

	GenerationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "docgen_generation_duration_seconds",
		Help:    "Duration of calls to the generation collaborator.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	}, []string{"kind"})

	StuckJobsSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docgen_stuck_jobs_swept_total",
		Help: "PROCESSING jobs flipped to FAILED by the reconciliation sweep",
	})
)

// NewLogger creates a new structured logger.
func NewLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

// StartMetricsServer runs an HTTP server to expose Prometheus metrics.
func StartMetricsServer(addr string) {
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(addr, mux); err != nil {
			slog.Error("metrics server failed", "error", err)
		}
	}()
}
