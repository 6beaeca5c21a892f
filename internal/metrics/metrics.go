// Package metrics exposes Prometheus collectors for the ingestion service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlRunsTotal             *prometheus.CounterVec
	crawlRunDurationSeconds    *prometheus.HistogramVec
	documentsIngestedTotal     *prometheus.CounterVec
	fetchAttemptsTotal         *prometheus.CounterVec
	attachmentsProcessedTotal  *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regcrawler_runs_total",
				Help: "Total number of crawl runs, labeled by category and status.",
			},
			[]string{"category", "status"},
		)

		crawlRunDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "regcrawler_run_duration_seconds",
				Help:    "Histogram of crawl run durations, labeled by category.",
				Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
			},
			[]string{"category"},
		)

		documentsIngestedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regcrawler_documents_total",
				Help: "Total documents processed, labeled by category and outcome.",
			},
			[]string{"category", "outcome"},
		)

		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regcrawler_fetch_attempts_total",
				Help: "Total outbound fetch attempts, labeled by result.",
			},
			[]string{"result"},
		)

		attachmentsProcessedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regcrawler_attachments_total",
				Help: "Total attachments handled, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRun records one finished crawl run.
func ObserveRun(category, status string, duration time.Duration) {
	crawlRunsTotal.WithLabelValues(category, status).Inc()
	crawlRunDurationSeconds.WithLabelValues(category).Observe(duration.Seconds())
}

// ObserveDocument increments the document counter for the given outcome
// (inserted, updated, skipped, failed).
func ObserveDocument(category, outcome string) {
	documentsIngestedTotal.WithLabelValues(category, outcome).Inc()
}

// ObserveFetch increments the fetch attempt counter for the given result.
func ObserveFetch(result string) {
	fetchAttemptsTotal.WithLabelValues(result).Inc()
}

// ObserveAttachment increments the attachment counter for the given outcome.
func ObserveAttachment(outcome string) {
	attachmentsProcessedTotal.WithLabelValues(outcome).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
