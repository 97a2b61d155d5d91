// Package metrics exposes Prometheus collectors for the verifier service.
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
	verifierChecksTotal           *prometheus.CounterVec
	verifierJobsTotal             *prometheus.CounterVec
	verifierItemsTotal            *prometheus.CounterVec
	verifierConfidence            prometheus.Histogram
	verifierActiveWorkers         prometheus.Gauge
	verifierRateLimitDelaySeconds prometheus.Histogram
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		verifierChecksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verifier_checks_total",
				Help: "Total number of collector probes, labeled by check type and outcome.",
			},
			[]string{"check", "outcome"},
		)

		verifierJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verifier_jobs_total",
				Help: "Total number of jobs finished, labeled by terminal status.",
			},
			[]string{"status"},
		)

		verifierItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verifier_items_total",
				Help: "Total number of job items resolved, labeled by result.",
			},
			[]string{"result"},
		)

		verifierConfidence = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "verifier_confidence",
				Help:    "Distribution of confidence scores across verification runs.",
				Buckets: []float64{0.1, 0.2, 0.35, 0.5, 0.65, 0.8, 0.9, 1},
			},
		)

		verifierActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "verifier_active_workers",
				Help: "Number of workers currently verifying a business.",
			},
		)

		verifierRateLimitDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "verifier_rate_limit_delay_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
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

// ObserveCheck increments the probe counter for one collector signal.
func ObserveCheck(check, outcome string) {
	verifierChecksTotal.WithLabelValues(check, outcome).Inc()
}

// ObserveJob increments the job counter for the given terminal status.
func ObserveJob(status string) {
	verifierJobsTotal.WithLabelValues(status).Inc()
}

// ObserveItem increments the item counter for the given result.
func ObserveItem(result string) {
	verifierItemsTotal.WithLabelValues(result).Inc()
}

// ObserveConfidence records the confidence of one verification run.
func ObserveConfidence(confidence float64) {
	verifierConfidence.Observe(confidence)
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	verifierActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	verifierActiveWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(duration time.Duration) {
	verifierRateLimitDelaySeconds.Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
