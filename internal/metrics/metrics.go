// Package metrics exposes Prometheus collectors for the screenwatch service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	capturesTotal              *prometheus.CounterVec
	screenshotBytesTotal       *prometheus.CounterVec
	diffPercentage             prometheus.Histogram
	sweepsTotal                *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	breakerStateChangesTotal   *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		capturesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "screenwatch_captures_total",
				Help: "Total number of route captures, labeled by site and diff outcome.",
			},
			[]string{"site", "outcome"},
		)

		screenshotBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "screenwatch_screenshot_bytes_total",
				Help: "Total number of screenshot bytes captured, labeled by site.",
			},
			[]string{"site"},
		)

		diffPercentage = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "screenwatch_diff_percentage",
				Help:    "Distribution of the share of pixels changed between consecutive captures.",
				Buckets: []float64{0, 0.1, 0.5, 1, 2, 5, 10, 25, 50, 100},
			},
		)

		sweepsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "screenwatch_sweeps_total",
				Help: "Total number of sweeps finished, labeled by terminal status.",
			},
			[]string{"status"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "screenwatch_active_workers",
				Help: "Number of workers currently running a sweep.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "screenwatch_rate_limit_delays_seconds",
				Help:    "Histogram of per-host rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		breakerStateChangesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "screenwatch_breaker_state_changes_total",
				Help: "Circuit breaker transitions, labeled by breaker name and new state.",
			},
			[]string{"name", "state"},
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

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCapture records one route capture and its diff outcome.
func ObserveCapture(site, outcome string, bytesCaptured int, pct float64) {
	if capturesTotal == nil {
		return
	}
	sanitizedSite := SanitizeSite(site)
	capturesTotal.WithLabelValues(sanitizedSite, outcome).Inc()
	if bytesCaptured > 0 {
		screenshotBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesCaptured))
	}
	diffPercentage.Observe(pct)
}

// ObserveSweep increments the sweep counter for the given terminal status.
func ObserveSweep(status string) {
	if sweepsTotal == nil {
		return
	}
	sweepsTotal.WithLabelValues(status).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records how long a request waited on a host limiter.
func ObserveRateLimitDelay(domain string, delay time.Duration) {
	if rateLimitDelaysSeconds == nil {
		return
	}
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(delay.Seconds())
}

// ObserveBreakerState counts a circuit breaker transition.
func ObserveBreakerState(name, state string) {
	if breakerStateChangesTotal == nil {
		return
	}
	breakerStateChangesTotal.WithLabelValues(name, state).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	if activeWorkers != nil {
		activeWorkers.Inc()
	}
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	if activeWorkers != nil {
		activeWorkers.Dec()
	}
}
