// Package metrics exposes Prometheus collectors for the watch service.
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
	checksTotal                *prometheus.CounterVec
	changesTotal               *prometheus.CounterVec
	bytesTotal                 *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	storageErrorsTotal         *prometheus.CounterVec
	checksInFlight             prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		checksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitewatch_checks_total",
				Help: "Total number of resource checks, labeled by site, scheduling policy and outcome.",
			},
			[]string{"site", "policy", "outcome"},
		)

		changesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitewatch_changes_total",
				Help: "Total number of detected content changes, labeled by site.",
			},
			[]string{"site"},
		)

		bytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitewatch_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sitewatch_fetch_duration_seconds",
				Help:    "Histogram of fetch latencies, labeled by site.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"site"},
		)

		storageErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitewatch_storage_errors_total",
				Help: "Total number of failed store operations, labeled by operation.",
			},
			[]string{"op"},
		)

		checksInFlight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "sitewatch_checks_in_flight",
				Help: "Number of checks currently running.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sitewatch_rate_limit_delays_seconds",
				Help:    "Histogram of per-host rate limit wait durations.",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"domain"},
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

// ObserveCheck counts a finished check and the bytes it fetched. policy should
// be one of the canonical policy names to keep label cardinality bounded.
func ObserveCheck(rawURL, policy string, ok bool, bytesFetched int, fetchDuration time.Duration) {
	Init()
	site := SanitizeSite(rawURL)
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	checksTotal.WithLabelValues(site, policy, outcome).Inc()
	fetchDurationSeconds.WithLabelValues(site).Observe(fetchDuration.Seconds())
	if bytesFetched > 0 {
		bytesTotal.WithLabelValues(site).Add(float64(bytesFetched))
	}
}

// ObserveChange counts a detected content change.
func ObserveChange(rawURL string) {
	Init()
	changesTotal.WithLabelValues(SanitizeSite(rawURL)).Inc()
}

// ObserveStorageError counts a failed store operation.
func ObserveStorageError(op string) {
	Init()
	storageErrorsTotal.WithLabelValues(op).Inc()
}

// IncChecksInFlight increments the in-flight checks gauge.
func IncChecksInFlight() {
	Init()
	checksInFlight.Inc()
}

// DecChecksInFlight decrements the in-flight checks gauge.
func DecChecksInFlight() {
	Init()
	checksInFlight.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
