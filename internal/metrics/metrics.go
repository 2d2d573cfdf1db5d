// Package metrics exposes Prometheus collectors for the chart ingestion pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chartcrawler_fetches_total",
			Help: "Total chart page fetches, labeled by chart and outcome.",
		},
		[]string{"chart", "outcome"},
	)

	fetchDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chartcrawler_fetch_duration_seconds",
			Help:    "Histogram of chart page fetch latencies.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"chart"},
	)

	fetchesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chartcrawler_fetches_in_flight",
			Help: "Number of chart page fetches currently running.",
		},
	)

	rowsExtractedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chartcrawler_rows_extracted_total",
			Help: "Total chart rows extracted, labeled by chart.",
		},
		[]string{"chart"},
	)

	rowsSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chartcrawler_rows_skipped_total",
			Help: "Total malformed chart rows skipped, labeled by chart.",
		},
		[]string{"chart"},
	)

	mergesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chartcrawler_merges_total",
			Help: "Total historical dataset merges, labeled by chart and outcome.",
		},
		[]string{"chart", "outcome"},
	)

	rowsAppendedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chartcrawler_rows_appended_total",
			Help: "Total rows appended to historical datasets, labeled by chart.",
		},
		[]string{"chart"},
	)

	unitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chartcrawler_units_total",
			Help: "Total chart-week units processed, labeled by chart and outcome.",
		},
		[]string{"chart", "outcome"},
	)

	publishesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chartcrawler_publishes_total",
			Help: "Total dataset version publishes, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	rateLimitDelaysSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chartcrawler_rate_limit_delays_seconds",
			Help:    "Histogram of rate limit wait durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"host"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method, route and code.",
		},
		[]string{"method", "route", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records one fetch attempt.
func ObserveFetch(chartID, outcome string, duration time.Duration) {
	fetchesTotal.WithLabelValues(chartID, outcome).Inc()
	if duration > 0 {
		fetchDurationSeconds.WithLabelValues(chartID).Observe(duration.Seconds())
	}
}

// IncFetchesInFlight increments the in-flight fetch gauge.
func IncFetchesInFlight() {
	fetchesInFlight.Inc()
}

// DecFetchesInFlight decrements the in-flight fetch gauge.
func DecFetchesInFlight() {
	fetchesInFlight.Dec()
}

// ObserveExtraction records extracted and skipped rows for one page.
func ObserveExtraction(chartID string, rows, skipped int) {
	rowsExtractedTotal.WithLabelValues(chartID).Add(float64(rows))
	if skipped > 0 {
		rowsSkippedTotal.WithLabelValues(chartID).Add(float64(skipped))
	}
}

// ObserveMerge records a merge attempt and the rows it appended.
func ObserveMerge(chartID, outcome string, appended int) {
	mergesTotal.WithLabelValues(chartID, outcome).Inc()
	if appended > 0 {
		rowsAppendedTotal.WithLabelValues(chartID).Add(float64(appended))
	}
}

// ObserveUnit records the final outcome of one chart week.
func ObserveUnit(chartID, outcome string) {
	unitsTotal.WithLabelValues(chartID, outcome).Inc()
}

// ObservePublish records a dataset version publish.
func ObservePublish(outcome string) {
	publishesTotal.WithLabelValues(outcome).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
