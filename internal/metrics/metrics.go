// Package metrics exposes Prometheus collectors for the keepalive service.
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
	visitsTotal                *prometheus.CounterVec
	visitDurationSeconds       prometheus.Histogram
	visitActive                prometheus.Gauge
	pingsTotal                 *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		visitsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keepalive_visits_total",
				Help: "Total number of browser visits, labeled by outcome.",
			},
			[]string{"status"},
		)

		visitDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "keepalive_visit_duration_seconds",
				Help:    "Histogram of end-to-end visit durations.",
				Buckets: []float64{1, 5, 30, 60, 300, 600, 1200, 1800},
			},
		)

		visitActive = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "keepalive_visit_active",
				Help: "1 while a browser visit is in flight, 0 otherwise.",
			},
		)

		pingsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keepalive_pings_total",
				Help: "Total number of keep-alive pings, labeled by outcome.",
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

// ObserveVisit records a finished visit and its duration.
func ObserveVisit(status string, duration time.Duration) {
	Init()
	visitsTotal.WithLabelValues(status).Inc()
	visitDurationSeconds.Observe(duration.Seconds())
}

// SetVisitActive flips the in-flight visit gauge.
func SetVisitActive(active bool) {
	Init()
	if active {
		visitActive.Set(1)
		return
	}
	visitActive.Set(0)
}

// ObservePing increments the keep-alive ping counter for the given outcome.
func ObservePing(outcome string) {
	Init()
	pingsTotal.WithLabelValues(outcome).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
