// Package metrics holds the Prometheus collectors exported on /metrics.
//
// A nil *Metrics is valid and records nothing, so callers never need to
// check whether metrics are enabled.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "freeslots"

// Slot request outcomes.
const (
	OutcomeOK          = "ok"
	OutcomeInvalid     = "invalid"
	OutcomeFetchFailed = "fetch_failed"
	OutcomeParseFailed = "parse_failed"
	OutcomeAssistant   = "assistant_failed"
	OutcomeError       = "error"
)

type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	slotRequests     *prometheus.CounterVec
	freeWindows      prometheus.Histogram
	busyIntervals    prometheus.Histogram
	fetchFailures    prometheus.Counter
	usageLogFailures prometheus.Counter
	rateLimited      prometheus.Counter
}

// New creates the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"method", "route"}),
		slotRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slot_requests_total",
			Help:      "Slot generation requests by outcome.",
		}, []string{"outcome"}),
		freeWindows: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "free_windows",
			Help:      "Free windows left after subtracting busy intervals.",
			Buckets:   prometheus.LinearBuckets(0, 5, 10),
		}),
		busyIntervals: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "busy_intervals",
			Help:      "Busy intervals resolved from a calendar feed.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		fetchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calendar_fetch_failures_total",
			Help:      "Calendar feeds that could not be fetched.",
		}),
		usageLogFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_log_failures_total",
			Help:      "Usage log writes that failed.",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-client rate limiter.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.slotRequests,
		m.freeWindows,
		m.busyIntervals,
		m.fetchFailures,
		m.usageLogFailures,
		m.rateLimited,
	)
	return m
}

// Registry exposes the underlying registry (tests gather from it).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Metrics) SlotRequest(outcome string) {
	if m == nil {
		return
	}
	m.slotRequests.WithLabelValues(outcome).Inc()
}

// ObserveComputation records the sizes of one computed free/busy set.
func (m *Metrics) ObserveComputation(windows, busy int) {
	if m == nil {
		return
	}
	m.freeWindows.Observe(float64(windows))
	m.busyIntervals.Observe(float64(busy))
}

func (m *Metrics) CalendarFetchFailed() {
	if m == nil {
		return
	}
	m.fetchFailures.Inc()
}

func (m *Metrics) UsageLogFailed() {
	if m == nil {
		return
	}
	m.usageLogFailures.Inc()
}

func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}
