/*
Package metrics exposes Prometheus instrumentation for the HTTP surface
and the leave workflow.

KEY CONCEPTS:
  - One private registry per Metrics value, so tests never collide on
    the global default registry.
  - Metrics implements holiday.Instrumentation: the lifecycle manager and
    reconciler report transitions, ledger retries and import outcomes
    without importing Prometheus.
  - A nil *Metrics is safe to call and records nothing.

SEE ALSO:
  - holiday/store.go: Instrumentation
  - api/server.go: /metrics route and Middleware wiring
*/
package metrics

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/holiday-engine/holiday"
)

type Metrics struct {
	registry *prometheus.Registry
	handler  http.Handler

	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	transitions   *prometheus.CounterVec
	retries       *prometheus.CounterVec
	contention    *prometheus.CounterVec
	importOutcome *prometheus.CounterVec
}

var _ holiday.Instrumentation = (*Metrics)(nil)

// New registers all collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "holiday_request_transitions_total",
		Help: "Holiday requests entering each status",
	}, []string{"status"})

	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_retries_total",
		Help: "Ledger transactions retried after a concurrent modification",
	}, []string{"op"})

	contention := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_contention_total",
		Help: "Ledger transactions that exhausted their retries",
	}, []string{"op"})

	importOutcome := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "legacy_import_records_total",
		Help: "Legacy records processed by outcome",
	}, []string{"outcome"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, transitions, retries, contention, importOutcome, goroutines)

	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		transitions:     transitions,
		retries:         retries,
		contention:      contention,
		importOutcome:   importOutcome,
	}
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler exposes the Prometheus HTTP handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records one served request.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// Middleware records every request under its chi route pattern, so
// /api/requests/{id} is one series rather than one per id.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if pattern := rc.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.ObserveHTTPRequest(r.Method, path, status, time.Since(start))
	})
}

// =============================================================================
// holiday.Instrumentation
// =============================================================================

func (m *Metrics) RequestTransition(status holiday.Status) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) LedgerRetry(op string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(op).Inc()
}

func (m *Metrics) LedgerContention(op string) {
	if m == nil {
		return
	}
	m.contention.WithLabelValues(op).Inc()
}

func (m *Metrics) ImportRecord(outcome string) {
	if m == nil {
		return
	}
	m.importOutcome.WithLabelValues(outcome).Inc()
}
