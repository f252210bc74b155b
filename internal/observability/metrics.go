package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects the Prometheus collectors for the application.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	paymentsTotal   *prometheus.CounterVec
	approvalsTotal  *prometheus.CounterVec
	allocations     *prometheus.CounterVec
	balanceDrift    prometheus.Gauge
}

// NewMetrics initialises the registry and base collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "atlas_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "atlas_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	payments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "atlas_ledger_payments_total",
		Help: "Recorded ledger payments by channel and resulting approval status.",
	}, []string{"channel", "status"})
	approvals := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "atlas_ledger_approvals_total",
		Help: "Approval workflow decisions.",
	}, []string{"decision"})
	allocations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "atlas_onaccount_allocations_total",
		Help: "On-account allocation operations by direction.",
	}, []string{"direction"})
	drift := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "atlas_booking_balance_drift",
		Help: "Bookings whose cached balance disagrees with the ledger fold, per last reconciliation run.",
	})
	registry.MustRegister(requests, duration, payments, approvals, allocations, drift)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		paymentsTotal:   payments,
		approvalsTotal:  approvals,
		allocations:     allocations,
		balanceDrift:    drift,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// CountPayment tallies a recorded payment.
func (m *Metrics) CountPayment(channel, status string) {
	if m == nil {
		return
	}
	m.paymentsTotal.WithLabelValues(channel, status).Inc()
}

// CountApproval tallies an approval workflow decision.
func (m *Metrics) CountApproval(decision string) {
	if m == nil {
		return
	}
	m.approvalsTotal.WithLabelValues(decision).Inc()
}

// CountAllocation tallies an allocation or deallocation.
func (m *Metrics) CountAllocation(direction string) {
	if m == nil {
		return
	}
	m.allocations.WithLabelValues(direction).Inc()
}

// SetBalanceDrift publishes the drifted-booking count from a reconciliation run.
func (m *Metrics) SetBalanceDrift(count int) {
	if m == nil {
		return
	}
	m.balanceDrift.Set(float64(count))
}

// Registerer exposes the registry for custom collector registration.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
