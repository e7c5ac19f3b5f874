// Package observability provides Prometheus metrics for the lock coordinator.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	// namespace is the Prometheus metric namespace prefix for all lockd metrics.
	namespace = "lockd"
)

// Metrics holds all Prometheus metrics for the lock coordinator.
type Metrics struct {
	registry *prometheus.Registry

	// Coordinator metrics
	lockRequestsTotal *prometheus.CounterVec
	lockResultsTotal  *prometheus.CounterVec
	locksEjectedTotal *prometheus.CounterVec
	lockWaitDuration  *prometheus.HistogramVec
	locksHeld         prometheus.Gauge
	requestsPending   prometheus.Gauge

	// RPC metrics
	rpcRequestsTotal    *prometheus.CounterVec
	rpcDuration         *prometheus.HistogramVec
	rpcRateLimitedTotal prometheus.Counter
	streamsActive       prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
// Uses a custom registry so several managers can coexist in one process (tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		lockRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lock_requests_total",
				Help:      "Total number of lock requests submitted by mode and kind",
			},
			[]string{"mode", "kind"},
		),

		lockResultsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lock_request_results_total",
				Help:      "Total number of resolved lock requests by terminal status",
			},
			[]string{"status"},
		),

		locksEjectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "locks_ejected_total",
				Help:      "Total number of granted locks ejected by reason",
			},
			[]string{"reason"},
		),

		lockWaitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "lock_wait_duration_seconds",
				Help:      "Time between submitting a lock request and its grant",
				Buckets:   []float64{0.0001, 0.001, 0.01, 0.1, 0.5, 1, 5, 30, 120},
			},
			[]string{"mode"},
		),

		locksHeld: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "locks_held",
			Help:      "Number of currently granted locks",
		}),

		requestsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "lock_requests_pending",
			Help:      "Number of lock requests waiting in the queue",
		}),

		rpcRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rpc_requests_total",
				Help:      "Total number of RPCs by method and gRPC status code",
			},
			[]string{"method", "code"},
		),

		rpcDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "rpc_duration_seconds",
				Help:      "Duration of RPCs in seconds (stream RPCs include hold time)",
				Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30, 120, 600},
			},
			[]string{"method"},
		),

		rpcRateLimitedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_rate_limited_total",
			Help:      "Total number of RPCs rejected by the request rate limiter",
		}),

		streamsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "acquire_streams_active",
			Help:      "Number of open Acquire streams",
		}),
	}

	// Register all metrics with the custom registry
	reg.MustRegister(
		m.lockRequestsTotal,
		m.lockResultsTotal,
		m.locksEjectedTotal,
		m.lockWaitDuration,
		m.locksHeld,
		m.requestsPending,
		m.rpcRequestsTotal,
		m.rpcDuration,
		m.rpcRateLimitedTotal,
		m.streamsActive,
	)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
// Use promhttp.HandlerFor with the custom registry for proper isolation.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry exposes the underlying registry for tests and embedding.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordLockRequest records a submitted lock request.
// kind should be one of: queue, if_available, steal.
func (m *Metrics) RecordLockRequest(mode, kind string) {
	m.lockRequestsTotal.WithLabelValues(mode, kind).Inc()
}

// RecordLockResult records the terminal status of a lock request.
func (m *Metrics) RecordLockResult(status string) {
	m.lockResultsTotal.WithLabelValues(status).Inc()
}

// RecordLockGranted records how long a request waited before being granted.
func (m *Metrics) RecordLockGranted(mode string, wait time.Duration) {
	m.lockWaitDuration.WithLabelValues(mode).Observe(wait.Seconds())
}

// RecordLockEjected records that a held lock was ejected.
// reason should be one of: released, stolen.
func (m *Metrics) RecordLockEjected(reason string) {
	m.locksEjectedTotal.WithLabelValues(reason).Inc()
}

// SetQueueState publishes the current size of the pending queue and held set.
func (m *Metrics) SetQueueState(pending, held int) {
	m.requestsPending.Set(float64(pending))
	m.locksHeld.Set(float64(held))
}

// RecordRPC records a finished RPC with its gRPC status code and duration.
func (m *Metrics) RecordRPC(method string, err error, duration time.Duration) {
	code := codes.OK
	if err != nil {
		code = status.Code(err)
	}
	m.rpcRequestsTotal.WithLabelValues(method, code.String()).Inc()
	m.rpcDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordRateLimited records an RPC rejected by the rate limiter.
func (m *Metrics) RecordRateLimited() {
	m.rpcRateLimitedTotal.Inc()
}

// RecordStreamOpened increments the active Acquire stream gauge.
func (m *Metrics) RecordStreamOpened() {
	m.streamsActive.Inc()
}

// RecordStreamClosed decrements the active Acquire stream gauge.
func (m *Metrics) RecordStreamClosed() {
	m.streamsActive.Dec()
}
