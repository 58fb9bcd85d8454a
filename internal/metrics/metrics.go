// Package metrics provides Prometheus instrumentation for the marketplace.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OperationsTotal counts executions by action and result.
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swapmarket_operations_total",
		Help: "Total marketplace operations executed",
	}, []string{"action", "result"})

	// OperationLatency tracks execution latency including dispatch.
	OperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "swapmarket_operation_latency_seconds",
		Help:    "Operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"action"})

	// ActiveListings mirrors the listing counter after each commit.
	ActiveListings = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "swapmarket_active_listings",
		Help: "Number of items currently listed",
	})

	// EffectsDispatched counts outbound effects by kind.
	EffectsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swapmarket_effects_dispatched_total",
		Help: "Outbound effects dispatched to registries",
	}, []string{"kind"})

	// DispatchFailures counts effect batches rejected by the dispatcher.
	DispatchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "swapmarket_dispatch_failures_total",
		Help: "Effect batches rejected by a registry",
	})

	// CommitFailures counts commits that failed after a successful dispatch.
	CommitFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "swapmarket_commit_failures_total",
		Help: "Store commits failing after their effects were dispatched",
	})

	// Confirmations counts handled confirmations by tag and outcome.
	Confirmations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swapmarket_confirmations_total",
		Help: "Deferred transfer confirmations handled",
	}, []string{"tag", "outcome"})

	// PendingConfirmations tracks the queued confirmation backlog.
	PendingConfirmations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "swapmarket_pending_confirmations",
		Help: "Confirmations waiting to be drained",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "swapmarket_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// GatewayRequests counts settlement gateway calls by endpoint and status.
	GatewayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swapmarket_gateway_requests_total",
		Help: "Settlement gateway HTTP requests",
	}, []string{"endpoint", "status"})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swapmarket_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "swapmarket_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Route pattern keeps item ids and addresses out of the labels.
		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				path = p
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
