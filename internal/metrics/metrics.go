// Package metrics provides Prometheus instrumentation for the option engine.
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
	// FeedTicksTotal counts parsed price ticks applied to the cache.
	FeedTicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "binarex_feed_ticks_total",
		Help: "Total parsed price ticks consumed from the upstream feed",
	})

	// FeedReconnectsTotal counts successful feed (re)connects.
	FeedReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "binarex_feed_reconnects_total",
		Help: "Total successful upstream feed connections",
	})

	// FeedState is 1 while the upstream feed transport is open.
	FeedState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "binarex_feed_up",
		Help: "Whether the upstream feed transport is currently open",
	})

	// OrdersPlacedTotal counts accepted orders, partitioned by direction.
	OrdersPlacedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "binarex_orders_placed_total",
		Help: "Total accepted orders",
	}, []string{"direction"})

	// IntakeRejectionsTotal counts rejected order requests by reason.
	IntakeRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "binarex_intake_rejections_total",
		Help: "Order requests rejected before any mutation",
	}, []string{"reason"})

	// SettlementsTotal counts settled orders by terminal outcome.
	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "binarex_settlements_total",
		Help: "Orders reaching a terminal outcome",
	}, []string{"outcome"})

	// SettlementRetriesTotal counts deferred settlement attempts.
	SettlementRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "binarex_settlement_retries_total",
		Help: "Settlement attempts deferred for lack of a usable price",
	})

	// WebSocketClients tracks connected fan-out clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "binarex_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "binarex_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "binarex_http_request_duration_seconds",
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

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
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
