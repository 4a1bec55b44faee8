// Package metrics provides Prometheus instrumentation for the engine.
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
	// SwapsTotal counts swaps executed, partitioned by side and alignment.
	SwapsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agri_swaps_total",
		Help: "Total number of swaps executed",
	}, []string{"side", "alignment"})

	// SwapLatency tracks swap execution latency.
	SwapLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agri_swap_latency_seconds",
		Help:    "Swap execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"side"})

	// FeesCaptured accumulates MEV fees routed to the treasury, per pool.
	FeesCaptured = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agri_fees_captured_total",
		Help: "Cumulative excess fees captured for the insurance treasury",
	}, []string{"pool_id"})

	// BonusesPaid accumulates recovery bonuses paid out, per pool.
	BonusesPaid = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agri_bonuses_paid_total",
		Help: "Cumulative recovery bonuses paid to aligned traders",
	}, []string{"pool_id"})

	// PoolMode reports the current operating mode per pool
	// (0=normal, 1=recovery, 2=circuit_breaker).
	PoolMode = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "agri_pool_mode",
		Help: "Current pool operating mode (0=normal, 1=recovery, 2=circuit_breaker)",
	}, []string{"pool_id"})

	// TreasuryBalance reports the last observed treasury balance per pool.
	TreasuryBalance = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "agri_treasury_balance",
		Help: "Last observed insurance treasury balance",
	}, []string{"pool_id"})

	// PoliciesCreated counts insurance policies issued.
	PoliciesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agri_policies_created_total",
		Help: "Total insurance policies issued",
	})

	// ClaimsTotal counts claim attempts by outcome (paid, rejected).
	ClaimsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agri_claims_total",
		Help: "Total claim attempts by outcome",
	}, []string{"outcome"})

	// WeatherUpdates counts oracle weather updates by resulting event type.
	WeatherUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agri_weather_updates_total",
		Help: "Total oracle weather updates by event type",
	}, []string{"event"})

	// CircuitBreakerRejections counts swaps rejected while a breaker was on.
	CircuitBreakerRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agri_circuit_breaker_rejections_total",
		Help: "Swaps rejected by the circuit breaker",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agri_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agri_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agri_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// ModeValue maps an operating mode string to its gauge value.
func ModeValue(mode string) float64 {
	switch mode {
	case "RECOVERY":
		return 1
	case "CIRCUIT_BREAKER":
		return 2
	default:
		return 0
	}
}

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
