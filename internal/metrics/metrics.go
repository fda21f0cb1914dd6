// Package metrics provides Prometheus instrumentation for the trading bot.
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
	// SignalsTotal counts accepted alert signals, partitioned by kind.
	SignalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_signals_total",
		Help: "Total alert signals accepted into the store",
	}, []string{"kind"})

	// SignalsDropped counts alert messages discarded before storage.
	SignalsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_signals_dropped_total",
		Help: "Alert messages dropped before storage",
	}, []string{"reason"})

	// ConfluenceEvents counts detected opportunity/sentiment pairings.
	ConfluenceEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trader_confluence_events_total",
		Help: "Total confluence events detected",
	})

	// TradesTotal counts executed trades, partitioned by action.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_trades_total",
		Help: "Total trades executed",
	}, []string{"action"})

	// OrdersFailed counts order operations that failed, by stage.
	OrdersFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_orders_failed_total",
		Help: "Order operations that returned an error",
	}, []string{"stage"})

	// OrderLatency tracks round-trip time for venue order placement.
	OrderLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "trader_order_latency_seconds",
		Help:    "Venue order placement latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// OpenPositions tracks the number of currently open positions.
	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trader_open_positions",
		Help: "Number of currently open positions",
	})

	// AccountBalance tracks the futures account balance in USDT.
	AccountBalance = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "trader_account_balance_usdt",
		Help: "Futures account balance in USDT",
	}, []string{"kind"})

	// TradingEnabled is 1 while the risk gatekeeper allows new entries.
	TradingEnabled = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trader_trading_enabled",
		Help: "1 when trading is enabled, 0 when halted",
	})

	// IPCConnections tracks connected alert-source clients.
	IPCConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trader_ipc_connections",
		Help: "Number of connected alert-source clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "trader_http_request_duration_seconds",
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
