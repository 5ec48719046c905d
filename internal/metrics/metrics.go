// Package metrics exposes Prometheus collectors for the matching and risk
// engine, grounded on the teacher's monitoring/prometheus.go: one counter
// vector per event kind, a histogram for order handling latency, and
// gauges for live book size.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	OrdersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hl_paper_orders_total",
			Help: "Total orders processed by status.",
		},
		[]string{"status", "order_type"},
	)

	OrderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hl_paper_order_latency_seconds",
			Help:    "Time to process a single order intent.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"order_type"},
	)

	LiquidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hl_paper_liquidations_total",
			Help: "Total positions force-closed by the liquidation loop.",
		},
		[]string{"symbol"},
	)

	OpenPositions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hl_paper_open_positions",
			Help: "Number of currently open positions on the account.",
		},
	)

	RestingOrders = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hl_paper_resting_orders",
			Help: "Number of resting limit orders in the book.",
		},
	)

	AccountBalance = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hl_paper_account_balance_usd",
			Help: "Current cash balance of the simulated account.",
		},
	)

	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hl_paper_ws_connections",
			Help: "Current number of connected state-broadcast WebSocket clients.",
		},
	)

	FeedReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hl_paper_feed_reconnects_total",
			Help: "Total reconnect attempts to the upstream price feed.",
		},
	)
)

// Handler returns the HTTP handler that serves the registered collectors.
func Handler() http.Handler {
	return promhttp.Handler()
}
