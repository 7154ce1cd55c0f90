package infrastructure

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	IterationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "strategy_iteration_seconds",
		Help: "Latency of one strategy iteration",
	}, []string{"kind"})

	IterationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "strategy_iteration_errors_total",
		Help: "Total number of failed strategy iterations",
	}, []string{"kind"})

	RunningStrategies = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "strategies_running",
		Help: "Number of strategies currently running",
	})

	OrdersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_placed_total",
		Help: "Total number of orders submitted to the broker",
	}, []string{"symbol", "side"})

	OrdersBlocked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_blocked_total",
		Help: "Total number of orders blocked by the risk gate",
	}, []string{"symbol"})

	RiskAlerts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "risk_alerts_total",
		Help: "Total number of risk alerts raised",
	}, []string{"kind", "severity"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ws_connections_total",
		Help: "Total number of active WebSocket connections",
	})

	BacktestsRun = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backtests_run_total",
		Help: "Total number of backtests executed",
	}, []string{"kind", "data_source"})
)
