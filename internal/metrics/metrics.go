// Package metrics holds the Prometheus instrumentation for the trading
// engine, exposed on the control plane's /metrics endpoint.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	registry *prometheus.Registry

	TicksTotal   prometheus.Counter
	DroppedTicks prometheus.Counter
	LateTicks    prometheus.Counter
	CandlesTotal prometheus.Counter
	WSReconnects prometheus.Counter

	SignalsTotal    *prometheus.CounterVec // labels: side
	MLVetoes        prometheus.Counter
	TradesTotal     *prometheus.CounterVec // labels: event
	OrderRejections *prometheus.CounterVec // labels: reason

	ILPWriteDur       prometheus.Histogram
	QueueSaturation   *prometheus.GaugeVec // labels: queue
	PortfolioEquity   prometheus.Gauge
	PortfolioBalance  prometheus.Gauge
	LockoutEngaged    prometheus.Gauge
	ConnectedClients  prometheus.Gauge
}

// New registers and returns all engine metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_ticks_total",
			Help: "Total ticks received from the exchange stream",
		}),
		DroppedTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_dropped_ticks_total",
			Help: "Ticks dropped because the tick queue was full",
		}),
		LateTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_late_ticks_total",
			Help: "Ticks discarded for arriving behind the open bucket",
		}),
		CandlesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_candles_total",
			Help: "Total 1s candles emitted",
		}),
		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_ws_reconnects_total",
			Help: "Total exchange WebSocket reconnection attempts",
		}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_signals_total",
			Help: "Strategy signals emitted (by side)",
		}, []string{"side"}),
		MLVetoes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_ml_vetoes_total",
			Help: "Signals vetoed by the ML filter",
		}),
		TradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_trades_total",
			Help: "Executed paper trade legs (by event: OPEN/CLOSE)",
		}, []string{"event"}),
		OrderRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_order_rejections_total",
			Help: "Signals rejected by the execution gates (by reason)",
		}, []string{"reason"}),
		ILPWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "engine_ilp_write_duration_seconds",
			Help:    "QuestDB ILP write latency",
			Buckets: prometheus.DefBuckets,
		}),
		QueueSaturation: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "engine_queue_saturation_pct",
			Help: "Pipeline queue fill percentage (len/cap * 100)",
		}, []string{"queue"}),
		PortfolioEquity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_portfolio_equity",
			Help: "Current portfolio equity (balance + positions at mark)",
		}),
		PortfolioBalance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_portfolio_balance",
			Help: "Current free cash balance",
		}),
		LockoutEngaged: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_lockout_engaged",
			Help: "1 when the panic lockout is active",
		}),
		ConnectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_ws_clients",
			Help: "Connected dashboard WebSocket clients",
		}),
	}

	reg.MustRegister(
		m.TicksTotal, m.DroppedTicks, m.LateTicks, m.CandlesTotal, m.WSReconnects,
		m.SignalsTotal, m.MLVetoes, m.TradesTotal, m.OrderRejections,
		m.ILPWriteDur, m.QueueSaturation,
		m.PortfolioEquity, m.PortfolioBalance, m.LockoutEngaged, m.ConnectedClients,
	)
	return m
}

// Handler returns the HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
