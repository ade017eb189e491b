package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 交易周期的指标，使用独立的 registry
type Metrics struct {
	registry *prometheus.Registry

	TicksTotal      *prometheus.CounterVec
	TickDuration    prometheus.Histogram
	SignalsTotal    *prometheus.CounterVec
	OrdersTotal     *prometheus.CounterVec
	ExitsTotal      *prometheus.CounterVec
	ReconcileTotal  *prometheus.CounterVec
	OpenPositions   prometheus.Gauge
	Equity          prometheus.Gauge
	DrawdownPct     prometheus.Gauge
	BreakerOpen     prometheus.Gauge
	ExecutionErrors *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		TicksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "edgetrader_ticks_total", Help: "Completed cycle ticks by outcome"},
			[]string{"outcome"},
		),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "edgetrader_tick_duration_seconds",
			Help:    "Wall time of one cycle tick",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		SignalsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "edgetrader_signals_total", Help: "Generated signals by action and tier"},
			[]string{"action", "tier"},
		),
		OrdersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "edgetrader_orders_total", Help: "Executed orders by side and status"},
			[]string{"side", "status"},
		),
		ExitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "edgetrader_exits_total", Help: "Exit conditions acted upon by reason"},
			[]string{"reason"},
		),
		ReconcileTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "edgetrader_reconcile_changes_total", Help: "Position changes applied by reconciliation"},
			[]string{"kind"},
		),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{Name: "edgetrader_open_positions", Help: "Open positions"}),
		Equity:        prometheus.NewGauge(prometheus.GaugeOpts{Name: "edgetrader_equity", Help: "Current equity"}),
		DrawdownPct:   prometheus.NewGauge(prometheus.GaugeOpts{Name: "edgetrader_drawdown_pct", Help: "Current drawdown from peak equity"}),
		BreakerOpen:   prometheus.NewGauge(prometheus.GaugeOpts{Name: "edgetrader_breaker_open", Help: "1 when the circuit breaker is open"}),
		ExecutionErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "edgetrader_execution_errors_total", Help: "Per-asset failures inside a tick"},
			[]string{"stage"},
		),
	}
	m.registry.MustRegister(
		m.TicksTotal, m.TickDuration, m.SignalsTotal, m.OrdersTotal, m.ExitsTotal,
		m.ReconcileTotal, m.OpenPositions, m.Equity, m.DrawdownPct, m.BreakerOpen, m.ExecutionErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveTick 记录一次tick
func (m *Metrics) ObserveTick(start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "partial"
	}
	m.TicksTotal.WithLabelValues(outcome).Inc()
	m.TickDuration.Observe(time.Since(start).Seconds())
}

// Gatherer 测试和自定义导出使用
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
