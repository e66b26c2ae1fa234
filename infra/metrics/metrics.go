// Package metrics holds the engine's prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "kestrel"

type Metrics struct {
	Tasks           *prometheus.CounterVec
	TaskDuration    *prometheus.HistogramVec
	QueueDepth      *prometheus.GaugeVec
	Orders          *prometheus.CounterVec
	Trades          *prometheus.CounterVec
	TradedQuantity  *prometheus.CounterVec
	OutboxPublished *prometheus.CounterVec
	OutboxPending   prometheus.Gauge
}

// New registers every collector on reg. Registering twice on the same
// registry panics, so each process builds one Metrics.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Tasks executed on symbol workers.",
		}, []string{"symbol", "result"}),
		TaskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Time spent running one task on a symbol worker.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
		}, []string{"symbol"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Tasks waiting in a symbol queue.",
		}, []string{"symbol"}),
		Orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_total",
			Help:      "Order requests by kind and outcome.",
		}, []string{"symbol", "kind", "result"}),
		Trades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_total",
			Help:      "Trades executed.",
		}, []string{"symbol"}),
		TradedQuantity: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "traded_quantity_total",
			Help:      "Quantity traded.",
		}, []string{"symbol"}),
		OutboxPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_published_total",
			Help:      "Outbox publication attempts by result.",
		}, []string{"result"}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outbox_pending",
			Help:      "Outbox records seen unpublished on the last scan.",
		}),
	}
	reg.MustRegister(
		m.Tasks,
		m.TaskDuration,
		m.QueueDepth,
		m.Orders,
		m.Trades,
		m.TradedQuantity,
		m.OutboxPublished,
		m.OutboxPending,
	)
	return m
}

// Discard returns collectors registered on a private registry.
func Discard() *Metrics {
	return New(prometheus.NewRegistry())
}

func (m *Metrics) ObserveTask(symbol, result string, elapsed time.Duration) {
	m.Tasks.WithLabelValues(symbol, result).Inc()
	m.TaskDuration.WithLabelValues(symbol).Observe(elapsed.Seconds())
}

func (m *Metrics) Order(symbol, kind, result string) {
	m.Orders.WithLabelValues(symbol, kind, result).Inc()
}

func (m *Metrics) Trade(symbol string, quantity int64) {
	m.Trades.WithLabelValues(symbol).Inc()
	m.TradedQuantity.WithLabelValues(symbol).Add(float64(quantity))
}

// Forget drops the per-symbol series of a removed symbol.
func (m *Metrics) Forget(symbol string) {
	m.QueueDepth.DeleteLabelValues(symbol)
	m.TaskDuration.DeleteLabelValues(symbol)
	m.Trades.DeleteLabelValues(symbol)
	m.TradedQuantity.DeleteLabelValues(symbol)
	m.Tasks.DeletePartialMatch(prometheus.Labels{"symbol": symbol})
	m.Orders.DeletePartialMatch(prometheus.Labels{"symbol": symbol})
}
