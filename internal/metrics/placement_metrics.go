package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Причины неуспешного оформления заказа (значения label reason).
const (
	ReasonCustomerNotFound    = "customer_not_found"
	ReasonInvalidRequest      = "invalid_request"
	ReasonProductNotFound     = "product_not_found"
	ReasonInsufficientStock   = "insufficient_stock"
	ReasonCatalogInconsistent = "catalog_inconsistent"
	ReasonStockConflict       = "stock_conflict"
	ReasonStorage             = "storage"
)

// PlacementMetrics содержит метрики оформления заказов.
type PlacementMetrics struct {
	started   prometheus.Counter
	completed prometheus.Counter
	failed    *prometheus.CounterVec

	duration prometheus.Histogram
	lines    prometheus.Histogram

	// Заказ сохранён, а остатки не списаны (режим без транзакции).
	stockCommitFailed prometheus.Counter
	outboxEnqueued    prometheus.Counter

	inFlight prometheus.Gauge
}

// NewPlacementMetrics регистрирует метрики в prometheus.DefaultRegisterer.
func NewPlacementMetrics() *PlacementMetrics {
	return NewPlacementMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewPlacementMetricsWithRegisterer регистрирует метрики в переданном registerer.
func NewPlacementMetricsWithRegisterer(registerer prometheus.Registerer) *PlacementMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &PlacementMetrics{
		started: registerCounter(registerer, prometheus.CounterOpts{
			Name: "orderflow_placement_started_total",
			Help: "Total number of order placement attempts",
		}),
		completed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "orderflow_placement_completed_total",
			Help: "Total number of orders placed successfully",
		}),
		failed: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "orderflow_placement_failed_total",
			Help: "Total number of failed order placements by reason",
		}, []string{"reason"}),
		duration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "orderflow_placement_duration_seconds",
			Help:    "Duration of order placement in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}),
		lines: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "orderflow_placement_lines",
			Help:    "Number of lines in placed orders",
			Buckets: []float64{1, 2, 3, 5, 10, 20, 50, 100},
		}),
		stockCommitFailed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "orderflow_placement_stock_commit_failed_total",
			Help: "Orders persisted without stock adjustments being applied",
		}),
		outboxEnqueued: registerCounter(registerer, prometheus.CounterOpts{
			Name: "orderflow_placement_outbox_enqueued_total",
			Help: "Total number of OrderPlaced events written to outbox",
		}),
		inFlight: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "orderflow_placement_in_flight",
			Help: "Number of order placements in progress",
		}),
	}
}

// RecordStarted увеличивает счётчик попыток и число активных оформлений.
func (m *PlacementMetrics) RecordStarted() {
	m.started.Inc()
	m.inFlight.Inc()
}

// RecordFinished уменьшает число активных оформлений и пишет длительность.
func (m *PlacementMetrics) RecordFinished(duration time.Duration) {
	m.inFlight.Dec()
	m.duration.Observe(duration.Seconds())
}

// RecordCompleted фиксирует успешно оформленный заказ из lines позиций.
func (m *PlacementMetrics) RecordCompleted(lines int) {
	m.completed.Inc()
	m.lines.Observe(float64(lines))
}

func (m *PlacementMetrics) RecordFailed(reason string) {
	m.failed.WithLabelValues(reason).Inc()
}

func (m *PlacementMetrics) RecordStockCommitFailed() {
	m.stockCommitFailed.Inc()
}

func (m *PlacementMetrics) RecordOutboxEnqueued() {
	m.outboxEnqueued.Inc()
}
