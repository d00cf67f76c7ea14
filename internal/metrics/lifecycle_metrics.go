package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	resultSuccess = "success"
	resultFailed  = "failed"
)

// LifecycleMetrics содержит метрики операций жизненного цикла заказа.
type LifecycleMetrics struct {
	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	transitions       *prometheus.CounterVec

	ordersPlaced        prometheus.Counter
	placedAmountMinor   prometheus.Counter
	escrowsReleased     prometheus.Counter
	releasedAmountMinor prometheus.Counter

	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter

	inFlight prometheus.Gauge
}

// NewLifecycleMetrics создаёт метрики на DefaultRegisterer.
func NewLifecycleMetrics() *LifecycleMetrics {
	return NewLifecycleMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewLifecycleMetricsWithRegisterer создаёт метрики на заданном registerer (изолированный реестр в тестах).
func NewLifecycleMetricsWithRegisterer(registerer prometheus.Registerer) *LifecycleMetrics {
	return &LifecycleMetrics{
		operations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "campusmart_lifecycle_operations_total",
			Help: "Total number of order lifecycle operations by result",
		}, []string{"operation", "result"}),
		operationDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "campusmart_lifecycle_operation_duration_seconds",
			Help:    "Duration of order lifecycle operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"operation"}),
		transitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "campusmart_order_status_transitions_total",
			Help: "Total number of persisted order status transitions",
		}, []string{"from", "to"}),
		ordersPlaced: registerCounter(registerer, prometheus.CounterOpts{
			Name: "campusmart_orders_placed_total",
			Help: "Total number of placed orders",
		}),
		placedAmountMinor: registerCounter(registerer, prometheus.CounterOpts{
			Name: "campusmart_orders_placed_amount_minor_total",
			Help: "Sum of placed order totals in minor currency units",
		}),
		escrowsReleased: registerCounter(registerer, prometheus.CounterOpts{
			Name: "campusmart_escrows_released_total",
			Help: "Total number of escrows released to sellers",
		}),
		releasedAmountMinor: registerCounter(registerer, prometheus.CounterOpts{
			Name: "campusmart_escrows_released_amount_minor_total",
			Help: "Sum of seller payouts released from escrow in minor currency units",
		}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "campusmart_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "campusmart_outbox_events_total",
			Help: "Total number of events enqueued to the outbox",
		}),
		inFlight: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "campusmart_lifecycle_operations_in_flight",
			Help: "Number of lifecycle operations currently executing",
		}),
	}
}

// StartOperation отмечает начало операции и возвращает функцию завершения,
// которая записывает длительность и результат.
func (m *LifecycleMetrics) StartOperation(operation string) func(err error) {
	if m == nil {
		return func(error) {}
	}
	start := time.Now()
	m.inFlight.Inc()
	return func(err error) {
		m.inFlight.Dec()
		m.ObserveOperation(operation, time.Since(start), err)
	}
}

// ObserveOperation записывает результат и длительность операции.
func (m *LifecycleMetrics) ObserveOperation(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	result := resultSuccess
	if err != nil {
		result = resultFailed
	}
	m.operations.WithLabelValues(operation, result).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordTransition увеличивает счётчик переходов статуса.
func (m *LifecycleMetrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// RecordOrderPlaced учитывает новый заказ и его сумму.
func (m *LifecycleMetrics) RecordOrderPlaced(totalMinor int64) {
	if m == nil {
		return
	}
	m.ordersPlaced.Inc()
	if totalMinor > 0 {
		m.placedAmountMinor.Add(float64(totalMinor))
	}
}

// RecordEscrowReleased учитывает выплату продавцу.
func (m *LifecycleMetrics) RecordEscrowReleased(sellerAmountMinor int64) {
	if m == nil {
		return
	}
	m.escrowsReleased.Inc()
	if sellerAmountMinor > 0 {
		m.releasedAmountMinor.Add(float64(sellerAmountMinor))
	}
}

func (m *LifecycleMetrics) RecordTimelineEvent() {
	if m == nil {
		return
	}
	m.timelineEvents.Inc()
}

func (m *LifecycleMetrics) RecordOutboxEvent() {
	if m == nil {
		return
	}
	m.outboxEvents.Inc()
}
