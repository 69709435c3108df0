package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CheckoutMetrics содержит метрики жизненного цикла заказа и платежей.
// Все методы безопасно вызывать на nil.
type CheckoutMetrics struct {
	ordersCreated       prometheus.Counter
	orderCreateFailures *prometheus.CounterVec
	transitions         *prometheus.CounterVec
	operationDuration   *prometheus.HistogramVec

	gatewayEvents   *prometheus.CounterVec
	webhookRejected *prometheus.CounterVec
	gatewayCalls    *prometheus.CounterVec

	upstreamCancellations *prometheus.CounterVec
	cancellationsPending  prometheus.Gauge
	cancellationsStuck    prometheus.Gauge
	ordersExpired         prometheus.Counter

	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter
}

// NewCheckoutMetrics регистрирует метрики в prometheus.DefaultRegisterer.
func NewCheckoutMetrics() *CheckoutMetrics {
	return NewCheckoutMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewCheckoutMetricsWithRegisterer регистрирует метрики в переданном реестре.
// Повторная регистрация переиспользует существующие коллекторы.
func NewCheckoutMetricsWithRegisterer(registerer prometheus.Registerer) *CheckoutMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &CheckoutMetrics{
		ordersCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_orders_created_total",
			Help: "Total number of orders created",
		}),
		orderCreateFailures: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "checkout_order_create_failures_total",
			Help: "Total number of rejected CreateOrder calls by reason",
		}, []string{"reason"}),
		transitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "checkout_order_transitions_total",
			Help: "Order status transitions",
		}, []string{"from", "to"}),
		operationDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "checkout_operation_duration_seconds",
			Help:    "Duration of order lifecycle operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"operation"}),
		gatewayEvents: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "checkout_gateway_events_total",
			Help: "Gateway results applied to orders by outcome and result",
		}, []string{"outcome", "result"}),
		webhookRejected: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "checkout_webhook_rejected_total",
			Help: "Webhook deliveries rejected before touching state",
		}, []string{"reason"}),
		gatewayCalls: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "checkout_gateway_calls_total",
			Help: "Outbound payment gateway calls by operation and status",
		}, []string{"operation", "status"}),
		upstreamCancellations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "checkout_upstream_cancellation_attempts_total",
			Help: "Upstream authorization cancellation attempts by result",
		}, []string{"result"}),
		cancellationsPending: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "checkout_upstream_cancellations_pending",
			Help: "Upstream cancellations waiting for retry",
		}),
		cancellationsStuck: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "checkout_upstream_cancellations_stuck",
			Help: "Upstream cancellations that exhausted retries and need an operator",
		}),
		ordersExpired: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_orders_expired_total",
			Help: "Pending orders cancelled by the expiry sweeper",
		}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_outbox_events_total",
			Help: "Total number of outbox events enqueued",
		}),
	}
}

// RecordOrderCreated увеличивает счётчик созданных заказов.
func (m *CheckoutMetrics) RecordOrderCreated() {
	if m == nil {
		return
	}
	m.ordersCreated.Inc()
}

// RecordOrderCreateFailure учитывает отказ CreateOrder.
func (m *CheckoutMetrics) RecordOrderCreateFailure(reason string) {
	if m == nil {
		return
	}
	m.orderCreateFailures.WithLabelValues(reason).Inc()
}

// RecordTransition учитывает смену статуса заказа.
func (m *CheckoutMetrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// RecordOperationDuration записывает время выполнения операции.
func (m *CheckoutMetrics) RecordOperationDuration(operation string, duration time.Duration) {
	if m == nil {
		return
	}
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordGatewayEvent учитывает применённый или проигнорированный результат шлюза.
func (m *CheckoutMetrics) RecordGatewayEvent(outcome, result string) {
	if m == nil {
		return
	}
	m.gatewayEvents.WithLabelValues(outcome, result).Inc()
}

// RecordWebhookRejected учитывает отвергнутую доставку вебхука.
func (m *CheckoutMetrics) RecordWebhookRejected(reason string) {
	if m == nil {
		return
	}
	m.webhookRejected.WithLabelValues(reason).Inc()
}

// RecordGatewayCall учитывает исходящий вызов шлюза.
func (m *CheckoutMetrics) RecordGatewayCall(operation string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.gatewayCalls.WithLabelValues(operation, status).Inc()
}

// RecordUpstreamCancellation учитывает попытку отмены авторизации (done|retry|stuck).
func (m *CheckoutMetrics) RecordUpstreamCancellation(result string) {
	if m == nil {
		return
	}
	m.upstreamCancellations.WithLabelValues(result).Inc()
}

// SetCancellationBacklog выставляет размер очереди отмен.
func (m *CheckoutMetrics) SetCancellationBacklog(pending, stuck int) {
	if m == nil {
		return
	}
	m.cancellationsPending.Set(float64(pending))
	m.cancellationsStuck.Set(float64(stuck))
}

// RecordOrderExpired увеличивает счётчик просроченных заказов.
func (m *CheckoutMetrics) RecordOrderExpired() {
	if m == nil {
		return
	}
	m.ordersExpired.Inc()
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *CheckoutMetrics) RecordTimelineEvent() {
	if m == nil {
		return
	}
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *CheckoutMetrics) RecordOutboxEvent() {
	if m == nil {
		return
	}
	m.outboxEvents.Inc()
}
