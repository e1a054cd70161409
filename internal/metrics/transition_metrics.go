package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vladislavdragonenkov/stockflow/internal/domain"
)

// TransitionMetrics считает переходы state machine заказов и платежей.
type TransitionMetrics struct {
	order   *prometheus.CounterVec
	payment *prometheus.CounterVec
}

func NewTransitionMetrics() *TransitionMetrics {
	return NewTransitionMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func NewTransitionMetricsWithRegisterer(registerer prometheus.Registerer) *TransitionMetrics {
	return &TransitionMetrics{
		order: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "stockflow_order_transitions_total",
			Help: "Order state machine transitions by event and result",
		}, []string{"event", "result"}),
		payment: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "stockflow_payment_transitions_total",
			Help: "Payment state machine transitions by event and result",
		}, []string{"event", "result"}),
	}
}

// RecordOrder учитывает попытку перехода заказа.
func (m *TransitionMetrics) RecordOrder(event domain.OrderEvent, err error) {
	if m == nil {
		return
	}
	m.order.WithLabelValues(string(event), TransitionResult(err)).Inc()
}

// RecordPayment учитывает попытку перехода платежа.
func (m *TransitionMetrics) RecordPayment(event domain.PaymentEvent, err error) {
	if m == nil {
		return
	}
	m.payment.WithLabelValues(string(event), TransitionResult(err)).Inc()
}

// TransitionResult сводит ошибку к метке result.
func TransitionResult(err error) string {
	switch {
	case err == nil:
		return ResultApplied
	case domain.IsStateConflict(err), domain.IsValidation(err):
		return ResultRejected
	default:
		return ResultError
	}
}
