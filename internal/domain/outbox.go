package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
	// PendingByAggregate — разбивка backlog по AggregateOrder, AggregatePayment и AggregateStock.
	PendingByAggregate map[string]int
}

// Типы событий, которые сервис публикует через outbox.
const (
	EventOrderCreated      = "order.created"
	EventOrderPaid         = "order.paid"
	EventOrderCancelled    = "order.cancelled"
	EventOrderShipped      = "order.shipped"
	EventOrderFailed       = "order.failed"
	EventOrderRefunded     = "order.refunded"
	EventOrderUpdated      = "order.updated"
	EventPaymentInitiated  = "payment.initiated"
	EventPaymentAuthorized = "payment.authorized"
	EventPaymentCaptured   = "payment.captured"
	EventPaymentFailed     = "payment.failed"
	EventPaymentRefunded   = "payment.refunded"
	EventStockAdjusted     = "stock.adjusted"
)

// OrderEventType сопоставляет событие state machine с типом outbox-события.
func OrderEventType(event OrderEvent) string {
	switch event {
	case OrderEventMarkPaid:
		return EventOrderPaid
	case OrderEventCancel:
		return EventOrderCancelled
	case OrderEventShip:
		return EventOrderShipped
	case OrderEventMarkFailed:
		return EventOrderFailed
	case OrderEventRefundPayment:
		return EventOrderRefunded
	default:
		return EventOrderUpdated
	}
}

// Агрегаты outbox-сообщений.
const (
	AggregateOrder   = "order"
	AggregatePayment = "payment"
	AggregateStock   = "stock"
)

// NewOutboxMessage сериализует payload в JSON и собирает сообщение для Enqueue.
func NewOutboxMessage(aggregateType, aggregateID, eventType string, payload map[string]any) (OutboxMessage, error) {
	if payload == nil {
		payload = make(map[string]any)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return OutboxMessage{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return OutboxMessage{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       data,
	}, nil
}

// PaymentEventType сопоставляет событие платежа с типом outbox-события.
func PaymentEventType(event PaymentEvent) string {
	switch event {
	case PaymentEventAuthorize:
		return EventPaymentAuthorized
	case PaymentEventCapture:
		return EventPaymentCaptured
	case PaymentEventFail:
		return EventPaymentFailed
	case PaymentEventRefund:
		return EventPaymentRefunded
	default:
		return EventPaymentInitiated
	}
}
