// Package order управляет жизненным циклом заказов через таблицу переходов.
package order

import (
	"context"
	"time"

	"github.com/vladislavdragonenkov/stockflow/internal/domain"
)

// Change описывает переход заказа внутри транзакции вызывающего.
type Change struct {
	OrderID string
	Event   domain.OrderEvent
	// Meta дописывается в метаданные заказа после успешного перехода.
	Meta map[string]string
	// Details попадают в аудит и payload события.
	Details map[string]any
}

// Transition загружает заказ, применяет событие и сохраняет результат вместе
// с аудитом и outbox-событием. Вызывается внутри Transactor.WithinTx.
func Transition(ctx context.Context, repos domain.Repositories, change Change, now time.Time) (domain.Order, error) {
	order, err := repos.Orders.Get(ctx, change.OrderID)
	if err != nil {
		return domain.Order{}, err
	}

	before := order.Status
	beforePayment := order.PaymentStatus
	if err := order.Apply(change.Event, now); err != nil {
		return domain.Order{}, err
	}
	for key, value := range change.Meta {
		order.SetMeta(key, value)
	}

	if err := repos.Orders.Save(ctx, order); err != nil {
		return domain.Order{}, err
	}
	order.Version++

	details := map[string]any{
		"event":                 string(change.Event),
		"status_before":         string(before),
		"status_after":          string(order.Status),
		"payment_status_before": string(beforePayment),
		"payment_status_after":  string(order.PaymentStatus),
	}
	for key, value := range change.Details {
		details[key] = value
	}

	if err := repos.Audit.Record(ctx, domain.AuditRecord{
		ActorID:      domain.ActorFromContext(ctx),
		ActionType:   domain.AuditOrderStatus,
		ResourceType: domain.ResourceOrder,
		ResourceID:   order.ID,
		Summary:      string(before) + " -> " + string(order.Status),
		Details:      details,
	}); err != nil {
		return domain.Order{}, err
	}

	payload := map[string]any{
		"order_id":       order.ID,
		"buyer_id":       order.BuyerID,
		"status":         string(order.Status),
		"payment_status": string(order.PaymentStatus),
		"total_amount":   order.TotalAmount.StringFixed(2),
		"currency":       order.Currency,
	}
	for key, value := range change.Details {
		payload[key] = value
	}
	msg, err := domain.NewOutboxMessage(domain.AggregateOrder, order.ID, domain.OrderEventType(change.Event), payload)
	if err != nil {
		return domain.Order{}, err
	}
	if _, err := repos.Outbox.Enqueue(ctx, msg); err != nil {
		return domain.Order{}, err
	}

	return order, nil
}
