package domain

import (
	"context"
	"time"
)

// Типы действий аудита.
const (
	AuditOrderCreated     = "ORDER_CREATED"
	AuditOrderStatus      = "ORDER_STATUS_CHANGED"
	AuditOrderUpdated     = "ORDER_UPDATED"
	AuditPaymentInitiated = "PAYMENT_INITIATED"
	AuditPaymentStatus    = "PAYMENT_STATUS_CHANGED"
	AuditStockAdjusted    = "STOCK_ADJUSTED"
)

// Типы ресурсов аудита.
const (
	ResourceOrder   = "order"
	ResourcePayment = "payment"
	ResourceStock   = "stock"
)

// AuditRecord — запись append-only журнала действий.
type AuditRecord struct {
	ID           string
	ActorID      string
	ActionType   string
	ResourceType string
	ResourceID   string
	Summary      string
	Details      map[string]any
	CreatedAt    time.Time
}

type actorKey struct{}

// ContextWithActor помечает контекст идентификатором инициатора для аудита.
func ContextWithActor(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorKey{}, actorID)
}

// ActorFromContext возвращает инициатора или пустую строку.
func ActorFromContext(ctx context.Context) string {
	actor, _ := ctx.Value(actorKey{}).(string)
	return actor
}
