package domain

import (
	"context"
	"time"
)

// StockRepository — хранилище складского ledger.
type StockRepository interface {
	// Create заводит строку остатка. Возвращает ErrStockItemExists, если SKU уже есть.
	Create(ctx context.Context, item StockItem) error
	// Get читает строку без блокировок (только для отчётов).
	Get(ctx context.Context, sku string) (StockItem, error)
	// Mutate применяет операцию под эксклюзивной блокировкой строки.
	// Недостаток остатка и конфликт возвращаются в StockResult, а не ошибкой.
	Mutate(ctx context.Context, sku string, op StockOperation) (StockResult, error)
	// UpdateLocation меняет складскую локацию.
	UpdateLocation(ctx context.Context, sku, location string) error
	// ListAvailableBelow возвращает строки со свободным остатком строго ниже threshold.
	ListAvailableBelow(ctx context.Context, threshold int64) ([]StockItem, error)
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет заказ вместе с позициями.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound.
	Get(ctx context.Context, id string) (Order, error)
	// ListByBuyer возвращает заказы покупателя, новые первыми; при limit <= 0 без ограничения.
	ListByBuyer(ctx context.Context, buyerID string, limit int) ([]Order, error)
	// Save применяет обновления с учётом optimistic locking. Позиции не меняются.
	Save(ctx context.Context, order Order) error
}

// PaymentRepository — хранилище платежей.
type PaymentRepository interface {
	Create(ctx context.Context, payment Payment) error
	Get(ctx context.Context, id string) (Payment, error)
	// Save применяет обновления с учётом optimistic locking.
	Save(ctx context.Context, payment Payment) error
	ListByOrder(ctx context.Context, orderID string) ([]Payment, error)
	ListByPayer(ctx context.Context, payerID string, limit int) ([]Payment, error)
	GetByTransactionID(ctx context.Context, transactionID string) (Payment, error)
	// HasActive сообщает, есть ли у заказа платёж в статусе NONE или AUTHORIZED.
	HasActive(ctx context.Context, orderID string) (bool, error)
}

// AuditSink — append-only журнал действий. Ядро только пишет в него.
type AuditSink interface {
	Record(ctx context.Context, record AuditRecord) error
}

// AuditRepository расширяет sink чтением для операционных задач и тестов.
type AuditRepository interface {
	AuditSink
	ListByResource(ctx context.Context, resourceType, resourceID string) ([]AuditRecord, error)
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// CartRepository — корзины покупателей.
type CartRepository interface {
	Lines(ctx context.Context, buyerID string) ([]CartLine, error)
	Line(ctx context.Context, buyerID, sku string) (CartLine, error)
	// AddQty атомарно прибавляет line.Qty к позиции (создаёт её при отсутствии)
	// и обновляет снимок цены. Возвращает итоговую позицию.
	AddQty(ctx context.Context, line CartLine) (CartLine, error)
	// SubtractQty атомарно вычитает qty из позиции и удаляет её при нуле.
	// Если в позиции меньше qty, возвращает ErrCartLineChanged и ничего не меняет.
	SubtractQty(ctx context.Context, buyerID, sku string, qty int64) (CartLine, error)
}

// CatalogRepository — поиск товара по SKU.
type CatalogRepository interface {
	FindBySKU(ctx context.Context, sku string) (CatalogItem, error)
	Upsert(ctx context.Context, item CatalogItem) error
}

// PaymentMethodRepository — сохранённые методы оплаты.
type PaymentMethodRepository interface {
	Get(ctx context.Context, id string) (PaymentMethod, error)
	FindBySequence(ctx context.Context, userID string, sequence int) (PaymentMethod, error)
	Create(ctx context.Context, method PaymentMethod) error
}

// BuyerRepository — справочник покупателей.
type BuyerRepository interface {
	Get(ctx context.Context, id string) (Buyer, error)
	Create(ctx context.Context, buyer Buyer) error
}

// TokenVault — ключевое хранилище токенов карт с истечением по времени.
type TokenVault interface {
	Put(ctx context.Context, card CardToken) error
	Get(ctx context.Context, token string) (CardToken, error)
	Delete(ctx context.Context, token string) error
	// DeleteExpired удаляет до limit записей, истёкших к before, и возвращает их число.
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
	Count(ctx context.Context) (int, error)
}
