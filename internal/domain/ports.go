package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// Repositories группирует репозитории, разделяющие одну транзакцию.
type Repositories struct {
	Stock    StockRepository
	Orders   OrderRepository
	Payments PaymentRepository
	Audit    AuditSink
	Outbox   OutboxRepository
}

// Transactor выполняет fn атомарно: при ошибке или истечении ctx все изменения откатываются.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}

// PaymentGateway — платёжный провайдер (авторизация, списание, возврат).
// payment.ID служит ключом идемпотентности: повторный вызов той же операции
// по тому же платежу возвращает прежний результат и не проводит операцию дважды.
type PaymentGateway interface {
	Authorize(ctx context.Context, payment Payment) (AuthorizationResult, error)
	Capture(ctx context.Context, payment Payment) (string, error)
	Refund(ctx context.Context, payment Payment, amount decimal.Decimal) (string, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}
