package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/stockflow/internal/domain"
)

type paymentRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Payment
}

// NewPaymentRepository создаёт in-memory хранилище платежей.
func NewPaymentRepository() *paymentRepositoryInMemory {
	return &paymentRepositoryInMemory{items: make(map[string]domain.Payment)}
}

func (r *paymentRepositoryInMemory) Create(ctx context.Context, payment domain.Payment) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[payment.ID]; exists {
		return domain.ErrPaymentVersionConflict
	}
	if payment.Status.Active() {
		for _, existing := range r.items {
			if existing.OrderID == payment.OrderID && existing.Status.Active() {
				return domain.ErrActivePaymentExists
			}
		}
	}
	r.items[payment.ID] = payment
	return nil
}

func (r *paymentRepositoryInMemory) Get(ctx context.Context, id string) (domain.Payment, error) {
	if err := ctx.Err(); err != nil {
		return domain.Payment{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	payment, ok := r.items[id]
	if !ok {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	return payment, nil
}

func (r *paymentRepositoryInMemory) Save(ctx context.Context, payment domain.Payment) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[payment.ID]
	if !ok {
		return domain.ErrPaymentNotFound
	}
	if current.Version != payment.Version {
		return domain.ErrPaymentVersionConflict
	}
	payment.Version++
	r.items[payment.ID] = payment
	return nil
}

func (r *paymentRepositoryInMemory) ListByOrder(ctx context.Context, orderID string) ([]domain.Payment, error) {
	return r.list(ctx, func(p domain.Payment) bool { return p.OrderID == orderID }, 0)
}

func (r *paymentRepositoryInMemory) ListByPayer(ctx context.Context, payerID string, limit int) ([]domain.Payment, error) {
	return r.list(ctx, func(p domain.Payment) bool { return p.PayerID == payerID }, limit)
}

func (r *paymentRepositoryInMemory) GetByTransactionID(ctx context.Context, transactionID string) (domain.Payment, error) {
	if err := ctx.Err(); err != nil {
		return domain.Payment{}, err
	}
	if transactionID == "" {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, payment := range r.items {
		if payment.TransactionID == transactionID {
			return payment, nil
		}
	}
	return domain.Payment{}, domain.ErrPaymentNotFound
}

func (r *paymentRepositoryInMemory) HasActive(ctx context.Context, orderID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, payment := range r.items {
		if payment.OrderID == orderID && payment.Status.Active() {
			return true, nil
		}
	}
	return false, nil
}

// list возвращает платежи по фильтру, новые первыми.
func (r *paymentRepositoryInMemory) list(ctx context.Context, match func(domain.Payment) bool, limit int) ([]domain.Payment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Payment, 0)
	for _, payment := range r.items {
		if match(payment) {
			result = append(result, payment)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *paymentRepositoryInMemory) delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, id)
}

func (r *paymentRepositoryInMemory) restore(payment domain.Payment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[payment.ID] = payment
}

var _ domain.PaymentRepository = (*paymentRepositoryInMemory)(nil)
