package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/stockflow/internal/domain"
)

type cartRepositoryInMemory struct {
	mu    sync.RWMutex
	carts map[string]map[string]domain.CartLine
}

// NewCartRepository создаёт in-memory хранилище корзин.
func NewCartRepository() *cartRepositoryInMemory {
	return &cartRepositoryInMemory{carts: make(map[string]map[string]domain.CartLine)}
}

// Lines возвращает позиции корзины в порядке добавления.
func (r *cartRepositoryInMemory) Lines(ctx context.Context, buyerID string) ([]domain.CartLine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	cart := r.carts[buyerID]
	result := make([]domain.CartLine, 0, len(cart))
	for _, line := range cart {
		result = append(result, line)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].AddedAt.Equal(result[j].AddedAt) {
			return result[i].AddedAt.Before(result[j].AddedAt)
		}
		return result[i].SKU < result[j].SKU
	})
	return result, nil
}

func (r *cartRepositoryInMemory) Line(ctx context.Context, buyerID, sku string) (domain.CartLine, error) {
	if err := ctx.Err(); err != nil {
		return domain.CartLine{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	line, ok := r.carts[buyerID][sku]
	if !ok {
		return domain.CartLine{}, domain.ErrCartLineNotFound
	}
	return line, nil
}

func (r *cartRepositoryInMemory) AddQty(ctx context.Context, line domain.CartLine) (domain.CartLine, error) {
	if err := ctx.Err(); err != nil {
		return domain.CartLine{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cart, ok := r.carts[line.BuyerID]
	if !ok {
		cart = make(map[string]domain.CartLine)
		r.carts[line.BuyerID] = cart
	}
	if existing, ok := cart[line.SKU]; ok {
		existing.Qty += line.Qty
		existing.UnitPriceSnapshot = line.UnitPriceSnapshot
		existing.Currency = line.Currency
		line = existing
	}
	cart[line.SKU] = line
	return line, nil
}

func (r *cartRepositoryInMemory) SubtractQty(ctx context.Context, buyerID, sku string, qty int64) (domain.CartLine, error) {
	if err := ctx.Err(); err != nil {
		return domain.CartLine{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	line, ok := r.carts[buyerID][sku]
	if !ok {
		return domain.CartLine{}, domain.ErrCartLineNotFound
	}
	if line.Qty < qty {
		return domain.CartLine{}, domain.ErrCartLineChanged
	}
	line.Qty -= qty
	if line.Qty == 0 {
		delete(r.carts[buyerID], sku)
		if len(r.carts[buyerID]) == 0 {
			delete(r.carts, buyerID)
		}
		return line, nil
	}
	r.carts[buyerID][sku] = line
	return line, nil
}

var _ domain.CartRepository = (*cartRepositoryInMemory)(nil)
