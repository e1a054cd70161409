package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/stockflow/internal/domain"
)

// catalogRepositoryInMemory — справочник товаров.
type catalogRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.CatalogItem
}

// NewCatalogRepository создаёт in-memory каталог.
func NewCatalogRepository() *catalogRepositoryInMemory {
	return &catalogRepositoryInMemory{items: make(map[string]domain.CatalogItem)}
}

func (r *catalogRepositoryInMemory) FindBySKU(ctx context.Context, sku string) (domain.CatalogItem, error) {
	if err := ctx.Err(); err != nil {
		return domain.CatalogItem{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	item, ok := r.items[sku]
	if !ok {
		return domain.CatalogItem{}, domain.ErrCatalogItemNotFound
	}
	return item, nil
}

func (r *catalogRepositoryInMemory) Upsert(ctx context.Context, item domain.CatalogItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if item.SKU == "" {
		return domain.ErrSKURequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.items[item.SKU] = item
	return nil
}

// paymentMethodRepositoryInMemory — сохранённые методы оплаты.
type paymentMethodRepositoryInMemory struct {
	mu      sync.RWMutex
	methods map[string]domain.PaymentMethod
}

// NewPaymentMethodRepository создаёт in-memory хранилище методов оплаты.
func NewPaymentMethodRepository() *paymentMethodRepositoryInMemory {
	return &paymentMethodRepositoryInMemory{methods: make(map[string]domain.PaymentMethod)}
}

func (r *paymentMethodRepositoryInMemory) Get(ctx context.Context, id string) (domain.PaymentMethod, error) {
	if err := ctx.Err(); err != nil {
		return domain.PaymentMethod{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	method, ok := r.methods[id]
	if !ok {
		return domain.PaymentMethod{}, domain.ErrPaymentMethodNotFound
	}
	return method, nil
}

func (r *paymentMethodRepositoryInMemory) FindBySequence(ctx context.Context, userID string, sequence int) (domain.PaymentMethod, error) {
	if err := ctx.Err(); err != nil {
		return domain.PaymentMethod{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, method := range r.methods {
		if method.UserID == userID && method.Sequence == sequence {
			return method, nil
		}
	}
	return domain.PaymentMethod{}, domain.ErrPaymentMethodNotFound
}

func (r *paymentMethodRepositoryInMemory) Create(ctx context.Context, method domain.PaymentMethod) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.methods[method.ID] = method
	return nil
}

// buyerRepositoryInMemory — справочник покупателей.
type buyerRepositoryInMemory struct {
	mu     sync.RWMutex
	buyers map[string]domain.Buyer
}

// NewBuyerRepository создаёт in-memory справочник покупателей.
func NewBuyerRepository() *buyerRepositoryInMemory {
	return &buyerRepositoryInMemory{buyers: make(map[string]domain.Buyer)}
}

func (r *buyerRepositoryInMemory) Get(ctx context.Context, id string) (domain.Buyer, error) {
	if err := ctx.Err(); err != nil {
		return domain.Buyer{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	buyer, ok := r.buyers[id]
	if !ok {
		return domain.Buyer{}, domain.ErrBuyerNotFound
	}
	return buyer, nil
}

func (r *buyerRepositoryInMemory) Create(ctx context.Context, buyer domain.Buyer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if buyer.ID == "" {
		return domain.ErrBuyerRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.buyers[buyer.ID] = buyer
	return nil
}

var (
	_ domain.CatalogRepository       = (*catalogRepositoryInMemory)(nil)
	_ domain.PaymentMethodRepository = (*paymentMethodRepositoryInMemory)(nil)
	_ domain.BuyerRepository         = (*buyerRepositoryInMemory)(nil)
)
