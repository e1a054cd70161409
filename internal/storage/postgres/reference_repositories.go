package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/stockflow/internal/domain"
)

type catalogRepository struct {
	q querier
}

// NewCatalogRepository создаёт PostgreSQL-каталог.
func NewCatalogRepository(store *Store) domain.CatalogRepository {
	return &catalogRepository{q: store.DB()}
}

func (r *catalogRepository) FindBySKU(ctx context.Context, sku string) (domain.CatalogItem, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var item domain.CatalogItem
	err := r.q.QueryRowContext(ctx, `
		SELECT sku, name, price, currency, active FROM catalog_items WHERE sku = $1
	`, sku).Scan(&item.SKU, &item.Name, &item.Price, &item.Currency, &item.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.CatalogItem{}, domain.ErrCatalogItemNotFound
		}
		return domain.CatalogItem{}, fmt.Errorf("select catalog item: %w", err)
	}
	return item, nil
}

func (r *catalogRepository) Upsert(ctx context.Context, item domain.CatalogItem) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.q.ExecContext(ctx, `
		INSERT INTO catalog_items (sku, name, price, currency, active)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (sku) DO UPDATE
		SET name = EXCLUDED.name,
		    price = EXCLUDED.price,
		    currency = EXCLUDED.currency,
		    active = EXCLUDED.active
	`, item.SKU, item.Name, item.Price, item.Currency, item.Active); err != nil {
		return fmt.Errorf("upsert catalog item: %w", err)
	}
	return nil
}

type paymentMethodRepository struct {
	q querier
}

// NewPaymentMethodRepository создаёт PostgreSQL-хранилище методов оплаты.
func NewPaymentMethodRepository(store *Store) domain.PaymentMethodRepository {
	return &paymentMethodRepository{q: store.DB()}
}

const paymentMethodColumns = `id, user_id, sequence, type, name, active`

func (r *paymentMethodRepository) Get(ctx context.Context, id string) (domain.PaymentMethod, error) {
	return r.getBy(ctx, `id = $1`, id)
}

func (r *paymentMethodRepository) FindBySequence(ctx context.Context, userID string, sequence int) (domain.PaymentMethod, error) {
	return r.getBy(ctx, `user_id = $1 AND sequence = $2`, userID, sequence)
}

func (r *paymentMethodRepository) getBy(ctx context.Context, where string, args ...any) (domain.PaymentMethod, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		method     domain.PaymentMethod
		methodType string
	)
	err := r.q.QueryRowContext(ctx, `SELECT `+paymentMethodColumns+` FROM payment_methods WHERE `+where, args...).
		Scan(&method.ID, &method.UserID, &method.Sequence, &methodType, &method.Name, &method.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.PaymentMethod{}, domain.ErrPaymentMethodNotFound
		}
		return domain.PaymentMethod{}, fmt.Errorf("select payment method: %w", err)
	}
	method.Type = domain.PaymentMethodType(methodType)
	return method, nil
}

func (r *paymentMethodRepository) Create(ctx context.Context, method domain.PaymentMethod) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.q.ExecContext(ctx, `
		INSERT INTO payment_methods (`+paymentMethodColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, method.ID, method.UserID, method.Sequence, string(method.Type), method.Name, method.Active); err != nil {
		return fmt.Errorf("insert payment method: %w", err)
	}
	return nil
}

type buyerRepository struct {
	q querier
}

// NewBuyerRepository создаёт PostgreSQL-справочник покупателей.
func NewBuyerRepository(store *Store) domain.BuyerRepository {
	return &buyerRepository{q: store.DB()}
}

func (r *buyerRepository) Get(ctx context.Context, id string) (domain.Buyer, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var buyer domain.Buyer
	err := r.q.QueryRowContext(ctx, `SELECT id, email, active FROM buyers WHERE id = $1`, id).
		Scan(&buyer.ID, &buyer.Email, &buyer.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Buyer{}, domain.ErrBuyerNotFound
		}
		return domain.Buyer{}, fmt.Errorf("select buyer: %w", err)
	}
	return buyer, nil
}

func (r *buyerRepository) Create(ctx context.Context, buyer domain.Buyer) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.q.ExecContext(ctx, `
		INSERT INTO buyers (id, email, active) VALUES ($1,$2,$3)
		ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, active = EXCLUDED.active
	`, buyer.ID, buyer.Email, buyer.Active); err != nil {
		return fmt.Errorf("upsert buyer: %w", err)
	}
	return nil
}

var (
	_ domain.CatalogRepository       = (*catalogRepository)(nil)
	_ domain.PaymentMethodRepository = (*paymentMethodRepository)(nil)
	_ domain.BuyerRepository         = (*buyerRepository)(nil)
)
