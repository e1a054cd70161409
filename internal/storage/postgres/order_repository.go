package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/stockflow/internal/domain"
)

const orderColumns = `id, buyer_id, status, payment_status, total_amount, currency,
	shipping_address, billing_address, metadata, version, created_at, updated_at,
	paid_at, cancelled_at, shipped_at`

type orderRepository struct {
	q querier
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{q: store.DB()}
}

func (r *orderRepository) Create(ctx context.Context, order domain.Order) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	shipping, billing, meta, err := encodeOrderDocuments(order)
	if err != nil {
		return err
	}

	return withTx(ctx, r.q, func(q querier) error {
		_, err := q.ExecContext(ctx, `
			INSERT INTO orders (
				id, buyer_id, status, payment_status, total_amount, currency,
				shipping_address, billing_address, metadata, version, created_at, updated_at,
				paid_at, cancelled_at, shipped_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		`,
			order.ID, order.BuyerID, string(order.Status), string(order.PaymentStatus),
			order.TotalAmount, order.Currency, shipping, billing, meta, order.Version,
			order.CreatedAt, order.UpdatedAt, nullTime(order.PaidAt), nullTime(order.CancelledAt),
			nullTime(order.ShippedAt),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.ErrOrderVersionConflict
			}
			return fmt.Errorf("insert order: %w", err)
		}

		for _, line := range order.Lines {
			if _, err := q.ExecContext(ctx, `
				INSERT INTO order_lines (
					id, order_id, sku, unit_price, qty, total_price, created_at
				) VALUES ($1,$2,$3,$4,$5,$6,$7)
			`,
				line.ID, order.ID, line.SKU, line.UnitPrice, line.Qty, line.TotalPrice, line.CreatedAt,
			); err != nil {
				return fmt.Errorf("insert order line: %w", err)
			}
		}
		return nil
	})
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	order, err := scanOrder(r.q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}

	lines, err := r.loadLines(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Lines = lines

	return order, nil
}

func (r *orderRepository) ListByBuyer(ctx context.Context, buyerID string, limit int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := `SELECT ` + orderColumns + `
		FROM orders
		WHERE buyer_id = $1
		ORDER BY created_at DESC, id DESC
	`

	var (
		rows *sql.Rows
		err  error
	)

	if limit > 0 {
		rows, err = r.q.QueryContext(ctx, query+" LIMIT $2", buyerID, limit)
	} else {
		rows, err = r.q.QueryContext(ctx, query, buyerID)
	}
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}
	rows.Close()

	// Позиции читаем после закрытия курсора: внутри транзакции соединение одно.
	for i := range orders {
		lines, err := r.loadLines(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Lines = lines
	}

	return orders, nil
}

// Save обновляет статус, адреса и метаданные заказа с проверкой версии. Позиции неизменяемы.
func (r *orderRepository) Save(ctx context.Context, order domain.Order) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	shipping, billing, meta, err := encodeOrderDocuments(order)
	if err != nil {
		return err
	}

	res, err := r.q.ExecContext(ctx, `
		UPDATE orders
		SET status = $1,
		    payment_status = $2,
		    shipping_address = $3,
		    billing_address = $4,
		    metadata = $5,
		    paid_at = $6,
		    cancelled_at = $7,
		    shipped_at = $8,
		    version = version + 1,
		    updated_at = $9
		WHERE id = $10
		  AND version = $11
	`,
		string(order.Status),
		string(order.PaymentStatus),
		shipping,
		billing,
		meta,
		nullTime(order.PaidAt),
		nullTime(order.CancelledAt),
		nullTime(order.ShippedAt),
		order.UpdatedAt,
		order.ID,
		order.Version,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, err := rowExists(ctx, r.q, `SELECT 1 FROM orders WHERE id = $1`, order.ID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrOrderNotFound
		}
		return domain.ErrOrderVersionConflict
	}

	return nil
}

func (r *orderRepository) loadLines(ctx context.Context, orderID string) ([]domain.OrderLine, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, order_id, sku, unit_price, qty, total_price, created_at
		FROM order_lines
		WHERE order_id = $1
		ORDER BY created_at ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order lines: %w", err)
	}
	defer rows.Close()

	lines := make([]domain.OrderLine, 0)
	for rows.Next() {
		var line domain.OrderLine
		if err := rows.Scan(
			&line.ID, &line.OrderID, &line.SKU, &line.UnitPrice, &line.Qty, &line.TotalPrice, &line.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		line.CreatedAt = line.CreatedAt.UTC()
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order lines: %w", err)
	}

	return lines, nil
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order                        domain.Order
		status, paymentStatus        string
		shipping, billing, meta      []byte
		paidAt, cancelledAt, shipped sql.NullTime
	)
	if err := row.Scan(
		&order.ID, &order.BuyerID, &status, &paymentStatus, &order.TotalAmount, &order.Currency,
		&shipping, &billing, &meta, &order.Version, &order.CreatedAt, &order.UpdatedAt,
		&paidAt, &cancelledAt, &shipped,
	); err != nil {
		return domain.Order{}, err
	}

	order.Status = domain.OrderStatus(status)
	order.PaymentStatus = domain.PaymentStatus(paymentStatus)
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	order.PaidAt = timeFromNull(paidAt)
	order.CancelledAt = timeFromNull(cancelledAt)
	order.ShippedAt = timeFromNull(shipped)

	if err := json.Unmarshal(shipping, &order.ShippingAddress); err != nil {
		return domain.Order{}, fmt.Errorf("decode shipping address: %w", err)
	}
	if err := json.Unmarshal(billing, &order.BillingAddress); err != nil {
		return domain.Order{}, fmt.Errorf("decode billing address: %w", err)
	}
	if err := json.Unmarshal(meta, &order.Metadata); err != nil {
		return domain.Order{}, fmt.Errorf("decode order metadata: %w", err)
	}
	if len(order.Metadata) == 0 {
		order.Metadata = nil
	}
	return order, nil
}

func encodeOrderDocuments(order domain.Order) (shipping, billing, meta []byte, err error) {
	if shipping, err = json.Marshal(order.ShippingAddress); err != nil {
		return nil, nil, nil, fmt.Errorf("encode shipping address: %w", err)
	}
	if billing, err = json.Marshal(order.BillingAddress); err != nil {
		return nil, nil, nil, fmt.Errorf("encode billing address: %w", err)
	}
	metadata := order.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	if meta, err = json.Marshal(metadata); err != nil {
		return nil, nil, nil, fmt.Errorf("encode order metadata: %w", err)
	}
	return shipping, billing, meta, nil
}

func rowExists(ctx context.Context, q querier, query string, args ...any) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, query, args...).Scan(&one)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check row exists: %w", err)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timeFromNull(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

var _ domain.OrderRepository = (*orderRepository)(nil)
