package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/stockflow/internal/domain"
)

type cartRepository struct {
	q querier
}

// NewCartRepository создаёт PostgreSQL-хранилище корзин.
func NewCartRepository(store *Store) domain.CartRepository {
	return &cartRepository{q: store.DB()}
}

const cartColumns = `buyer_id, sku, qty, unit_price_snapshot, currency, added_at`

func (r *cartRepository) Lines(ctx context.Context, buyerID string) ([]domain.CartLine, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.q.QueryContext(ctx, `
		SELECT `+cartColumns+`
		FROM cart_lines
		WHERE buyer_id = $1
		ORDER BY added_at ASC, sku ASC
	`, buyerID)
	if err != nil {
		return nil, fmt.Errorf("list cart lines: %w", err)
	}
	defer rows.Close()

	lines := make([]domain.CartLine, 0)
	for rows.Next() {
		line, err := scanCartLine(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cart lines: %w", err)
	}
	return lines, nil
}

func (r *cartRepository) Line(ctx context.Context, buyerID, sku string) (domain.CartLine, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	line, err := scanCartLine(r.q.QueryRowContext(ctx,
		`SELECT `+cartColumns+` FROM cart_lines WHERE buyer_id = $1 AND sku = $2`, buyerID, sku))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.CartLine{}, domain.ErrCartLineNotFound
		}
		return domain.CartLine{}, fmt.Errorf("select cart line: %w", err)
	}
	return line, nil
}

func (r *cartRepository) AddQty(ctx context.Context, line domain.CartLine) (domain.CartLine, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	saved, err := scanCartLine(r.q.QueryRowContext(ctx, `
		INSERT INTO cart_lines (`+cartColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (buyer_id, sku) DO UPDATE
		SET qty = cart_lines.qty + EXCLUDED.qty,
		    unit_price_snapshot = EXCLUDED.unit_price_snapshot,
		    currency = EXCLUDED.currency
		RETURNING `+cartColumns,
		line.BuyerID, line.SKU, line.Qty, line.UnitPriceSnapshot, line.Currency, line.AddedAt))
	if err != nil {
		return domain.CartLine{}, fmt.Errorf("add cart line qty: %w", err)
	}
	return saved, nil
}

func (r *cartRepository) SubtractQty(ctx context.Context, buyerID, sku string, qty int64) (domain.CartLine, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	line, err := scanCartLine(r.q.QueryRowContext(ctx, `
		DELETE FROM cart_lines
		WHERE buyer_id = $1 AND sku = $2 AND qty = $3
		RETURNING `+cartColumns,
		buyerID, sku, qty))
	if err == nil {
		line.Qty = 0
		return line, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.CartLine{}, fmt.Errorf("delete cart line: %w", err)
	}

	line, err = scanCartLine(r.q.QueryRowContext(ctx, `
		UPDATE cart_lines
		SET qty = qty - $3
		WHERE buyer_id = $1 AND sku = $2 AND qty > $3
		RETURNING `+cartColumns,
		buyerID, sku, qty))
	if err == nil {
		return line, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.CartLine{}, fmt.Errorf("subtract cart line qty: %w", err)
	}

	if _, err := r.Line(ctx, buyerID, sku); err != nil {
		return domain.CartLine{}, err
	}
	return domain.CartLine{}, domain.ErrCartLineChanged
}

func scanCartLine(row rowScanner) (domain.CartLine, error) {
	var line domain.CartLine
	if err := row.Scan(
		&line.BuyerID, &line.SKU, &line.Qty, &line.UnitPriceSnapshot, &line.Currency, &line.AddedAt,
	); err != nil {
		return domain.CartLine{}, err
	}
	line.AddedAt = line.AddedAt.UTC()
	return line, nil
}

var _ domain.CartRepository = (*cartRepository)(nil)
