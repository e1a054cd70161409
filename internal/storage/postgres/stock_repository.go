package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/stockflow/internal/domain"
)

const stockColumns = `sku, quantity, reserved, version, warehouse_location, updated_at`

type stockRepository struct {
	q           querier
	lockTimeout time.Duration
}

// NewStockRepository создаёт PostgreSQL-реализацию ledger.
func NewStockRepository(store *Store) domain.StockRepository {
	return &stockRepository{q: store.DB(), lockTimeout: store.lockTimeout}
}

func (r *stockRepository) Create(ctx context.Context, item domain.StockItem) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if strings.TrimSpace(item.SKU) == "" {
		return domain.ErrSKURequired
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = time.Now().UTC()
	}

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO stock_items (sku, quantity, reserved, version, warehouse_location, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, item.SKU, item.Quantity, item.Reserved, item.Version, item.WarehouseLocation, item.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrStockItemExists
		}
		return fmt.Errorf("insert stock item: %w", err)
	}
	return nil
}

func (r *stockRepository) Get(ctx context.Context, sku string) (domain.StockItem, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	item, err := scanStockItem(r.q.QueryRowContext(ctx,
		`SELECT `+stockColumns+` FROM stock_items WHERE sku = $1`, sku))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.StockItem{}, domain.ErrStockItemNotFound
		}
		return domain.StockItem{}, fmt.Errorf("select stock item: %w", err)
	}
	return item, nil
}

// Mutate берёт строку через SELECT ... FOR UPDATE с lock_timeout и пишет результат
// domain.ApplyStockOperation. Ожидание блокировки обёрнуто в savepoint: истёкший
// lock_timeout откатывается до него, и транзакция остаётся рабочей.
func (r *stockRepository) Mutate(ctx context.Context, sku string, op domain.StockOperation) (domain.StockResult, error) {
	if err := op.Validate(); err != nil {
		return domain.StockResult{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var result domain.StockResult

	err := withTx(ctx, r.q, func(q querier) error {
		if _, err := q.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())); err != nil {
			return fmt.Errorf("set lock timeout: %w", err)
		}
		if _, err := q.ExecContext(ctx, `SAVEPOINT stock_mutate`); err != nil {
			return fmt.Errorf("savepoint: %w", err)
		}

		item, err := scanStockItem(q.QueryRowContext(ctx,
			`SELECT `+stockColumns+` FROM stock_items WHERE sku = $1 FOR UPDATE`, sku))
		switch {
		case err == nil:
		case errors.Is(err, sql.ErrNoRows):
			return domain.ErrStockItemNotFound
		case isLockNotAvailable(err):
			if _, rbErr := q.ExecContext(ctx, `ROLLBACK TO SAVEPOINT stock_mutate`); rbErr != nil {
				return fmt.Errorf("rollback to savepoint: %w", rbErr)
			}
			result = domain.StockResult{Outcome: domain.StockOutcomeConflict}
			return nil
		default:
			return fmt.Errorf("lock stock item: %w", err)
		}

		next, outcome, err := domain.ApplyStockOperation(item, op, time.Now().UTC())
		if err != nil {
			result = domain.StockResult{Item: item}
			return err
		}
		if outcome != domain.StockOutcomeApplied {
			result = domain.StockResult{Outcome: outcome, Item: item}
			return nil
		}

		if _, err := q.ExecContext(ctx, `
			UPDATE stock_items
			SET quantity = $2,
			    reserved = $3,
			    version = $4,
			    updated_at = $5
			WHERE sku = $1
		`, next.SKU, next.Quantity, next.Reserved, next.Version, next.UpdatedAt); err != nil {
			return fmt.Errorf("update stock item: %w", err)
		}
		if _, err := q.ExecContext(ctx, `RELEASE SAVEPOINT stock_mutate`); err != nil {
			return fmt.Errorf("release savepoint: %w", err)
		}

		result = domain.StockResult{Outcome: domain.StockOutcomeApplied, Item: next}
		return nil
	})
	if err != nil {
		return result, err
	}
	return result, nil
}

func (r *stockRepository) UpdateLocation(ctx context.Context, sku, location string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `
		UPDATE stock_items
		SET warehouse_location = $2,
		    version = version + 1,
		    updated_at = $3
		WHERE sku = $1
	`, sku, location, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update stock location: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrStockItemNotFound
	}
	return nil
}

func (r *stockRepository) ListAvailableBelow(ctx context.Context, threshold int64) ([]domain.StockItem, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.q.QueryContext(ctx,
		`SELECT `+stockColumns+` FROM stock_items WHERE quantity < $1 ORDER BY sku`, threshold)
	if err != nil {
		return nil, fmt.Errorf("list low stock: %w", err)
	}
	defer rows.Close()

	items := make([]domain.StockItem, 0)
	for rows.Next() {
		item, err := scanStockItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stock item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stock rows: %w", err)
	}
	return items, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStockItem(row rowScanner) (domain.StockItem, error) {
	var item domain.StockItem
	if err := row.Scan(
		&item.SKU, &item.Quantity, &item.Reserved, &item.Version, &item.WarehouseLocation, &item.UpdatedAt,
	); err != nil {
		return domain.StockItem{}, err
	}
	item.UpdatedAt = item.UpdatedAt.UTC()
	return item, nil
}

var _ domain.StockRepository = (*stockRepository)(nil)
