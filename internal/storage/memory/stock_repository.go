package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vladislavdragonenkov/stockflow/internal/domain"
)

const defaultLockTimeout = 2 * time.Second

// stockRow — строка ledger со своей эксклюзивной блокировкой.
// lock — семафор на один слот, чтобы ожидание можно было прервать по таймауту.
// item меняется только под lock; snapshot публикуется после каждой записи и читается без блокировки.
type stockRow struct {
	lock     chan struct{}
	item     domain.StockItem
	snapshot atomic.Pointer[domain.StockItem]
}

func newStockRow(item domain.StockItem) *stockRow {
	row := &stockRow{lock: make(chan struct{}, 1), item: item}
	row.publish()
	return row
}

// publish выкладывает копию item для читателей. Вызывается под lock.
func (r *stockRow) publish() {
	item := r.item
	r.snapshot.Store(&item)
}

func (r *stockRow) load() domain.StockItem {
	return *r.snapshot.Load()
}

// acquire ждёт блокировку строки не дольше timeout либо до отмены ctx.
func (r *stockRow) acquire(ctx context.Context, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r.lock <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	case <-timer.C:
		return false
	}
}

func (r *stockRow) release() {
	<-r.lock
}

// stockRepositoryInMemory — ledger с пессимистичной блокировкой на уровне SKU.
type stockRepositoryInMemory struct {
	mu          sync.RWMutex
	rows        map[string]*stockRow
	lockTimeout time.Duration
}

// NewStockRepository создаёт in-memory ledger. lockTimeout <= 0 включает значение по умолчанию.
func NewStockRepository(lockTimeout time.Duration) *stockRepositoryInMemory {
	if lockTimeout <= 0 {
		lockTimeout = defaultLockTimeout
	}
	return &stockRepositoryInMemory{
		rows:        make(map[string]*stockRow),
		lockTimeout: lockTimeout,
	}
}

func (r *stockRepositoryInMemory) row(sku string) (*stockRow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	row, ok := r.rows[sku]
	if !ok {
		return nil, domain.ErrStockItemNotFound
	}
	return row, nil
}

// Create заводит строку остатка.
func (r *stockRepositoryInMemory) Create(ctx context.Context, item domain.StockItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(item.SKU) == "" {
		return domain.ErrSKURequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rows[item.SKU]; exists {
		return domain.ErrStockItemExists
	}
	r.rows[item.SKU] = newStockRow(item)
	return nil
}

// Get возвращает последний зафиксированный снимок строки, не дожидаясь блокировки.
func (r *stockRepositoryInMemory) Get(ctx context.Context, sku string) (domain.StockItem, error) {
	if err := ctx.Err(); err != nil {
		return domain.StockItem{}, err
	}
	row, err := r.row(sku)
	if err != nil {
		return domain.StockItem{}, err
	}
	return row.load(), nil
}

// Mutate выполняет check-then-write под блокировкой строки.
// Если блокировку не удалось получить за lockTimeout, возвращается outcome conflict.
func (r *stockRepositoryInMemory) Mutate(ctx context.Context, sku string, op domain.StockOperation) (domain.StockResult, error) {
	if err := op.Validate(); err != nil {
		return domain.StockResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.StockResult{}, err
	}

	row, err := r.row(sku)
	if err != nil {
		return domain.StockResult{}, err
	}
	if !row.acquire(ctx, r.lockTimeout) {
		if err := ctx.Err(); err != nil {
			return domain.StockResult{}, err
		}
		return domain.StockResult{Outcome: domain.StockOutcomeConflict}, nil
	}
	defer row.release()

	next, outcome, err := domain.ApplyStockOperation(row.item, op, time.Now().UTC())
	if err != nil {
		return domain.StockResult{Item: row.item}, err
	}
	if outcome == domain.StockOutcomeApplied {
		row.item = next
		row.publish()
	}
	return domain.StockResult{Outcome: outcome, Item: row.item}, nil
}

// compensate откатывает применённую операцию обратными дельтами.
// Дельты коммутируют с конкурентными операциями, поэтому чужие изменения не теряются.
func (r *stockRepositoryInMemory) compensate(sku string, op domain.StockOperation) {
	row, err := r.row(sku)
	if err != nil {
		return
	}
	row.lock <- struct{}{}
	defer row.release()

	switch op.Kind {
	case domain.StockOpReserve:
		row.item.Quantity += op.Qty
		row.item.Reserved -= op.Qty
	case domain.StockOpConfirm:
		row.item.Reserved += op.Qty
	case domain.StockOpCancel:
		row.item.Quantity -= op.Qty
		row.item.Reserved += op.Qty
	case domain.StockOpAdjust:
		row.item.Quantity -= op.Qty
	}
	row.item.Version++
	row.item.UpdatedAt = time.Now().UTC()
	row.publish()
}

func (r *stockRepositoryInMemory) delete(sku string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, sku)
}

// UpdateLocation меняет складскую локацию строки.
func (r *stockRepositoryInMemory) UpdateLocation(ctx context.Context, sku, location string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	row, err := r.row(sku)
	if err != nil {
		return err
	}
	if !row.acquire(ctx, r.lockTimeout) {
		return domain.ErrStockConflict
	}
	defer row.release()

	row.item.WarehouseLocation = location
	row.item.Version++
	row.item.UpdatedAt = time.Now().UTC()
	row.publish()
	return nil
}

// ListAvailableBelow возвращает строки со свободным остатком ниже threshold, упорядоченные по SKU.
func (r *stockRepositoryInMemory) ListAvailableBelow(ctx context.Context, threshold int64) ([]domain.StockItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	rows := make([]*stockRow, 0, len(r.rows))
	for _, row := range r.rows {
		rows = append(rows, row)
	}
	r.mu.RUnlock()

	result := make([]domain.StockItem, 0)
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if item := row.load(); item.Available() < threshold {
			result = append(result, item)
		}
	}

	sort.Slice(result, func(i, j int) bool { return result[i].SKU < result[j].SKU })
	return result, nil
}

var _ domain.StockRepository = (*stockRepositoryInMemory)(nil)
