// Package inventory реализует протокол резервирования поверх складского ledger.
package inventory

import (
	"context"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/stockflow/internal/domain"
	"github.com/vladislavdragonenkov/stockflow/internal/metrics"
)

// Engine выполняет операции ledger, пишет метрики и аудит корректировок.
type Engine struct {
	stock   domain.StockRepository
	tx      domain.Transactor
	bound   *domain.Repositories
	metrics *metrics.StockMetrics
	logger  *log.Entry
	now     func() time.Time
}

// Option настраивает Engine.
type Option func(*Engine)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics подключает prometheus-метрики ledger.
func WithMetrics(m *metrics.StockMetrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine создаёт движок. tx нужен для корректировок, которые пишут аудит и outbox атомарно с остатком.
func NewEngine(stock domain.StockRepository, tx domain.Transactor, opts ...Option) *Engine {
	e := &Engine{
		stock:  stock,
		tx:     tx,
		logger: log.WithField("component", "inventory"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Bind возвращает копию движка, работающую через репозитории уже открытой транзакции.
func (e *Engine) Bind(repos domain.Repositories) *Engine {
	bound := *e
	bound.stock = repos.Stock
	bound.bound = &repos
	return &bound
}

// CreateItem заводит строку остатка для нового SKU.
func (e *Engine) CreateItem(ctx context.Context, sku string, initialQty int64, location string) (domain.StockItem, error) {
	item := domain.StockItem{
		SKU:               strings.TrimSpace(sku),
		Quantity:          initialQty,
		WarehouseLocation: location,
		UpdatedAt:         e.now(),
	}
	if errs := item.ValidateInvariants(); len(errs) > 0 {
		return domain.StockItem{}, errs[0]
	}
	if err := e.stock.Create(ctx, item); err != nil {
		return domain.StockItem{}, err
	}

	e.logger.WithFields(log.Fields{
		"sku":      item.SKU,
		"quantity": initialQty,
		"location": location,
	}).Info("stock item created")
	return item, nil
}

// Reserve переводит qty единиц из свободного остатка в резерв.
func (e *Engine) Reserve(ctx context.Context, sku string, qty int64) (domain.StockResult, error) {
	return e.mutate(ctx, sku, domain.Reserve(qty))
}

// ConfirmReservation списывает зарезервированные единицы (продажа).
func (e *Engine) ConfirmReservation(ctx context.Context, sku string, qty int64) (domain.StockResult, error) {
	return e.mutate(ctx, sku, domain.Confirm(qty))
}

// CancelReservation возвращает зарезервированные единицы в свободный остаток.
func (e *Engine) CancelReservation(ctx context.Context, sku string, qty int64) (domain.StockResult, error) {
	return e.mutate(ctx, sku, domain.Cancel(qty))
}

// AdjustStock меняет свободный остаток на delta. expectedVersion > 0 включает версионную проверку.
// Применённая корректировка пишет аудит и событие stock.adjusted в той же транзакции.
func (e *Engine) AdjustStock(ctx context.Context, sku string, delta, expectedVersion int64, reason string) (domain.StockResult, error) {
	op := domain.Adjust(delta, expectedVersion)
	if err := op.Validate(); err != nil {
		return domain.StockResult{}, err
	}

	var res domain.StockResult
	run := func(ctx context.Context, repos domain.Repositories) error {
		var err error
		res, err = e.Bind(repos).mutate(ctx, sku, op)
		if err != nil || !res.Applied() {
			return err
		}
		return e.recordAdjustment(ctx, repos, res.Item, delta, reason)
	}

	var err error
	switch {
	case e.bound != nil:
		err = run(ctx, *e.bound)
	case e.tx != nil:
		err = e.tx.WithinTx(ctx, run)
	default:
		res, err = e.mutate(ctx, sku, op)
	}
	if err != nil {
		return domain.StockResult{}, err
	}
	return res, nil
}

func (e *Engine) recordAdjustment(ctx context.Context, repos domain.Repositories, item domain.StockItem, delta int64, reason string) error {
	details := map[string]any{
		"sku":      item.SKU,
		"delta":    delta,
		"quantity": item.Quantity,
		"reserved": item.Reserved,
		"version":  item.Version,
		"reason":   reason,
	}
	if repos.Audit != nil {
		if err := repos.Audit.Record(ctx, domain.AuditRecord{
			ActorID:      domain.ActorFromContext(ctx),
			ActionType:   domain.AuditStockAdjusted,
			ResourceType: domain.ResourceStock,
			ResourceID:   item.SKU,
			Summary:      reason,
			Details:      details,
		}); err != nil {
			return err
		}
	}
	if repos.Outbox != nil {
		msg, err := domain.NewOutboxMessage(domain.AggregateStock, item.SKU, domain.EventStockAdjusted, details)
		if err != nil {
			return err
		}
		if _, err := repos.Outbox.Enqueue(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// UpdateWarehouseLocation меняет складскую локацию SKU.
func (e *Engine) UpdateWarehouseLocation(ctx context.Context, sku, location string) error {
	return e.stock.UpdateLocation(ctx, sku, location)
}

func (e *Engine) mutate(ctx context.Context, sku string, op domain.StockOperation) (domain.StockResult, error) {
	start := time.Now()
	res, err := e.stock.Mutate(ctx, sku, op)

	outcome := string(res.Outcome)
	if err != nil {
		outcome = "error"
	}
	e.metrics.RecordOperation(string(op.Kind), outcome, time.Since(start))

	entry := e.logger.WithFields(log.Fields{
		"sku": sku,
		"op":  op.Kind,
		"qty": op.Qty,
	})
	switch {
	case err != nil:
		entry.WithError(err).Warn("stock operation failed")
	case !res.Applied():
		entry.WithField("outcome", res.Outcome).Info("stock operation not applied")
	default:
		entry.WithFields(log.Fields{
			"quantity": res.Item.Quantity,
			"reserved": res.Item.Reserved,
			"version":  res.Item.Version,
		}).Debug("stock operation applied")
	}
	return res, err
}

// Get читает строку остатка без блокировок.
func (e *Engine) Get(ctx context.Context, sku string) (domain.StockItem, error) {
	return e.stock.Get(ctx, sku)
}

// AvailableQuantity — свободный остаток SKU.
func (e *Engine) AvailableQuantity(ctx context.Context, sku string) (int64, error) {
	item, err := e.stock.Get(ctx, sku)
	if err != nil {
		return 0, err
	}
	return item.Available(), nil
}

func (e *Engine) IsLowStock(ctx context.Context, sku string, threshold int64) (bool, error) {
	if threshold < 0 {
		return false, domain.ErrThresholdNegative
	}
	item, err := e.stock.Get(ctx, sku)
	if err != nil {
		return false, err
	}
	return item.IsLowStock(threshold)
}

func (e *Engine) IsOutOfStock(ctx context.Context, sku string) (bool, error) {
	item, err := e.stock.Get(ctx, sku)
	if err != nil {
		return false, err
	}
	return item.IsOutOfStock(), nil
}

// LowStockItems возвращает SKU со свободным остатком ниже threshold.
func (e *Engine) LowStockItems(ctx context.Context, threshold int64) ([]domain.StockItem, error) {
	if threshold < 0 {
		return nil, domain.ErrThresholdNegative
	}
	return e.stock.ListAvailableBelow(ctx, threshold)
}

// OutOfStockItems возвращает SKU без свободного остатка.
func (e *Engine) OutOfStockItems(ctx context.Context) ([]domain.StockItem, error) {
	return e.stock.ListAvailableBelow(ctx, 1)
}
