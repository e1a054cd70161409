package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/stockflow/internal/domain"
)

// Store связывает in-memory репозитории, которые участвуют в общей транзакции.
type Store struct {
	txMu     sync.Mutex
	stock    *stockRepositoryInMemory
	orders   *orderRepositoryInMemory
	payments *paymentRepositoryInMemory
	audit    *auditRepositoryInMemory
	outbox   *outboxRepositoryInMemory
}

// NewStore создаёт пустое in-memory хранилище.
func NewStore(lockTimeout time.Duration) *Store {
	return &Store{
		stock:    NewStockRepository(lockTimeout),
		orders:   NewOrderRepository(),
		payments: NewPaymentRepository(),
		audit:    NewAuditRepository(),
		outbox:   NewOutboxRepository(),
	}
}

func (s *Store) Stock() domain.StockRepository         { return s.stock }
func (s *Store) Orders() domain.OrderRepository        { return s.orders }
func (s *Store) Payments() domain.PaymentRepository    { return s.payments }
func (s *Store) Audit() domain.AuditRepository         { return s.audit }
func (s *Store) Outbox() domain.OutboxRepository       { return s.outbox }
func (s *Store) Ping(ctx context.Context) error        { return ctx.Err() }
func (s *Store) PendingOutbox() []domain.OutboxMessage { return s.outbox.AllPending() }

// WithinTx выполняет fn с журналом отмены. Транзакции сериализуются между собой;
// при ошибке fn или истечении ctx все изменения откатываются в обратном порядке.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, repos domain.Repositories) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	j := &journal{}
	repos := domain.Repositories{
		Stock:    &txStock{base: s.stock, j: j},
		Orders:   &txOrders{base: s.orders, j: j},
		Payments: &txPayments{base: s.payments, j: j},
		Audit:    &txAudit{base: s.audit, j: j},
		Outbox:   &txOutbox{base: s.outbox, j: j},
	}

	err := fn(ctx, repos)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		j.rollback()
		return err
	}
	return nil
}

var _ domain.Transactor = (*Store)(nil)

// journal копит действия отмены в порядке применения.
type journal struct {
	undo []func()
}

func (j *journal) add(fn func()) {
	j.undo = append(j.undo, fn)
}

func (j *journal) rollback() {
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
	j.undo = nil
}

type txStock struct {
	base *stockRepositoryInMemory
	j    *journal
}

func (t *txStock) Create(ctx context.Context, item domain.StockItem) error {
	if err := t.base.Create(ctx, item); err != nil {
		return err
	}
	t.j.add(func() { t.base.delete(item.SKU) })
	return nil
}

func (t *txStock) Get(ctx context.Context, sku string) (domain.StockItem, error) {
	return t.base.Get(ctx, sku)
}

func (t *txStock) Mutate(ctx context.Context, sku string, op domain.StockOperation) (domain.StockResult, error) {
	res, err := t.base.Mutate(ctx, sku, op)
	if err == nil && res.Applied() {
		t.j.add(func() { t.base.compensate(sku, op) })
	}
	return res, err
}

func (t *txStock) UpdateLocation(ctx context.Context, sku, location string) error {
	prev, err := t.base.Get(ctx, sku)
	if err != nil {
		return err
	}
	if err := t.base.UpdateLocation(ctx, sku, location); err != nil {
		return err
	}
	t.j.add(func() { _ = t.base.UpdateLocation(context.Background(), sku, prev.WarehouseLocation) })
	return nil
}

func (t *txStock) ListAvailableBelow(ctx context.Context, threshold int64) ([]domain.StockItem, error) {
	return t.base.ListAvailableBelow(ctx, threshold)
}

type txOrders struct {
	base *orderRepositoryInMemory
	j    *journal
}

func (t *txOrders) Create(ctx context.Context, order domain.Order) error {
	if err := t.base.Create(ctx, order); err != nil {
		return err
	}
	t.j.add(func() { t.base.delete(order.ID) })
	return nil
}

func (t *txOrders) Get(ctx context.Context, id string) (domain.Order, error) {
	return t.base.Get(ctx, id)
}

func (t *txOrders) ListByBuyer(ctx context.Context, buyerID string, limit int) ([]domain.Order, error) {
	return t.base.ListByBuyer(ctx, buyerID, limit)
}

func (t *txOrders) Save(ctx context.Context, order domain.Order) error {
	prev, err := t.base.Get(ctx, order.ID)
	if err != nil {
		return err
	}
	if err := t.base.Save(ctx, order); err != nil {
		return err
	}
	t.j.add(func() { t.base.restore(prev) })
	return nil
}

type txPayments struct {
	base *paymentRepositoryInMemory
	j    *journal
}

func (t *txPayments) Create(ctx context.Context, payment domain.Payment) error {
	if err := t.base.Create(ctx, payment); err != nil {
		return err
	}
	t.j.add(func() { t.base.delete(payment.ID) })
	return nil
}

func (t *txPayments) Get(ctx context.Context, id string) (domain.Payment, error) {
	return t.base.Get(ctx, id)
}

func (t *txPayments) Save(ctx context.Context, payment domain.Payment) error {
	prev, err := t.base.Get(ctx, payment.ID)
	if err != nil {
		return err
	}
	if err := t.base.Save(ctx, payment); err != nil {
		return err
	}
	t.j.add(func() { t.base.restore(prev) })
	return nil
}

func (t *txPayments) ListByOrder(ctx context.Context, orderID string) ([]domain.Payment, error) {
	return t.base.ListByOrder(ctx, orderID)
}

func (t *txPayments) ListByPayer(ctx context.Context, payerID string, limit int) ([]domain.Payment, error) {
	return t.base.ListByPayer(ctx, payerID, limit)
}

func (t *txPayments) GetByTransactionID(ctx context.Context, transactionID string) (domain.Payment, error) {
	return t.base.GetByTransactionID(ctx, transactionID)
}

func (t *txPayments) HasActive(ctx context.Context, orderID string) (bool, error) {
	return t.base.HasActive(ctx, orderID)
}

type txAudit struct {
	base *auditRepositoryInMemory
	j    *journal
}

func (t *txAudit) Record(ctx context.Context, record domain.AuditRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if err := t.base.Record(ctx, record); err != nil {
		return err
	}
	t.j.add(func() { t.base.remove(record) })
	return nil
}

type txOutbox struct {
	base *outboxRepositoryInMemory
	j    *journal
}

func (t *txOutbox) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	saved, err := t.base.Enqueue(ctx, msg)
	if err != nil {
		return domain.OutboxMessage{}, err
	}
	t.j.add(func() { t.base.remove(saved.ID) })
	return saved, nil
}

func (t *txOutbox) PullPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	return t.base.PullPending(ctx, limit)
}

func (t *txOutbox) Stats(ctx context.Context) (domain.OutboxStats, error) {
	return t.base.Stats(ctx)
}

func (t *txOutbox) MarkSent(ctx context.Context, id string) error {
	return t.base.MarkSent(ctx, id)
}

func (t *txOutbox) MarkFailed(ctx context.Context, id string) error {
	return t.base.MarkFailed(ctx, id)
}
