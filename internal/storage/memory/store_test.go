package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/stockflow/internal/domain"
)

func testOrder(id string) domain.Order {
	now := time.Now().UTC()
	line := domain.NewOrderLine("line-1", id, "SKU1", decimal.RequireFromString("19.99"), 2, now)
	return domain.Order{
		ID:            id,
		BuyerID:       "buyer-1",
		TotalAmount:   line.TotalPrice,
		Currency:      "TRY",
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusNone,
		Lines:         []domain.OrderLine{line},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestStore_WithinTxCommits(t *testing.T) {
	store := NewStore(0)
	ctx := context.Background()
	require.NoError(t, store.Stock().Create(ctx, domain.StockItem{SKU: "SKU1", Quantity: 5}))
	_, err := store.Stock().Mutate(ctx, "SKU1", domain.Reserve(2))
	require.NoError(t, err)

	err = store.WithinTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
		res, err := repos.Stock.Mutate(ctx, "SKU1", domain.Confirm(2))
		if err != nil {
			return err
		}
		require.True(t, res.Applied())
		if err := repos.Orders.Create(ctx, testOrder("order-1")); err != nil {
			return err
		}
		if err := repos.Audit.Record(ctx, domain.AuditRecord{ActionType: domain.AuditOrderCreated, ResourceType: domain.ResourceOrder, ResourceID: "order-1"}); err != nil {
			return err
		}
		_, err = repos.Outbox.Enqueue(ctx, domain.OutboxMessage{AggregateType: "order", AggregateID: "order-1", EventType: domain.EventOrderCreated})
		return err
	})
	require.NoError(t, err)

	item, err := store.Stock().Get(ctx, "SKU1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), item.Quantity)
	assert.Equal(t, int64(0), item.Reserved)

	_, err = store.Orders().Get(ctx, "order-1")
	require.NoError(t, err)
	records, err := store.Audit().ListByResource(ctx, domain.ResourceOrder, "order-1")
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Len(t, store.PendingOutbox(), 1)
}

func TestStore_WithinTxRollsBackOnError(t *testing.T) {
	store := NewStore(0)
	ctx := context.Background()
	require.NoError(t, store.Stock().Create(ctx, domain.StockItem{SKU: "SKU1", Quantity: 5}))
	require.NoError(t, store.Stock().Create(ctx, domain.StockItem{SKU: "SKU2", Quantity: 5}))
	_, err := store.Stock().Mutate(ctx, "SKU1", domain.Reserve(2))
	require.NoError(t, err)
	_, err = store.Stock().Mutate(ctx, "SKU2", domain.Reserve(1))
	require.NoError(t, err)

	before1, _ := store.Stock().Get(ctx, "SKU1")
	boom := errors.New("boom")

	err = store.WithinTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
		if _, err := repos.Stock.Mutate(ctx, "SKU1", domain.Confirm(2)); err != nil {
			return err
		}
		if err := repos.Orders.Create(ctx, testOrder("order-1")); err != nil {
			return err
		}
		if _, err := repos.Outbox.Enqueue(ctx, domain.OutboxMessage{EventType: domain.EventOrderCreated}); err != nil {
			return err
		}
		// Вторая позиция падает: подтверждение первой должно откатиться.
		if _, err := repos.Stock.Mutate(ctx, "SKU2", domain.Confirm(3)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, domain.ErrReservedUnderflow)

	after1, _ := store.Stock().Get(ctx, "SKU1")
	assert.Equal(t, before1.Quantity, after1.Quantity)
	assert.Equal(t, before1.Reserved, after1.Reserved)

	_, err = store.Orders().Get(ctx, "order-1")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	assert.Empty(t, store.PendingOutbox())
}

func TestStore_WithinTxRollsBackOnExpiredContext(t *testing.T) {
	store := NewStore(0)
	require.NoError(t, store.Stock().Create(context.Background(), domain.StockItem{SKU: "SKU1", Quantity: 5}))

	ctx, cancel := context.WithCancel(context.Background())
	err := store.WithinTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
		if _, err := repos.Stock.Mutate(ctx, "SKU1", domain.Reserve(5)); err != nil {
			return err
		}
		cancel()
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)

	item, _ := store.Stock().Get(context.Background(), "SKU1")
	assert.Equal(t, int64(5), item.Quantity)
	assert.Equal(t, int64(0), item.Reserved)
}

func TestStore_WithinTxRestoresSavedOrder(t *testing.T) {
	store := NewStore(0)
	ctx := context.Background()
	require.NoError(t, store.Orders().Create(ctx, testOrder("order-1")))

	err := store.WithinTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
		order, err := repos.Orders.Get(ctx, "order-1")
		if err != nil {
			return err
		}
		if err := order.Apply(domain.OrderEventCancel, time.Now().UTC()); err != nil {
			return err
		}
		if err := repos.Orders.Save(ctx, order); err != nil {
			return err
		}
		return errors.New("payment side failed")
	})
	require.Error(t, err)

	order, err := store.Orders().Get(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.Equal(t, int64(0), order.Version)
}
