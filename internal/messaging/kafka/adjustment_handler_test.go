package kafka

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/stockflow/internal/domain"
	"github.com/vladislavdragonenkov/stockflow/internal/service/inventory"
	"github.com/vladislavdragonenkov/stockflow/internal/storage/memory"
)

func silentEntry() *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return log.NewEntry(logger)
}

func adjustmentMessage(value string) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{Topic: TopicStockAdjustments, Key: []byte("SKU1"), Value: []byte(value)}
}

func newEngine(t *testing.T) (*inventory.Engine, *memory.Store) {
	t.Helper()
	store := memory.NewStore(0)
	engine := inventory.NewEngine(store.Stock(), store, inventory.WithLogger(silentEntry()))
	_, err := engine.CreateItem(context.Background(), "SKU1", 10, "A-1")
	require.NoError(t, err)
	return engine, store
}

func TestStockAdjustmentHandler_Applies(t *testing.T) {
	engine, store := newEngine(t)
	handler := NewStockAdjustmentHandler(engine, silentEntry())

	err := handler(context.Background(), adjustmentMessage(`{"sku":"SKU1","delta":5,"reason":"restock"}`))
	require.NoError(t, err)

	item, err := engine.Get(context.Background(), "SKU1")
	require.NoError(t, err)
	assert.Equal(t, int64(15), item.Quantity)

	audit, err := store.Audit().ListByResource(context.Background(), domain.ResourceStock, "SKU1")
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, "kafka:"+TopicStockAdjustments, audit[0].ActorID)
}

func TestStockAdjustmentHandler_Malformed(t *testing.T) {
	engine, _ := newEngine(t)
	handler := NewStockAdjustmentHandler(engine, silentEntry())

	for _, value := range []string{`{`, `{"sku":"","delta":1}`, `{"sku":"SKU1","delta":0}`, `{"sku":"SKU1","delta":1,"expected_version":-1}`} {
		err := handler(context.Background(), adjustmentMessage(value))
		require.ErrorIs(t, err, ErrMalformedMessage, value)
		assert.False(t, Retryable(err))
	}
}

func TestStockAdjustmentHandler_Outcomes(t *testing.T) {
	engine, _ := newEngine(t)
	handler := NewStockAdjustmentHandler(engine, silentEntry())

	err := handler(context.Background(), adjustmentMessage(`{"sku":"SKU1","delta":1,"expected_version":99}`))
	require.ErrorIs(t, err, domain.ErrStockConflict)
	assert.True(t, Retryable(err))

	err = handler(context.Background(), adjustmentMessage(`{"sku":"SKU1","delta":-50}`))
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.False(t, Retryable(err))

	err = handler(context.Background(), adjustmentMessage(`{"sku":"NOPE","delta":1}`))
	require.ErrorIs(t, err, domain.ErrStockItemNotFound)
	assert.False(t, Retryable(err))
}

type failingAdjuster struct{ err error }

func (f failingAdjuster) AdjustStock(context.Context, string, int64, int64, string) (domain.StockResult, error) {
	return domain.StockResult{}, f.err
}

func TestStockAdjustmentHandler_TransientErrorIsRetryable(t *testing.T) {
	handler := NewStockAdjustmentHandler(failingAdjuster{err: errors.New("connection reset")}, silentEntry())

	err := handler(context.Background(), adjustmentMessage(`{"sku":"SKU1","delta":1}`))
	require.Error(t, err)
	assert.True(t, Retryable(err))
}

func TestTopicForAggregate(t *testing.T) {
	assert.Equal(t, TopicOrderEvents, TopicForAggregate(domain.AggregateOrder))
	assert.Equal(t, TopicPaymentEvents, TopicForAggregate(domain.AggregatePayment))
	assert.Equal(t, TopicStockEvents, TopicForAggregate(domain.AggregateStock))
	assert.Equal(t, TopicOrderEvents, TopicForAggregate("unknown"))
}
