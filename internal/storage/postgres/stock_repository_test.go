package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/stockflow/internal/domain"
)

var (
	lockTimeoutSQL = regexp.QuoteMeta(`SET LOCAL lock_timeout = '2000ms'`)
	savepointSQL   = regexp.QuoteMeta(`SAVEPOINT stock_mutate`)
	selectForUpd   = `SELECT sku, quantity, reserved, version, warehouse_location, updated_at FROM stock_items WHERE sku = \$1 FOR UPDATE`
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return newStore(db), mock
}

func stockRows(qty, reserved, version int64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"sku", "quantity", "reserved", "version", "warehouse_location", "updated_at"}).
		AddRow("SKU1", qty, reserved, version, "A-1", time.Now().UTC())
}

func TestStockRepository_MutateApplied(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewStockRepository(store)

	mock.ExpectBegin()
	mock.ExpectExec(lockTimeoutSQL).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(savepointSQL).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(selectForUpd).WithArgs("SKU1").WillReturnRows(stockRows(10, 0, 3))
	mock.ExpectExec(`UPDATE stock_items`).
		WithArgs("SKU1", int64(8), int64(2), int64(4), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`RELEASE SAVEPOINT stock_mutate`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	res, err := repo.Mutate(context.Background(), "SKU1", domain.Reserve(2))
	require.NoError(t, err)
	assert.Equal(t, domain.StockOutcomeApplied, res.Outcome)
	assert.Equal(t, int64(8), res.Item.Quantity)
	assert.Equal(t, int64(2), res.Item.Reserved)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStockRepository_MutateInsufficientDoesNotWrite(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewStockRepository(store)

	mock.ExpectBegin()
	mock.ExpectExec(lockTimeoutSQL).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(savepointSQL).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(selectForUpd).WithArgs("SKU1").WillReturnRows(stockRows(1, 0, 0))
	mock.ExpectCommit()

	res, err := repo.Mutate(context.Background(), "SKU1", domain.Reserve(2))
	require.NoError(t, err)
	assert.Equal(t, domain.StockOutcomeInsufficient, res.Outcome)
	assert.Equal(t, int64(1), res.Item.Quantity)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStockRepository_MutateLockTimeoutIsConflict(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewStockRepository(store)

	mock.ExpectBegin()
	mock.ExpectExec(lockTimeoutSQL).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(savepointSQL).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(selectForUpd).WithArgs("SKU1").WillReturnError(&pgconn.PgError{Code: "55P03"})
	mock.ExpectExec(regexp.QuoteMeta(`ROLLBACK TO SAVEPOINT stock_mutate`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	res, err := repo.Mutate(context.Background(), "SKU1", domain.Reserve(1))
	require.NoError(t, err)
	assert.Equal(t, domain.StockOutcomeConflict, res.Outcome)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStockRepository_MutateUnderflowRollsBack(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewStockRepository(store)

	mock.ExpectBegin()
	mock.ExpectExec(lockTimeoutSQL).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(savepointSQL).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(selectForUpd).WithArgs("SKU1").WillReturnRows(stockRows(5, 1, 2))
	mock.ExpectRollback()

	_, err := repo.Mutate(context.Background(), "SKU1", domain.Confirm(2))
	require.ErrorIs(t, err, domain.ErrReservedUnderflow)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStockRepository_MutateInvalidOpSkipsDatabase(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewStockRepository(store)

	_, err := repo.Mutate(context.Background(), "SKU1", domain.Reserve(0))
	require.ErrorIs(t, err, domain.ErrStockQtyInvalid)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStockRepository_CreateDuplicate(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewStockRepository(store)

	mock.ExpectExec(`INSERT INTO stock_items`).WillReturnError(&pgconn.PgError{Code: "23505"})

	err := repo.Create(context.Background(), domain.StockItem{SKU: "SKU1", Quantity: 1})
	require.ErrorIs(t, err, domain.ErrStockItemExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepository_SaveVersionConflictMock(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewOrderRepository(store)
	order := sampleOrder("order-1", "buyer-1", time.Now().UTC())

	mock.ExpectExec(`UPDATE orders`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM orders WHERE id = $1`)).
		WithArgs("order-1").
		WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(1))

	err := repo.Save(context.Background(), order)
	require.ErrorIs(t, err, domain.ErrOrderVersionConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_WithinTxRollbackOnError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO audit_records`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := store.WithinTx(context.Background(), func(ctx context.Context, repos domain.Repositories) error {
		if err := repos.Audit.Record(ctx, domain.AuditRecord{ActionType: domain.AuditOrderCreated, ResourceType: domain.ResourceOrder, ResourceID: "o-1"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_WithinTxCommit(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO outbox_messages`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.WithinTx(context.Background(), func(ctx context.Context, repos domain.Repositories) error {
		_, err := repos.Outbox.Enqueue(ctx, domain.OutboxMessage{AggregateType: "order", AggregateID: "o-1", EventType: domain.EventOrderCreated, Payload: []byte(`{}`)})
		return err
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
