package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/stockflow/internal/domain"
)

func TestOrderRepository_PostgresCreateGetListAndSave(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOrderRepository(store)
	ctx := context.Background()

	now := time.Now().UTC().Round(time.Microsecond)
	order1 := sampleOrder("order-1", "buyer-1", now.Add(-2*time.Minute))
	order2 := sampleOrder("order-2", "buyer-1", now.Add(-time.Minute))

	if err := repo.Create(ctx, order1); err != nil {
		t.Fatalf("create order1: %v", err)
	}
	if err := repo.Create(ctx, order2); err != nil {
		t.Fatalf("create order2: %v", err)
	}

	got, err := repo.Get(ctx, order1.ID)
	if err != nil {
		t.Fatalf("get order1: %v", err)
	}
	if got.ID != order1.ID || got.BuyerID != order1.BuyerID || got.Status != order1.Status {
		t.Fatalf("unexpected order payload: %+v", got)
	}
	if len(got.Lines) != 1 || !got.Lines[0].TotalPrice.Equal(decimal.RequireFromString("39.98")) {
		t.Fatalf("unexpected lines: %+v", got.Lines)
	}
	if !got.TotalAmount.Equal(order1.TotalAmount) || got.ShippingAddress.City != "Istanbul" {
		t.Fatalf("unexpected totals or address: %+v", got)
	}
	if got.Metadata[domain.MetaCreatedFromCart] != "true" {
		t.Fatalf("metadata lost: %+v", got.Metadata)
	}

	listed, err := repo.ListByBuyer(ctx, "buyer-1", 1)
	if err != nil {
		t.Fatalf("list by buyer with limit: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != order2.ID {
		t.Fatalf("unexpected list result with limit: %+v", listed)
	}

	if err := got.Apply(domain.OrderEventMarkPaid, now.Add(time.Minute)); err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	if err := repo.Save(ctx, got); err != nil {
		t.Fatalf("save order: %v", err)
	}

	updated, err := repo.Get(ctx, order1.ID)
	if err != nil {
		t.Fatalf("get updated order: %v", err)
	}
	if updated.Status != domain.OrderStatusPaid || updated.PaymentStatus != domain.PaymentStatusCaptured || updated.PaidAt == nil {
		t.Fatalf("unexpected state after save: %+v", updated)
	}
	if updated.Version != got.Version+1 {
		t.Fatalf("unexpected version after save: got=%d want=%d", updated.Version, got.Version+1)
	}
}

func TestOrderRepository_PostgresErrors(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOrderRepository(store)
	ctx := context.Background()

	now := time.Now().UTC().Round(time.Microsecond)
	base := sampleOrder("order-errors", "buyer-2", now)

	if _, err := repo.Get(ctx, "missing-order"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
	if err := repo.Save(ctx, base); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound on save missing, got %v", err)
	}
	if err := repo.Create(ctx, base); err != nil {
		t.Fatalf("create base order: %v", err)
	}
	if err := repo.Create(ctx, base); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected ErrOrderVersionConflict on duplicate create, got %v", err)
	}

	stale := base
	stale.Version = 42
	if err := repo.Save(ctx, stale); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected ErrOrderVersionConflict on stale save, got %v", err)
	}
}

func TestPaymentRepository_PostgresActiveUniqueness(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	ctx := context.Background()
	now := time.Now().UTC().Round(time.Microsecond)

	if err := NewOrderRepository(store).Create(ctx, sampleOrder("order-pay", "buyer-1", now)); err != nil {
		t.Fatalf("create order: %v", err)
	}
	repo := NewPaymentRepository(store)

	payment := samplePayment("pay-1", "order-pay", now)
	if err := repo.Create(ctx, payment); err != nil {
		t.Fatalf("create payment: %v", err)
	}
	if err := repo.Create(ctx, samplePayment("pay-2", "order-pay", now)); !errors.Is(err, domain.ErrActivePaymentExists) {
		t.Fatalf("expected ErrActivePaymentExists, got %v", err)
	}

	active, err := repo.HasActive(ctx, "order-pay")
	if err != nil || !active {
		t.Fatalf("expected active payment, got %v (%v)", active, err)
	}

	if err := payment.Authorize(domain.AuthorizationResult{TransactionID: "txn_1", AuthorizationCode: "A1", ResponseCode: "00"}, now); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if err := repo.Save(ctx, payment); err != nil {
		t.Fatalf("save payment: %v", err)
	}

	byTxn, err := repo.GetByTransactionID(ctx, "txn_1")
	if err != nil {
		t.Fatalf("get by transaction: %v", err)
	}
	if byTxn.Status != domain.PaymentStatusAuthorized || byTxn.Version != 1 || byTxn.AuthorizedAt == nil {
		t.Fatalf("unexpected stored payment: %+v", byTxn)
	}

	payment.Version = 0
	if err := repo.Save(ctx, payment); !errors.Is(err, domain.ErrPaymentVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
}

func TestStore_PostgresWithinTxRollsBack(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	ctx := context.Background()
	stock := NewStockRepository(store)

	if err := stock.Create(ctx, domain.StockItem{SKU: "SKU1", Quantity: 5}); err != nil {
		t.Fatalf("create stock: %v", err)
	}
	if _, err := stock.Mutate(ctx, "SKU1", domain.Reserve(2)); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	err := store.WithinTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
		if _, err := repos.Stock.Mutate(ctx, "SKU1", domain.Confirm(2)); err != nil {
			return err
		}
		if err := repos.Orders.Create(ctx, sampleOrder("order-tx", "buyer-1", time.Now().UTC())); err != nil {
			return err
		}
		return errors.New("abort")
	})
	if err == nil {
		t.Fatal("expected abort error")
	}

	item, err := stock.Get(ctx, "SKU1")
	if err != nil {
		t.Fatalf("get stock: %v", err)
	}
	if item.Quantity != 3 || item.Reserved != 2 {
		t.Fatalf("confirmation must be rolled back: %+v", item)
	}
	if _, err := NewOrderRepository(store).Get(ctx, "order-tx"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("order must be rolled back, got %v", err)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if !isUniqueViolation(&pgconn.PgError{Code: "23505"}) {
		t.Fatal("expected unique violation for code 23505")
	}
	if isUniqueViolation(&pgconn.PgError{Code: "22001"}) {
		t.Fatal("unexpected unique violation for non-unique code")
	}
	if isUniqueViolation(errors.New("plain error")) {
		t.Fatal("plain error must not be unique violation")
	}
	if !isLockNotAvailable(&pgconn.PgError{Code: "55P03"}) {
		t.Fatal("expected lock not available for code 55P03")
	}
}

func sampleOrder(id, buyerID string, createdAt time.Time) domain.Order {
	line := domain.NewOrderLine(id+"-line-1", id, "SKU1", decimal.RequireFromString("19.99"), 2, createdAt)
	address := domain.Address{FullName: "Ayse Yilmaz", Line1: "Istiklal 1", City: "Istanbul", PostalCode: "34000", Country: "TR"}

	return domain.Order{
		ID:              id,
		BuyerID:         buyerID,
		Status:          domain.OrderStatusPending,
		PaymentStatus:   domain.PaymentStatusNone,
		Currency:        "TRY",
		TotalAmount:     line.TotalPrice,
		Lines:           []domain.OrderLine{line},
		ShippingAddress: address,
		BillingAddress:  address,
		Metadata:        map[string]string{domain.MetaCreatedFromCart: "true"},
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
	}
}

func samplePayment(id, orderID string, createdAt time.Time) domain.Payment {
	return domain.Payment{
		ID:        id,
		OrderID:   orderID,
		PayerID:   "buyer-1",
		Amount:    decimal.RequireFromString("39.98"),
		Currency:  "TRY",
		Status:    domain.PaymentStatusNone,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}
