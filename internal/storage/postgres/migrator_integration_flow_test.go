package postgres

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

func requireSchema(t *testing.T, store *Store, version int64, pending ...string) {
	t.Helper()

	status, err := store.MigrationStatus(context.Background())
	if err != nil {
		t.Fatalf("migration status: %v", err)
	}
	if status.Version != version || status.Applied != int(version) {
		t.Fatalf("expected schema version %d, got %+v", version, status)
	}
	if !slices.Equal(status.Pending, pending) {
		t.Fatalf("expected pending %v, got %v", pending, status.Pending)
	}
}

func TestMigrator_PostgresLedgerSchemaLifecycle(t *testing.T) {
	store := openRawPostgresStoreForIntegrationTest(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	t.Cleanup(func() {
		_ = store.MigrateUp(context.Background(), 0)
	})

	if err := store.MigrateDown(ctx, 100); err != nil {
		t.Fatalf("revert all: %v", err)
	}
	requireSchema(t, store, 0, "0001_stock_ledger", "0002_orders_payments", "0003_audit_outbox", "0004_reference_data")

	if err := store.MigrateUp(ctx, 1); err != nil {
		t.Fatalf("apply ledger step: %v", err)
	}
	requireSchema(t, store, 1, "0002_orders_payments", "0003_audit_outbox", "0004_reference_data")
	var stockRows int
	if err := store.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM stock_items`).Scan(&stockRows); err != nil {
		t.Fatalf("stock ledger must exist after first step: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := store.MigrateUp(ctx, 0); err != nil {
			t.Fatalf("apply all (pass %d): %v", i+1, err)
		}
		requireSchema(t, store, 4)
	}

	if err := store.MigrateDown(ctx, 0); err != nil {
		t.Fatalf("revert default step: %v", err)
	}
	requireSchema(t, store, 3, "0004_reference_data")

	if err := store.MigrateDown(ctx, 100); err != nil {
		t.Fatalf("revert all: %v", err)
	}
	requireSchema(t, store, 0, "0001_stock_ledger", "0002_orders_payments", "0003_audit_outbox", "0004_reference_data")
	if _, err := store.DB().ExecContext(ctx, `SELECT 1 FROM stock_items`); err == nil {
		t.Fatal("stock ledger must be dropped after full revert")
	}

	if err := store.MigrateDown(ctx, 1); err != nil {
		t.Fatalf("revert on empty schema must be a no-op: %v", err)
	}
}

func TestMigrator_NilStore(t *testing.T) {
	var store *Store
	ctx := context.Background()

	if err := store.MigrateUp(ctx, 0); !errors.Is(err, errStoreNotInitialized) {
		t.Fatalf("MigrateUp: expected errStoreNotInitialized, got %v", err)
	}
	if err := store.MigrateDown(ctx, 1); !errors.Is(err, errStoreNotInitialized) {
		t.Fatalf("MigrateDown: expected errStoreNotInitialized, got %v", err)
	}
	if _, err := store.MigrationStatus(ctx); !errors.Is(err, errStoreNotInitialized) {
		t.Fatalf("MigrationStatus: expected errStoreNotInitialized, got %v", err)
	}
}
