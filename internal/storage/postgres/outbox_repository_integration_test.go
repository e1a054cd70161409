package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/vladislavdragonenkov/stockflow/internal/domain"
)

func enqueueEvent(t *testing.T, repo domain.OutboxRepository, aggregate, id, event string, payload map[string]any) domain.OutboxMessage {
	t.Helper()

	msg, err := domain.NewOutboxMessage(aggregate, id, event, payload)
	if err != nil {
		t.Fatalf("build %s: %v", event, err)
	}
	stored, err := repo.Enqueue(context.Background(), msg)
	if err != nil {
		t.Fatalf("enqueue %s: %v", event, err)
	}
	return stored
}

func TestOutboxRepository_PostgresPublishOrderAndSettle(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOutboxRepository(store)
	ctx := context.Background()

	adjusted := enqueueEvent(t, repo, domain.AggregateStock, "SKU1", domain.EventStockAdjusted, map[string]any{"sku": "SKU1", "delta": 5})
	created := enqueueEvent(t, repo, domain.AggregateOrder, "order-1", domain.EventOrderCreated, map[string]any{"order_id": "order-1"})
	captured := enqueueEvent(t, repo, domain.AggregatePayment, "pay-1", domain.EventPaymentCaptured, map[string]any{"amount": "39.98"})
	if adjusted.ID == "" {
		t.Fatal("expected generated id")
	}

	pending, err := repo.PullPending(ctx, 0)
	if err != nil {
		t.Fatalf("pull pending: %v", err)
	}
	if len(pending) != 3 || pending[0].ID != adjusted.ID || pending[1].ID != created.ID || pending[2].ID != captured.ID {
		t.Fatalf("expected enqueue order, got %+v", pending)
	}
	var payload map[string]any
	if err := json.Unmarshal(pending[0].Payload, &payload); err != nil {
		t.Fatalf("payload must stay json: %v", err)
	}
	if payload["sku"] != "SKU1" || payload["delta"] != float64(5) {
		t.Fatalf("unexpected payload %v", payload)
	}

	first, err := repo.PullPending(ctx, 1)
	if err != nil || len(first) != 1 || first[0].ID != adjusted.ID {
		t.Fatalf("limit must keep order, got %+v (%v)", first, err)
	}

	stats, err := repo.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.PendingCount != 3 || stats.OldestPendingAt.IsZero() {
		t.Fatalf("unexpected stats %+v", stats)
	}
	for _, aggregate := range []string{domain.AggregateStock, domain.AggregateOrder, domain.AggregatePayment} {
		if stats.PendingByAggregate[aggregate] != 1 {
			t.Fatalf("expected one pending %s event, got %v", aggregate, stats.PendingByAggregate)
		}
	}

	if err := repo.MarkSent(ctx, adjusted.ID); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	if err := repo.MarkFailed(ctx, created.ID); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	left, err := repo.PullPending(ctx, 10)
	if err != nil {
		t.Fatalf("pull after settle: %v", err)
	}
	if len(left) != 1 || left[0].ID != captured.ID {
		t.Fatalf("only the payment event must stay pending, got %+v", left)
	}

	stats, err = repo.Stats(ctx)
	if err != nil {
		t.Fatalf("stats after settle: %v", err)
	}
	if stats.PendingCount != 1 || stats.PendingByAggregate[domain.AggregatePayment] != 1 || stats.PendingByAggregate[domain.AggregateStock] != 0 {
		t.Fatalf("unexpected stats after settle %+v", stats)
	}
}

func TestOutboxRepository_PostgresEmptyPayloadAndUnknownID(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOutboxRepository(store)
	ctx := context.Background()

	stored, err := repo.Enqueue(ctx, domain.OutboxMessage{
		ID:            "outbox-fixed-id",
		AggregateType: domain.AggregateStock,
		AggregateID:   "SKU9",
		EventType:     domain.EventStockAdjusted,
	})
	if err != nil {
		t.Fatalf("enqueue without payload: %v", err)
	}
	if stored.ID != "outbox-fixed-id" || string(stored.Payload) != "{}" {
		t.Fatalf("unexpected stored message %+v", stored)
	}

	if err := repo.MarkSent(ctx, "missing-outbox"); !errors.Is(err, domain.ErrOutboxPublish) {
		t.Fatalf("expected ErrOutboxPublish for unknown id, got %v", err)
	}
	if err := repo.MarkFailed(ctx, "missing-outbox"); !errors.Is(err, domain.ErrOutboxPublish) {
		t.Fatalf("expected ErrOutboxPublish for unknown id, got %v", err)
	}

	stats, err := repo.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.PendingCount != 1 || stats.PendingByAggregate[domain.AggregateStock] != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}
