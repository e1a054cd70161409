package inventory

import (
	"context"
	"io"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/stockflow/internal/storage/memory"
)

func TestStockReporter_Report(t *testing.T) {
	ctx := context.Background()
	logger := log.New()
	logger.SetOutput(io.Discard)
	entry := log.NewEntry(logger)

	store := memory.NewStore(0)
	engine := NewEngine(store.Stock(), store, WithLogger(entry))
	for sku, qty := range map[string]int64{"A": 0, "B": 3, "C": 20} {
		_, err := engine.CreateItem(ctx, sku, qty, "A-1")
		require.NoError(t, err)
	}

	reporter := NewStockReporter(engine, 5, time.Minute, entry)
	report, err := reporter.Report(ctx)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"A", "B"}, report.LowStock)
	assert.Equal(t, []string{"A"}, report.OutOfStock)
}

func TestStockReporter_RunStopsOnCancel(t *testing.T) {
	store := memory.NewStore(0)
	reporter := NewStockReporter(NewEngine(store.Stock(), store), 5, 5*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		reporter.Run(ctx)
	}()

	time.Sleep(15 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reporter did not stop on context cancel")
	}
}
