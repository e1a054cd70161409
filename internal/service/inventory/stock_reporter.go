package inventory

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

const defaultReportInterval = time.Minute

var (
	lowStockItems = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stockflow_low_stock_items",
		Help: "SKUs with available quantity below the configured threshold.",
	})
	outOfStockItems = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stockflow_out_of_stock_items",
		Help: "SKUs with nothing left to reserve.",
	})
)

// StockReport — снимок складских показателей.
type StockReport struct {
	LowStock   []string
	OutOfStock []string
}

// StockReporter периодически публикует число позиций с низким и нулевым остатком.
type StockReporter struct {
	engine    *Engine
	threshold int64
	interval  time.Duration
	logger    *log.Entry
}

// NewStockReporter создаёт репортер. interval <= 0 означает одну минуту.
func NewStockReporter(engine *Engine, threshold int64, interval time.Duration, logger *log.Entry) *StockReporter {
	if interval <= 0 {
		interval = defaultReportInterval
	}
	if logger == nil {
		logger = log.WithField("component", "stock-reporter")
	}
	return &StockReporter{engine: engine, threshold: threshold, interval: interval, logger: logger}
}

// Run обновляет показатели до отмены ctx.
func (r *StockReporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.Report(ctx); err != nil && ctx.Err() == nil {
			r.logger.WithError(err).Warn("stock report failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Report собирает снимок и обновляет gauges.
func (r *StockReporter) Report(ctx context.Context) (StockReport, error) {
	low, err := r.engine.LowStockItems(ctx, r.threshold)
	if err != nil {
		return StockReport{}, err
	}
	out, err := r.engine.OutOfStockItems(ctx)
	if err != nil {
		return StockReport{}, err
	}

	report := StockReport{
		LowStock:   make([]string, 0, len(low)),
		OutOfStock: make([]string, 0, len(out)),
	}
	for _, item := range low {
		report.LowStock = append(report.LowStock, item.SKU)
	}
	for _, item := range out {
		report.OutOfStock = append(report.OutOfStock, item.SKU)
	}

	lowStockItems.Set(float64(len(report.LowStock)))
	outOfStockItems.Set(float64(len(report.OutOfStock)))
	if len(report.OutOfStock) > 0 {
		r.logger.WithField("skus", report.OutOfStock).Warn("items out of stock")
	}
	return report, nil
}
