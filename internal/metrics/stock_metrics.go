package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// StockMetrics — метрики операций складского ledger.
type StockMetrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewStockMetrics регистрирует метрики в DefaultRegisterer.
func NewStockMetrics() *StockMetrics {
	return NewStockMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewStockMetricsWithRegisterer позволяет тестам использовать изолированный registry.
func NewStockMetricsWithRegisterer(registerer prometheus.Registerer) *StockMetrics {
	return &StockMetrics{
		operations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "stockflow_stock_operations_total",
			Help: "Total number of stock ledger operations by outcome",
		}, []string{"op", "outcome"}),
		duration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "stockflow_stock_operation_duration_seconds",
			Help:    "Duration of stock ledger operations in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}, []string{"op"}),
	}
}

// RecordOperation учитывает одну операцию ledger с outcome из applied, insufficient_stock, conflict, error.
func (m *StockMetrics) RecordOperation(op, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.duration.WithLabelValues(op).Observe(duration.Seconds())
}
