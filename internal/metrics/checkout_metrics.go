package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CheckoutMetrics — метрики оформления заказов.
type CheckoutMetrics struct {
	total    *prometheus.CounterVec
	duration prometheus.Histogram
	inFlight prometheus.Gauge
}

// NewCheckoutMetrics регистрирует метрики в DefaultRegisterer.
func NewCheckoutMetrics() *CheckoutMetrics {
	return NewCheckoutMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func NewCheckoutMetricsWithRegisterer(registerer prometheus.Registerer) *CheckoutMetrics {
	return &CheckoutMetrics{
		total: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "stockflow_checkout_total",
			Help: "Total number of checkouts by result",
		}, []string{"result"}),
		duration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "stockflow_checkout_duration_seconds",
			Help:    "Duration of checkout in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		inFlight: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "stockflow_checkouts_in_flight",
			Help: "Number of checkouts currently in progress",
		}),
	}
}

// Started отмечает начало checkout и возвращает функцию завершения.
func (m *CheckoutMetrics) Started() func(result string) {
	if m == nil {
		return func(string) {}
	}
	start := time.Now()
	m.inFlight.Inc()
	return func(result string) {
		m.inFlight.Dec()
		m.total.WithLabelValues(result).Inc()
		m.duration.Observe(time.Since(start).Seconds())
	}
}
