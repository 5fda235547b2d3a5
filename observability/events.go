package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type historyMetrics struct {
	records *prometheus.CounterVec
}

var (
	historyMetricsOnce sync.Once
	historyRegistry    *historyMetrics
)

// History returns the metrics registry tracking the transaction history store.
func History() *historyMetrics {
	historyMetricsOnce.Do(func() {
		historyRegistry = &historyMetrics{
			records: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "history",
				Name:      "records_total",
				Help:      "Count of history writes segmented by transaction type and status.",
			}, []string{"type", "status"}),
		}
		prometheus.MustRegister(historyRegistry.records)
	})
	return historyRegistry
}

// RecordWrite increments the history write counter.
func (m *historyMetrics) RecordWrite(txType, status string) {
	if m == nil {
		return
	}
	m.records.WithLabelValues(labelOr(txType, "unknown"), labelOr(status, "unknown")).Inc()
}
