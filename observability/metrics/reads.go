// Package metrics holds collectors for the read paths validators depend on:
// batched contract reads and indexer queries.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type ReadMetrics struct {
	multicallBatches *prometheus.CounterVec
	multicallSize    prometheus.Histogram
	multicallLatency prometheus.Histogram
	subgraphQueries  *prometheus.CounterVec
	subgraphLatency  *prometheus.HistogramVec
}

var (
	readsOnce     sync.Once
	readsRegistry *ReadMetrics
)

func Reads() *ReadMetrics {
	readsOnce.Do(func() {
		readsRegistry = &ReadMetrics{
			multicallBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nounsgov",
				Subsystem: "chain",
				Name:      "multicall_batches_total",
				Help:      "Multicall3 aggregate3 batches by outcome.",
			}, []string{"outcome"}),
			multicallSize: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "nounsgov",
				Subsystem: "chain",
				Name:      "multicall_batch_size",
				Help:      "Number of calls per aggregate3 batch.",
				Buckets:   []float64{1, 2, 3, 4, 6, 8, 12, 16, 32},
			}),
			multicallLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "nounsgov",
				Subsystem: "chain",
				Name:      "multicall_duration_seconds",
				Help:      "Latency of aggregate3 eth_call round trips.",
				Buckets:   prometheus.DefBuckets,
			}),
			subgraphQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nounsgov",
				Subsystem: "subgraph",
				Name:      "queries_total",
				Help:      "Indexer queries by operation and outcome.",
			}, []string{"operation", "outcome"}),
			subgraphLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "nounsgov",
				Subsystem: "subgraph",
				Name:      "query_duration_seconds",
				Help:      "Latency of indexer queries by operation.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
		}
		prometheus.MustRegister(
			readsRegistry.multicallBatches,
			readsRegistry.multicallSize,
			readsRegistry.multicallLatency,
			readsRegistry.subgraphQueries,
			readsRegistry.subgraphLatency,
		)
	})
	return readsRegistry
}

func (m *ReadMetrics) ObserveMulticall(size int, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.multicallBatches.WithLabelValues(outcome(err)).Inc()
	m.multicallSize.Observe(float64(size))
	m.multicallLatency.Observe(d.Seconds())
}

func (m *ReadMetrics) ObserveSubgraph(operation string, d time.Duration, err error) {
	if m == nil {
		return
	}
	if operation == "" {
		operation = "unknown"
	}
	m.subgraphQueries.WithLabelValues(operation, outcome(err)).Inc()
	m.subgraphLatency.WithLabelValues(operation).Observe(d.Seconds())
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
