package observability

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "nounsgov"

type apiMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	apiMetricsOnce sync.Once
	apiRegistry    *apiMetrics

	txPipelineOnce sync.Once
	txPipelineReg  *TxPipelineMetrics
)

// API returns the lazily-initialised registry recording govtxd HTTP activity.
func API() *apiMetrics {
	apiMetricsOnce.Do(func() {
		apiRegistry = &apiMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total API requests segmented by route, method and outcome.",
			}, []string{"route", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Total API errors segmented by route, method and status code.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected by rate limiting or auth.",
			}, []string{"route", "reason"}),
		}
		prometheus.MustRegister(
			apiRegistry.requests,
			apiRegistry.errors,
			apiRegistry.latency,
			apiRegistry.throttles,
		)
	})
	return apiRegistry
}

// Observe records the outcome of an API request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *apiMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	route = labelOr(route, "unknown")
	method = labelOr(method, "unknown")
	outcome := "success"
	if status >= 400 {
		outcome = "error"
		m.errors.WithLabelValues(route, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.requests.WithLabelValues(route, method, outcome).Inc()
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit" or "unauthorized".
func (m *apiMetrics) RecordThrottle(route, reason string) {
	if m == nil {
		return
	}
	m.throttles.WithLabelValues(labelOr(route, "unknown"), labelOr(reason, "unspecified")).Inc()
}

// TxPipelineMetrics wraps collectors tracking the governance transaction
// pipeline: submissions, per-step latency, validation outcomes and fallbacks.
type TxPipelineMetrics struct {
	submissions      *prometheus.CounterVec
	stepLatency      *prometheus.HistogramVec
	validationErrors *prometheus.CounterVec
	fallbacks        *prometheus.CounterVec
	gasFallbacks     *prometheus.CounterVec
	inFlight         prometheus.Gauge
}

// TxPipeline exposes the metrics registry for the transaction pipeline.
func TxPipeline() *TxPipelineMetrics {
	txPipelineOnce.Do(func() {
		txPipelineReg = &TxPipelineMetrics{
			submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "txflow",
				Name:      "submissions_total",
				Help:      "Count of submit attempts segmented by action and outcome.",
			}, []string{"action", "outcome"}),
			stepLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "txflow",
				Name:      "step_duration_seconds",
				Help:      "Latency distribution of each submit step.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"action", "step"}),
			validationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "txflow",
				Name:      "validation_errors_total",
				Help:      "Count of validation errors segmented by action and kind.",
			}, []string{"action", "kind"}),
			fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "txflow",
				Name:      "validator_fallbacks_total",
				Help:      "Count of validator reads answered by a fallback source, by check and tier.",
			}, []string{"check", "tier"}),
			gasFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "txflow",
				Name:      "gas_estimate_fallbacks_total",
				Help:      "Count of submissions that used the static gas fallback.",
			}, []string{"action"}),
			inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "txflow",
				Name:      "in_flight",
				Help:      "Number of broadcast transactions awaiting a receipt.",
			}),
		}
		prometheus.MustRegister(
			txPipelineReg.submissions,
			txPipelineReg.stepLatency,
			txPipelineReg.validationErrors,
			txPipelineReg.fallbacks,
			txPipelineReg.gasFallbacks,
			txPipelineReg.inFlight,
		)
	})
	return txPipelineReg
}

// RecordOutcome counts a finished submit attempt.
func (m *TxPipelineMetrics) RecordOutcome(action, outcome string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(labelOr(action, "unknown"), labelOr(outcome, "unspecified")).Inc()
}

// ObserveStep records how long one submit step took.
func (m *TxPipelineMetrics) ObserveStep(action, step string, d time.Duration) {
	if m == nil {
		return
	}
	m.stepLatency.WithLabelValues(labelOr(action, "unknown"), labelOr(step, "unknown")).Observe(d.Seconds())
}

// RecordValidationError counts a validator rejection.
func (m *TxPipelineMetrics) RecordValidationError(action, kind string) {
	if m == nil {
		return
	}
	m.validationErrors.WithLabelValues(labelOr(action, "unknown"), labelOr(kind, "unspecified")).Inc()
}

// RecordFallback counts a validator read that was answered by tier.
func (m *TxPipelineMetrics) RecordFallback(check, tier string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(labelOr(check, "unknown"), labelOr(tier, "unknown")).Inc()
}

// RecordGasFallback counts a failed gas estimation.
func (m *TxPipelineMetrics) RecordGasFallback(action string) {
	if m == nil {
		return
	}
	m.gasFallbacks.WithLabelValues(labelOr(action, "unknown")).Inc()
}

// AddInFlight adjusts the in-flight gauge by delta.
func (m *TxPipelineMetrics) AddInFlight(delta int) {
	if m == nil {
		return
	}
	m.inFlight.Add(float64(delta))
}

func labelOr(value, fallback string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	return strings.ToLower(trimmed)
}
