package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// TokenStoreMetrics tracks the invalid-token database.
type TokenStoreMetrics struct {
	Operations *prometheus.CounterVec
	Duration   *prometheus.HistogramVec
	Errors     *prometheus.CounterVec
	KnownBad   prometheus.Gauge
	collectors []prometheus.Collector
}

// NewTokenStoreMetrics creates and registers the token store metrics.
func NewTokenStoreMetrics(registry *prometheus.Registry) (*TokenStoreMetrics, error) {
	m := &TokenStoreMetrics{}
	m.Operations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "apns_tokenstore_operations_total",
		Help: "Total number of token store operations, by operation and result",
	}, []string{"operation", "result"})
	m.Duration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "apns_tokenstore_operation_duration_seconds",
		Help:    "Duration of token store operations",
		Buckets: storeBuckets,
	}, []string{"operation"})
	m.Errors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "apns_tokenstore_errors_total",
		Help: "Total number of token store errors, by operation",
	}, []string{"operation"})
	m.KnownBad = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "apns_tokenstore_known_bad_tokens",
		Help: "Number of distinct tokens recorded as invalid or expired",
	})
	m.collectors = []prometheus.Collector{m.Operations, m.Duration, m.Errors, m.KnownBad}

	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register token store metrics: %w", err)
	}
	return m, nil
}

// RecordOperation records the outcome and duration of one operation.
func (m *TokenStoreMetrics) RecordOperation(operation string, seconds float64, err error) {
	if m == nil {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = ResultFailure
		m.Errors.WithLabelValues(operation).Inc()
	}
	m.Operations.WithLabelValues(operation, result).Inc()
	m.Duration.WithLabelValues(operation).Observe(seconds)
}

// SetKnownBad sets the distinct bad-token count.
func (m *TokenStoreMetrics) SetKnownBad(n int64) {
	if m == nil {
		return
	}
	m.KnownBad.Set(float64(n))
}

// Collect implements the prometheus.Collector interface.
func (m *TokenStoreMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors {
		c.Collect(ch)
	}
}

// Describe implements the prometheus.Collector interface.
func (m *TokenStoreMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors {
		c.Describe(ch)
	}
}
