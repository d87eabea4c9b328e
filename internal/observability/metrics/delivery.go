// Package metrics provides custom Prometheus metrics for the push delivery engine.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// DeliveryMetrics contains the Prometheus metrics for the gateway connection
// pool, its queue and the feedback reader. All methods are safe to call on a
// nil receiver so components can run without metrics.
type DeliveryMetrics struct {
	registry *prometheus.Registry

	FramesWritten  prometheus.Counter
	Flushes        prometheus.Counter
	Rejections     *prometheus.CounterVec
	Reclaimed      prometheus.Counter
	CacheEvictions prometheus.Counter
	CacheMisses    prometheus.Counter
	WorkerConnects *prometheus.CounterVec
	WorkerRespawns prometheus.Counter
	ActiveWorkers  prometheus.Gauge
	QueueDepth     *prometheus.GaugeVec
	ConnectLatency prometheus.Histogram
	FeedbackTuples prometheus.Counter
	Unsent         prometheus.Gauge
	TokensProduced *prometheus.CounterVec
	ErrorsByKind   *prometheus.CounterVec
	collectors     []prometheus.Collector
}

// NewDeliveryMetrics creates and registers the delivery metrics.
func NewDeliveryMetrics(registry *prometheus.Registry) (*DeliveryMetrics, error) {
	m := &DeliveryMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register delivery metrics: %w", err)
	}
	return m, nil
}

func (m *DeliveryMetrics) initMetrics() {
	m.FramesWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "apns_frames_written_total",
		Help: "Total number of notification frames written to gateway connections",
	})
	m.Flushes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "apns_flushes_total",
		Help: "Total number of connection buffer flushes",
	})
	m.Rejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "apns_rejections_total",
		Help: "Total number of notifications rejected by the gateway, by reason",
	}, []string{"reason"})
	m.Reclaimed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "apns_reclaimed_total",
		Help: "Total number of notifications returned to the reclaim queue for retry",
	})
	m.CacheEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "apns_sent_cache_evictions_total",
		Help: "Total number of in-flight notifications evicted from a sent cache before resolution",
	})
	m.CacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "apns_sent_cache_misses_total",
		Help: "Total number of rejections referencing an identifier no longer cached",
	})
	m.WorkerConnects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "apns_worker_connects_total",
		Help: "Total number of gateway connection attempts, by result",
	}, []string{"result"})
	m.WorkerRespawns = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "apns_worker_respawns_total",
		Help: "Total number of workers replaced after termination",
	})
	m.ActiveWorkers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "apns_active_workers",
		Help: "Number of workers with an established gateway connection",
	})
	m.QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "apns_queue_depth",
		Help: "Number of notifications waiting in the queue, by partition",
	}, []string{"partition"})
	m.ConnectLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "apns_connect_latency_seconds",
		Help:    "Latency of gateway dial and TLS handshake",
		Buckets: connectBuckets,
	})
	m.FeedbackTuples = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "apns_feedback_tuples_total",
		Help: "Total number of expired-token tuples read from the feedback service",
	})
	m.Unsent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "apns_unsent_notifications",
		Help: "Number of notifications left undelivered at shutdown",
	})
	m.TokensProduced = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "apns_tokens_read_total",
		Help: "Total number of token lines read by the producer, by outcome",
	}, []string{"result"})
	m.ErrorsByKind = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "apns_errors_total",
		Help: "Total number of errors built by the application, by category",
	}, []string{"category"})

	m.collectors = []prometheus.Collector{
		m.FramesWritten, m.Flushes, m.Rejections, m.Reclaimed,
		m.CacheEvictions, m.CacheMisses, m.WorkerConnects, m.WorkerRespawns,
		m.ActiveWorkers, m.QueueDepth, m.ConnectLatency, m.FeedbackTuples,
		m.Unsent, m.TokensProduced, m.ErrorsByKind,
	}
}

// RecordFrames adds n written frames.
func (m *DeliveryMetrics) RecordFrames(n int) {
	if m == nil {
		return
	}
	m.FramesWritten.Add(float64(n))
}

// RecordFlush counts one flush of a connection buffer.
func (m *DeliveryMetrics) RecordFlush() {
	if m == nil {
		return
	}
	m.Flushes.Inc()
}

// RecordRejection counts a gateway rejection.
func (m *DeliveryMetrics) RecordRejection(reason string) {
	if m == nil {
		return
	}
	m.Rejections.WithLabelValues(reason).Inc()
}

// RecordReclaimed adds n reclaimed notifications.
func (m *DeliveryMetrics) RecordReclaimed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Reclaimed.Add(float64(n))
}

// RecordCacheEviction counts one sent-cache eviction.
func (m *DeliveryMetrics) RecordCacheEviction() {
	if m == nil {
		return
	}
	m.CacheEvictions.Inc()
}

// RecordCacheMiss counts one rejection that could not be correlated.
func (m *DeliveryMetrics) RecordCacheMiss() {
	if m == nil {
		return
	}
	m.CacheMisses.Inc()
}

// RecordConnect records a connection attempt and, on success, its latency.
func (m *DeliveryMetrics) RecordConnect(success bool, seconds float64) {
	if m == nil {
		return
	}
	if success {
		m.WorkerConnects.WithLabelValues(ResultSuccess).Inc()
		m.ConnectLatency.Observe(seconds)
		return
	}
	m.WorkerConnects.WithLabelValues(ResultFailure).Inc()
}

// RecordRespawn counts one worker replacement.
func (m *DeliveryMetrics) RecordRespawn() {
	if m == nil {
		return
	}
	m.WorkerRespawns.Inc()
}

// WorkerUp adjusts the active worker gauge.
func (m *DeliveryMetrics) WorkerUp(up bool) {
	if m == nil {
		return
	}
	if up {
		m.ActiveWorkers.Inc()
	} else {
		m.ActiveWorkers.Dec()
	}
}

// SetQueueDepth sets both partition gauges.
func (m *DeliveryMetrics) SetQueueDepth(working, reclaim int) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues(PartitionWorking).Set(float64(working))
	m.QueueDepth.WithLabelValues(PartitionReclaim).Set(float64(reclaim))
}

// RecordFeedbackTuple counts one feedback tuple.
func (m *DeliveryMetrics) RecordFeedbackTuple() {
	if m == nil {
		return
	}
	m.FeedbackTuples.Inc()
}

// SetUnsent records how many notifications were left at shutdown.
func (m *DeliveryMetrics) SetUnsent(n int) {
	if m == nil {
		return
	}
	m.Unsent.Set(float64(n))
}

// RecordToken counts one producer outcome (TokenEnqueued, TokenInvalid, TokenKnownBad).
func (m *DeliveryMetrics) RecordToken(result string) {
	if m == nil {
		return
	}
	m.TokensProduced.WithLabelValues(result).Inc()
}

// RecordError counts one application error by category.
func (m *DeliveryMetrics) RecordError(category string) {
	if m == nil {
		return
	}
	m.ErrorsByKind.WithLabelValues(category).Inc()
}

// Collect implements the prometheus.Collector interface.
func (m *DeliveryMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors {
		c.Collect(ch)
	}
}

// Describe implements the prometheus.Collector interface.
func (m *DeliveryMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors {
		c.Describe(ch)
	}
}
