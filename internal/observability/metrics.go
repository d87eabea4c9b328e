// Package observability exposes the push engine's Prometheus metrics over HTTP.
package observability

import (
	"fmt"
	stdlog "log"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/liuyaodong/APNPush/internal/errors"
	"github.com/liuyaodong/APNPush/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry   *prometheus.Registry
	Delivery   *metrics.DeliveryMetrics
	MQTT       *metrics.MQTTMetrics
	TokenStore *metrics.TokenStoreMetrics
}

// NewMetrics creates a private registry and initializes every collector.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("failed to register Go collector: %w", err)
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("failed to register process collector: %w", err)
	}

	deliveryMetrics, err := metrics.NewDeliveryMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create delivery metrics: %w", err)
	}

	mqttMetrics, err := metrics.NewMQTTMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create MQTT metrics: %w", err)
	}

	tokenStoreMetrics, err := metrics.NewTokenStoreMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create token store metrics: %w", err)
	}

	return &Metrics{
		registry:   registry,
		Delivery:   deliveryMetrics,
		MQTT:       mqttMetrics,
		TokenStore: tokenStoreMetrics,
	}, nil
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// InstallErrorHook counts every built EnhancedError by category.
func (m *Metrics) InstallErrorHook() {
	errors.AddErrorHook(func(ee *errors.EnhancedError) {
		m.Delivery.RecordError(ee.GetCategory())
	})
}

// RegisterHandlers registers the metrics endpoint with the provided http.ServeMux.
func (m *Metrics) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/metrics", m.metricsHandler)
}

func (m *Metrics) metricsHandler(w http.ResponseWriter, r *http.Request) {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      stdlog.New(os.Stderr, "metrics handler: ", stdlog.LstdFlags),
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
	h.ServeHTTP(w, r)
}
