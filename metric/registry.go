// Package metric provides the Prometheus metrics registry for the registry
// service and its core workflow metrics.
package metric

import (
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/symbiote-h2020/Registry-sub000/errors"
)

// Metrics holds the core workflow metrics every component shares
type Metrics struct {
	// RequestsTotal counts inbound registry requests by kind, operation and reply status
	RequestsTotal *prometheus.CounterVec
	// RPCLatency observes semantic-peer round-trip latency in seconds
	RPCLatency prometheus.Histogram
	// PendingContinuations gauges continuations awaiting a peer reply
	PendingContinuations prometheus.Gauge
	// CompensationsTotal counts batch compensations by operation type
	CompensationsTotal *prometheus.CounterVec
	// FanoutFailuresTotal counts dropped broadcast events
	FanoutFailuresTotal prometheus.Counter
}

// NewMetrics creates the core workflow metrics
func NewMetrics() *Metrics {
	return &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "registry_requests_total",
			Help: "Inbound registry requests by entity kind, operation and reply status",
		}, []string{"kind", "operation", "status"}),
		RPCLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "registry_semantic_rpc_seconds",
			Help:    "Semantic validation peer round-trip latency",
			Buckets: prometheus.DefBuckets,
		}),
		PendingContinuations: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "registry_pending_continuations",
			Help: "Continuations registered and awaiting a peer reply",
		}),
		CompensationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "registry_compensations_total",
			Help: "Bulk batches rolled back after a partial failure",
		}, []string{"operation"}),
		FanoutFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "registry_fanout_failures_total",
			Help: "Broadcast events dropped because publishing failed",
		}),
	}
}

// MetricsRegistry manages registration and lifecycle of metrics
type MetricsRegistry struct {
	prometheusRegistry *prometheus.Registry
	Metrics            *Metrics
	registeredMetrics  map[string]prometheus.Collector
	mu                 sync.RWMutex
}

// NewMetricsRegistry creates a new metrics registry with core metrics and
// Go runtime collectors registered
func NewMetricsRegistry() *MetricsRegistry {
	prometheusRegistry := prometheus.NewRegistry()

	registry := &MetricsRegistry{
		prometheusRegistry: prometheusRegistry,
		registeredMetrics:  make(map[string]prometheus.Collector),
	}

	registry.Metrics = NewMetrics()
	prometheusRegistry.MustRegister(
		registry.Metrics.RequestsTotal,
		registry.Metrics.RPCLatency,
		registry.Metrics.PendingContinuations,
		registry.Metrics.CompensationsTotal,
		registry.Metrics.FanoutFailuresTotal,
	)

	prometheusRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return registry
}

// PrometheusRegistry returns the underlying Prometheus registry
func (r *MetricsRegistry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}

// CoreMetrics returns the core workflow metrics
func (r *MetricsRegistry) CoreMetrics() *Metrics {
	return r.Metrics
}

// Register registers a component-specific collector under service.metric naming
func (r *MetricsRegistry) Register(serviceName, metricName string, collector prometheus.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s.%s", serviceName, metricName)
	if _, exists := r.registeredMetrics[key]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("metric %s already registered for service %s", metricName, serviceName),
			"MetricsRegistry", "Register", "duplicate metric registration")
	}

	if err := r.prometheusRegistry.Register(collector); err != nil {
		var alreadyRegErr prometheus.AlreadyRegisteredError
		if stderrors.As(err, &alreadyRegErr) {
			return errors.WrapInvalid(err, "MetricsRegistry", "Register",
				fmt.Sprintf("prometheus conflict for metric %s", metricName))
		}
		return errors.WrapFatal(err, "MetricsRegistry", "Register",
			"failed to register collector with prometheus")
	}

	r.registeredMetrics[key] = collector
	return nil
}

// Unregister removes a previously registered collector
func (r *MetricsRegistry) Unregister(serviceName, metricName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s.%s", serviceName, metricName)
	collector, exists := r.registeredMetrics[key]
	if !exists {
		return false
	}

	delete(r.registeredMetrics, key)
	return r.prometheusRegistry.Unregister(collector)
}
