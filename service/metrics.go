package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/symbiote-h2020/Registry-sub000/errors"
	"github.com/symbiote-h2020/Registry-sub000/metric"
	"github.com/symbiote-h2020/Registry-sub000/natsclient"
)

// MetricsServer exposes /metrics and /healthz on the observability address
type MetricsServer struct {
	addr     string
	registry *metric.MetricsRegistry
	client   *natsclient.Client
	logger   *slog.Logger

	server *http.Server
}

// NewMetricsServer creates the observability listener
func NewMetricsServer(addr string, registry *metric.MetricsRegistry, client *natsclient.Client, logger *slog.Logger) *MetricsServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &MetricsServer{
		addr:     addr,
		registry: registry,
		client:   client,
		logger:   logger,
	}
}

// Name identifies the component in lifecycle logs
func (m *MetricsServer) Name() string {
	return "metrics-server"
}

// Initialize builds the HTTP server and its routes
func (m *MetricsServer) Initialize() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(
		m.registry.PrometheusRegistry(),
		promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", m.handleHealth)

	m.server = &http.Server{
		Addr:              m.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return nil
}

// Start begins serving; listen failures are reported asynchronously via
// the log because Serve blocks in its own goroutine
func (m *MetricsServer) Start(_ context.Context) error {
	if m.server == nil {
		return errors.ErrMissingConfig
	}
	go func() {
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Error("Metrics server failed", "addr", m.addr, "error", err)
		}
	}()
	m.logger.Info("Serving metrics", "addr", m.addr)
	return nil
}

// Stop shuts the listener down within the grace period
func (m *MetricsServer) Stop(timeout time.Duration) error {
	if m.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return m.server.Shutdown(ctx)
}

func (m *MetricsServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	healthy := m.client != nil && m.client.IsHealthy()
	broker := "unconfigured"
	if m.client != nil {
		broker = m.client.Status().String()
	}
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"healthy": healthy,
		"broker":  broker,
	})
}
