// Package main implements the entry point for the federation registry: the
// system of record for platforms, resources, information models and
// federations, reached exclusively over the message broker.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/symbiote-h2020/Registry-sub000/auth"
	"github.com/symbiote-h2020/Registry-sub000/config"
	"github.com/symbiote-h2020/Registry-sub000/errors"
	"github.com/symbiote-h2020/Registry-sub000/metric"
	"github.com/symbiote-h2020/Registry-sub000/natsclient"
	"github.com/symbiote-h2020/Registry-sub000/notifier"
	"github.com/symbiote-h2020/Registry-sub000/pkg/retry"
	"github.com/symbiote-h2020/Registry-sub000/registration"
	"github.com/symbiote-h2020/Registry-sub000/rpc"
	"github.com/symbiote-h2020/Registry-sub000/saga"
	"github.com/symbiote-h2020/Registry-sub000/service"
	"github.com/symbiote-h2020/Registry-sub000/store"
)

const (
	// Version is the build version, overridden at link time
	Version = "0.1.0"
	appName = "registry"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config file (JSON or YAML)")
	validateOnly := flag.Bool("validate", false, "validate configuration and exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s %s\n", appName, Version)
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *validateOnly {
		slog.Info("Configuration is valid")
		return nil
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("Starting registry", "version", Version, "nats_url", cfg.NATS.URL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := buildClient(cfg, logger)
	if err != nil {
		return err
	}

	// The broker may come up after us; retry the initial connection
	connectCfg := retry.DefaultConfig()
	err = retry.Do(ctx, connectCfg, func() error {
		return client.Connect(ctx)
	})
	if err != nil {
		return errors.Wrap(err, "main", "run", "connect to broker")
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Close(closeCtx)
	}()

	metricsRegistry := metric.NewMetricsRegistry()
	metrics := metricsRegistry.CoreMetrics()

	docStore, err := store.NewKVStore(ctx, client, logger)
	if err != nil {
		return err
	}

	gate := auth.NewGate([]byte(cfg.Auth.Secret), docStore, logger)
	engine := saga.NewEngine(docStore, logger, metrics)

	gateway := rpc.NewGateway(client.Conn(),
		rpc.WithCallTimeout(cfg.RPC.CallTimeout),
		rpc.WithLogger(logger),
		rpc.WithMetrics(metrics))

	events := notifier.New(client.Conn(),
		notifier.WithRateLimit(cfg.Notifier.EventsPerSecond, cfg.Notifier.Burst),
		notifier.WithLogger(logger),
		notifier.WithMetrics(metrics))

	orchestrator := registration.NewOrchestrator(gateway, gate, engine, docStore, events,
		registration.WithLogger(logger),
		registration.WithMetrics(metrics))

	manager := service.NewManager(logger)
	manager.Add(service.NewRegistryService(client, orchestrator, cfg.Stream, logger))
	manager.Add(service.NewMetricsServer(cfg.HTTP.Addr, metricsRegistry, client, logger))

	return manager.Run(ctx)
}

func buildClient(cfg *config.Config, logger *slog.Logger) (*natsclient.Client, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithName(appName),
		natsclient.WithLogger(logger),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
		natsclient.WithReconnectWait(cfg.NATS.ReconnectWait),
		natsclient.WithTimeout(cfg.NATS.Timeout),
	}
	if cfg.NATS.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}
	if cfg.NATS.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.NATS.Token))
	}
	return natsclient.NewClient(cfg.NATS.URL, opts...)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
