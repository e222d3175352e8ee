package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pos-offline-sync/internal/catalog"
	"pos-offline-sync/internal/client"
	"pos-offline-sync/internal/config"
	"pos-offline-sync/internal/handlers"
	"pos-offline-sync/internal/middleware"
	"pos-offline-sync/internal/network"
	"pos-offline-sync/internal/notify"
	"pos-offline-sync/internal/sales"
	"pos-offline-sync/internal/storage"
	"pos-offline-sync/internal/syncer"
	"pos-offline-sync/internal/telemetry"
)

const (
	serviceName = "pos-offline-sync"
	version     = "1.0.0"
)

func main() {
	// Load configuration (also sets up the global logger)
	cfg := config.LoadConfig()

	slog.Info("Starting POS offline sync daemon",
		"service", serviceName,
		"version", version,
		"port", cfg.Port,
		"environment", cfg.Environment,
		"remote_api_url", cfg.RemoteAPIURL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics, err := telemetry.InitMetrics(ctx, cfg.MetricsExporter, cfg.MetricsPort)
	if err != nil {
		slog.Error("Failed to initialize metrics", "error", err)
		os.Exit(1)
	}
	syncTelemetry, err := telemetry.NewSyncTelemetry()
	if err != nil {
		slog.Error("Failed to initialize sync telemetry", "error", err)
		os.Exit(1)
	}
	apiTelemetry, err := telemetry.NewAPITelemetry()
	if err != nil {
		slog.Error("Failed to initialize API telemetry", "error", err)
		os.Exit(1)
	}

	store, err := storage.Open(cfg.StoreDriver, cfg.DataDir, nil)
	if err != nil {
		slog.Error("Failed to open local store", "driver", cfg.StoreDriver, "data_dir", cfg.DataDir, "error", err)
		os.Exit(1)
	}

	remote := client.NewRemoteClient(cfg.RemoteAPIURL, cfg.RemoteAPIToken, cfg.RemoteTimeoutDuration(), nil)

	// Start offline; the first probe decides
	monitor := network.NewMonitor(network.Offline, nil)
	prober := network.NewProber(remote, monitor, network.ProberConfig{
		Interval:         cfg.ProbeIntervalDuration(),
		Timeout:          cfg.RemoteTimeoutDuration(),
		FailureThreshold: 2,
	}, nil)

	hub := notify.NewHub(nil)

	cat := catalog.NewSyncer(remote, store, nil)
	queue, err := sales.NewQueue(store, cat, sales.RetryPolicy{MaxRetries: cfg.MaxSaleRetriesInt()}, nil)
	if err != nil {
		slog.Error("Failed to open sale queue", "error", err)
		os.Exit(1)
	}
	uploader := sales.NewUploader(queue, remote, nil, syncTelemetry, hub)

	orchestrator := syncer.NewOrchestrator(cat, queue, uploader, monitor, syncer.Options{
		Interval:  cfg.SyncIntervalDuration(),
		Telemetry: syncTelemetry,
		Listeners: []syncer.Listener{hub},
	})
	syncTelemetry.SetGauges(orchestrator.Gauges())

	rateLimiter := middleware.NewRateLimiter(
		middleware.ParseRateLimitConfig(cfg.RateLimitEnabled, cfg.RateLimitRequestsPerMinute))

	deps := handlers.Dependencies{
		Sync:        orchestrator,
		Queue:       queue,
		Catalog:     cat,
		Network:     monitor,
		Events:      http.HandlerFunc(hub.ServeWS),
		APIKeys:     cfg.APIKeyList(),
		RateLimiter: rateLimiter,
		Telemetry:   apiTelemetry,
	}
	if cfg.MetricsExporter == telemetry.ExporterScraper {
		deps.Metrics = promhttp.Handler()
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handlers.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	orchestrator.Start(ctx)
	prober.Start(ctx)

	go func() {
		slog.Info("Server ready to accept connections", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed to start", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown error", "error", err)
	}
	prober.Stop()
	orchestrator.Stop()
	hub.Stop()
	_ = remote.Close()
	if err := store.Close(); err != nil {
		slog.Error("Failed to close local store", "error", err)
	}
	metrics.Shutdown(shutdownCtx)

	slog.Info("Server stopped")
}
