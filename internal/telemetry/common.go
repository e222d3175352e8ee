package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
)

const (
	ExporterScraper = "scraper"
	ExporterGRPC    = "grpc"
	ExporterNone    = "none"
)

// Telemetry owns the meter provider and, for the scraper exporter, the metrics HTTP server
type Telemetry struct {
	server   *http.Server          // If type of metrics collection == "scraper".
	Provider *metric.MeterProvider // nil when metrics are disabled.
	exporter string
}

// InitMetrics sets up the global meter provider for the chosen exporter.
// "scraper" serves /metrics on port; "grpc" pushes to OTEL_EXPORTER_OTLP_METRICS_ENDPOINT
// (default localhost:4317); anything else leaves the no-op provider in place.
func InitMetrics(ctx context.Context, exporter, port string) (*Telemetry, error) {
	t := &Telemetry{exporter: exporter}

	switch exporter {
	case ExporterScraper:
		slog.Info("Starting metrics with scraper exporter")
		if err := t.initScrapeMetrics(port); err != nil {
			return nil, err
		}
	case ExporterGRPC:
		slog.Info("Starting metrics with grpc exporter")
		if err := t.initGRPCMetrics(ctx); err != nil {
			return nil, err
		}
	default:
		slog.Info("Metrics export disabled", "exporter", exporter)
	}
	return t, nil
}

// Initialize GRPC metrics exporter. https://opentelemetry.io/docs/languages/go/exporters/#otlp-metrics-over-grpc.
func (t *Telemetry) initGRPCMetrics(ctx context.Context) error {
	exporter, err := otlpmetricgrpc.New(ctx)
	if err != nil {
		slog.Error("Creating GRPC exporter", "error", err)
		return fmt.Errorf("failed to create grpc exporter: %w", err)
	}

	t.Provider = metric.NewMeterProvider(metric.WithReader(metric.NewPeriodicReader(exporter)))
	otel.SetMeterProvider(t.Provider)
	return nil
}

// Initialize scrape metrics exporter. https://github.com/open-telemetry/opentelemetry-go/blob/main/example/prometheus/main.go.
func (t *Telemetry) initScrapeMetrics(port string) error {
	// The exporter embeds a default OpenTelemetry Reader and
	// implements prometheus.Collector, allowing it to be used as
	// both a Reader and Collector.
	exporter, err := prometheus.New()
	if err != nil {
		slog.Error("Creating HTML scrape exporter", "error", err)
		return fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	t.Provider = metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(t.Provider)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	t.server = &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go t.serveMetrics()
	return nil
}

// Run metrics server for "scraper" open telemetry collector
func (t *Telemetry) serveMetrics() {
	slog.Info("Serving metrics", "address", t.server.Addr+"/metrics")

	err := t.server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("ListenAndServe exited with", "error", err)
	}
}

// Shutdown flushes pending metrics and stops the scraper server
func (t *Telemetry) Shutdown(ctx context.Context) {
	if t.server != nil {
		_ = t.server.Shutdown(ctx)
		slog.Info("Shutting down metrics server")
	}
	if t.Provider != nil {
		if err := t.Provider.ForceFlush(ctx); err != nil {
			slog.Warn("Failed to flush metrics", "error", err)
		}
		if err := t.Provider.Shutdown(ctx); err != nil {
			slog.Warn("Failed to shut down meter provider", "error", err)
		}
	}
}
