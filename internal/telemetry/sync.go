package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	apperrors "pos-offline-sync/internal/errors"
	"pos-offline-sync/internal/models"
)

const meterName = "pos-offline-sync"

// Gauges supplies the current values of the observable gauges
type Gauges struct {
	PendingSales   func() int
	FailedSales    func() int
	CachedProducts func() int
}

// SyncTelemetry records sync engine metrics. It also observes per-sale
// upload outcomes. A zero or nil SyncTelemetry is a no-op.
type SyncTelemetry struct {
	meter metric.Meter

	runCounter     metric.Int64Counter
	saleCounter    metric.Int64Counter
	catalogCounter metric.Int64Counter
	stockCounter   metric.Int64Counter
	runDuration    metric.Float64Histogram

	gaugesMu sync.RWMutex
	gauges   Gauges
}

// NewSyncTelemetry creates the instruments on the global meter provider
func NewSyncTelemetry() (*SyncTelemetry, error) {
	return NewSyncTelemetryWithMeter(otel.Meter(meterName))
}

// NewSyncTelemetryWithMeter creates the instruments on meter
func NewSyncTelemetryWithMeter(meter metric.Meter) (*SyncTelemetry, error) {
	slog.Info("Initializing sync telemetry")
	t := &SyncTelemetry{meter: meter}

	var err error

	t.runCounter, err = meter.Int64Counter(
		"pos_sync_runs_total",
		metric.WithDescription("Total number of orchestrated sync runs"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run counter: %w", err)
	}

	t.saleCounter, err = meter.Int64Counter(
		"pos_sales_uploaded_total",
		metric.WithDescription("Total number of queued sale upload attempts by outcome"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sale counter: %w", err)
	}

	t.catalogCounter, err = meter.Int64Counter(
		"pos_catalog_syncs_total",
		metric.WithDescription("Total number of catalog syncs by outcome"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create catalog counter: %w", err)
	}

	t.stockCounter, err = meter.Int64Counter(
		"pos_stock_adjust_failures_total",
		metric.WithDescription("Total number of remote stock decrements that failed after a sale synced"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create stock counter: %w", err)
	}

	t.runDuration, err = meter.Float64Histogram(
		"pos_sync_duration_seconds",
		metric.WithDescription("Duration of orchestrated sync runs"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	pending, err := meter.Int64ObservableGauge(
		"pos_pending_sales",
		metric.WithDescription("Queued sales awaiting upload"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pending gauge: %w", err)
	}
	failed, err := meter.Int64ObservableGauge(
		"pos_failed_sales",
		metric.WithDescription("Queued sales that exhausted automatic retries"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create failed gauge: %w", err)
	}
	cached, err := meter.Int64ObservableGauge(
		"pos_cached_products",
		metric.WithDescription("Products in the local catalog snapshot"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cached products gauge: %w", err)
	}

	_, err = meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		t.gaugesMu.RLock()
		g := t.gauges
		t.gaugesMu.RUnlock()
		if g.PendingSales != nil {
			o.ObserveInt64(pending, int64(g.PendingSales()))
		}
		if g.FailedSales != nil {
			o.ObserveInt64(failed, int64(g.FailedSales()))
		}
		if g.CachedProducts != nil {
			o.ObserveInt64(cached, int64(g.CachedProducts()))
		}
		return nil
	}, pending, failed, cached)
	if err != nil {
		return nil, fmt.Errorf("failed to register gauge callback: %w", err)
	}

	slog.Info("Sync telemetry initialized successfully")
	return t, nil
}

// SetGauges installs the value sources for the observable gauges
func (t *SyncTelemetry) SetGauges(g Gauges) {
	if t == nil {
		return
	}
	t.gaugesMu.Lock()
	defer t.gaugesMu.Unlock()
	t.gauges = g
}

// RecordRun records one orchestrated catalog+sales run
func (t *SyncTelemetry) RecordRun(ctx context.Context, run models.SyncRun, duration time.Duration) {
	if t == nil || t.runCounter == nil {
		return
	}

	result := "success"
	if run.CatalogError != "" || run.Sales.Failed > 0 {
		result = "partial"
	}
	attrs := metric.WithAttributes(
		attribute.String("trigger", run.Trigger),
		attribute.String("result", result),
	)
	t.runCounter.Add(ctx, 1, attrs)
	t.runDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("trigger", run.Trigger)))

	slog.Debug("Recorded sync run", "trigger", run.Trigger, "result", result, "duration_seconds", duration.Seconds())
}

// RecordCatalogSync records one catalog sync outcome
func (t *SyncTelemetry) RecordCatalogSync(ctx context.Context, err error) {
	if t == nil || t.catalogCounter == nil {
		return
	}
	t.catalogCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("result", outcome(err))))
}

// SaleSynced implements sales.Observer
func (t *SyncTelemetry) SaleSynced(models.QueuedSale, models.CreateSaleResponse) {
	if t == nil || t.saleCounter == nil {
		return
	}
	t.saleCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("result", "synced")))
}

// SaleFailed implements sales.Observer
func (t *SyncTelemetry) SaleFailed(sale models.QueuedSale, err error) {
	if t == nil || t.saleCounter == nil {
		return
	}
	result := "retry"
	if sale.SyncStatus == models.SyncFailed {
		result = "needs_attention"
	}
	t.saleCounter.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("result", result),
		attribute.String("error_kind", outcome(err)),
	))
}

// StockAdjustFailed implements sales.Observer
func (t *SyncTelemetry) StockAdjustFailed(models.QueuedSale, string, error) {
	if t == nil || t.stockCounter == nil {
		return
	}
	t.stockCounter.Add(context.Background(), 1)
}

// outcome buckets an error by kind to keep cardinality low
func outcome(err error) string {
	if err == nil {
		return "success"
	}
	if kind := apperrors.KindOf(err); kind != "" {
		return string(kind)
	}
	return "other"
}
