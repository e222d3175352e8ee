package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	apperrors "pos-offline-sync/internal/errors"
	"pos-offline-sync/internal/models"
)

func newTestTelemetry(t *testing.T) (*SyncTelemetry, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	tel, err := NewSyncTelemetryWithMeter(provider.Meter("test"))
	require.NoError(t, err)
	return tel, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	found := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			found[m.Name] = m.Data
		}
	}
	return found
}

func sumOf(t *testing.T, data metricdata.Aggregation) int64 {
	t.Helper()
	sum, ok := data.(metricdata.Sum[int64])
	require.True(t, ok, "expected int64 sum, got %T", data)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestSaleOutcomesAreCounted(t *testing.T) {
	tel, reader := newTestTelemetry(t)
	sale := models.QueuedSale{ID: "s1", SyncStatus: models.SyncPending}

	tel.SaleSynced(sale, models.CreateSaleResponse{ID: "r1"})
	tel.SaleFailed(sale, apperrors.Network("create sale", errors.New("timeout")))
	sale.SyncStatus = models.SyncFailed
	tel.SaleFailed(sale, apperrors.Invalid("validate", "no items"))
	tel.StockAdjustFailed(sale, "prod-oil-1l", errors.New("boom"))

	metrics := collect(t, reader)
	require.Contains(t, metrics, "pos_sales_uploaded_total")
	assert.Equal(t, int64(3), sumOf(t, metrics["pos_sales_uploaded_total"]))
	assert.Equal(t, int64(1), sumOf(t, metrics["pos_stock_adjust_failures_total"]))
}

func TestRunAndCatalogAreRecorded(t *testing.T) {
	tel, reader := newTestTelemetry(t)
	ctx := context.Background()

	tel.RecordRun(ctx, models.SyncRun{Trigger: "manual", Sales: models.UploadResult{Synced: 2}}, 150*time.Millisecond)
	tel.RecordCatalogSync(ctx, nil)
	tel.RecordCatalogSync(ctx, apperrors.Network("list products", errors.New("down")))

	metrics := collect(t, reader)
	assert.Equal(t, int64(1), sumOf(t, metrics["pos_sync_runs_total"]))
	assert.Equal(t, int64(2), sumOf(t, metrics["pos_catalog_syncs_total"]))

	hist, ok := metrics["pos_sync_duration_seconds"].(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
}

func TestGaugesReadCurrentValues(t *testing.T) {
	tel, reader := newTestTelemetry(t)
	pending := 4
	tel.SetGauges(Gauges{
		PendingSales:   func() int { return pending },
		CachedProducts: func() int { return 12 },
	})

	metrics := collect(t, reader)
	gauge, ok := metrics["pos_pending_sales"].(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, int64(4), gauge.DataPoints[0].Value)

	pending = 1
	metrics = collect(t, reader)
	gauge = metrics["pos_pending_sales"].(metricdata.Gauge[int64])
	assert.Equal(t, int64(1), gauge.DataPoints[0].Value)

	cached := metrics["pos_cached_products"].(metricdata.Gauge[int64])
	assert.Equal(t, int64(12), cached.DataPoints[0].Value)
}

func TestNilTelemetryIsNoop(t *testing.T) {
	var tel *SyncTelemetry

	assert.NotPanics(t, func() {
		tel.SetGauges(Gauges{})
		tel.RecordRun(context.Background(), models.SyncRun{}, time.Second)
		tel.RecordCatalogSync(context.Background(), nil)
		tel.SaleSynced(models.QueuedSale{}, models.CreateSaleResponse{})
		tel.SaleFailed(models.QueuedSale{}, nil)
		tel.StockAdjustFailed(models.QueuedSale{}, "p", nil)
	})
}

func TestInitMetricsNoneLeavesProviderUnset(t *testing.T) {
	tel, err := InitMetrics(context.Background(), ExporterNone, "0")

	require.NoError(t, err)
	assert.Nil(t, tel.Provider)
	tel.Shutdown(context.Background())
}
