package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestAPITelemetryMiddleware(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	api, err := NewAPITelemetryWithMeter(provider.Meter("test"))
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(api.Middleware)
	r.Get("/v1/products/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/products/"+id, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	}

	requests, ok := collect(t, reader)["pos_api_requests_total"].(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, requests.DataPoints, 1, "ids do not create series")
	point := requests.DataPoints[0]
	assert.Equal(t, int64(2), point.Value)
	route, _ := point.Attributes.Value(attribute.Key("route"))
	assert.Equal(t, "/v1/products/{id}", route.AsString())
	status, _ := point.Attributes.Value(attribute.Key("status"))
	assert.Equal(t, "404", status.AsString())
}

func TestNilAPITelemetryPassesThrough(t *testing.T) {
	var api *APITelemetry
	called := false
	handler := api.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.True(t, called)
}
