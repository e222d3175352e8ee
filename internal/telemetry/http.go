package telemetry

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// APITelemetry records request metrics for the local API
type APITelemetry struct {
	requestCounter  metric.Int64Counter
	requestDuration metric.Float64Histogram
}

// NewAPITelemetry creates the instruments on the global meter provider
func NewAPITelemetry() (*APITelemetry, error) {
	return NewAPITelemetryWithMeter(otel.Meter(meterName))
}

// NewAPITelemetryWithMeter creates the instruments on meter
func NewAPITelemetryWithMeter(meter metric.Meter) (*APITelemetry, error) {
	requestCounter, err := meter.Int64Counter(
		"pos_api_requests_total",
		metric.WithDescription("Total number of local API requests"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request counter: %w", err)
	}

	requestDuration, err := meter.Float64Histogram(
		"pos_api_request_duration_seconds",
		metric.WithDescription("Duration of local API requests"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request duration histogram: %w", err)
	}

	return &APITelemetry{requestCounter: requestCounter, requestDuration: requestDuration}, nil
}

// Middleware records one count and one duration per request. Routes are
// labelled by their chi pattern to keep cardinality low. It must not wrap
// websocket routes: the wrapped writer does not support hijacking.
func (t *APITelemetry) Middleware(next http.Handler) http.Handler {
	if t == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		attrs := metric.WithAttributes(
			attribute.String("method", r.Method),
			attribute.String("route", route),
			attribute.String("status", strconv.Itoa(wrapper.statusCode)),
		)
		t.requestCounter.Add(r.Context(), 1, attrs)
		t.requestDuration.Record(r.Context(), time.Since(start).Seconds(), attrs)
	})
}

// responseWriterWrapper captures the status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
