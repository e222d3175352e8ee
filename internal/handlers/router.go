package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"pos-offline-sync/internal/middleware"
	"pos-offline-sync/internal/telemetry"
)

// Dependencies wires the local API. Everything after APIKeys is optional.
type Dependencies struct {
	Sync           SyncService
	Queue          SaleQueue
	Catalog        Catalog
	Network        ConnectivityReporter
	APIKeys        []string
	Events         http.Handler
	Metrics        http.Handler
	RateLimiter    *middleware.RateLimiter
	Telemetry      *telemetry.APITelemetry
	RequestTimeout time.Duration
}

// NewRouter builds the terminal's local API
func NewRouter(deps Dependencies) chi.Router {
	if deps.RequestTimeout <= 0 {
		deps.RequestTimeout = 60 * time.Second
	}

	healthHandler := NewHealthHandler(deps.Network)
	syncHandler := NewSyncHandler(deps.Sync)
	salesHandler := NewSalesHandler(deps.Sync, deps.Queue)
	productsHandler := NewProductsHandler(deps.Catalog)

	r := chi.NewRouter()

	// Middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// Routes
	r.Get("/health", healthHandler.Health)
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}

	// Protected routes
	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(deps.APIKeys))

		if deps.Events != nil {
			r.Handle("/events", deps.Events)
		}

		r.Group(func(r chi.Router) {
			r.Use(deps.Telemetry.Middleware)
			if deps.RateLimiter != nil {
				r.Use(middleware.RateLimitMiddleware(deps.RateLimiter))
			}
			r.Use(chimiddleware.Timeout(deps.RequestTimeout))

			r.Get("/sync/stats", syncHandler.Stats)
			r.Post("/sync", syncHandler.SyncNow)
			r.Post("/sync/products", syncHandler.SyncProducts)
			r.Post("/sync/sales", syncHandler.SyncSales)

			r.Post("/sales", salesHandler.CreateSale)
			r.Get("/sales/pending", salesHandler.ListPending)
			r.Get("/sales/failed", salesHandler.ListFailed)
			r.Post("/sales/{id}/requeue", salesHandler.Requeue)
			r.Delete("/sales/{id}", salesHandler.Discard)

			r.Get("/products", productsHandler.ListProducts)
			r.Get("/products/{id}", productsHandler.GetProduct)
		})
	})

	return r
}
