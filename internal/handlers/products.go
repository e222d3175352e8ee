package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"pos-offline-sync/internal/models"
)

// Catalog reads the cached product snapshot
type Catalog interface {
	Search(query string) ([]models.CachedProduct, error)
	Product(id string) (*models.CachedProduct, error)
}

// ProductsHandler serves products from the local cache only
type ProductsHandler struct {
	catalog Catalog
}

// NewProductsHandler creates a new products handler
func NewProductsHandler(catalog Catalog) *ProductsHandler {
	return &ProductsHandler{catalog: catalog}
}

// ListProducts handles GET /v1/products[?q=]
func (h *ProductsHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")

	products, err := h.catalog.Search(query)
	if err != nil {
		slog.Error("Failed to read cached catalog", "error", err)
		writeSyncError(w, err, "Products not found")
		return
	}

	slog.Debug("Served cached products", "query", query, "count", len(products))
	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"items": products,
		"count": len(products),
	})
}

// GetProduct handles GET /v1/products/{id}
func (h *ProductsHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	product, err := h.catalog.Product(id)
	if err != nil {
		writeSyncError(w, err, "Product not found")
		return
	}
	writeJSONResponse(w, http.StatusOK, product)
}
