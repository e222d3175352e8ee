package stub

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"pos-offline-sync/internal/models"
)

const idempotencyHeader = "Idempotency-Key"

// writeJSONResponse is a helper function to write JSON responses
func writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeErrorResponse is a helper function to write error responses
func writeErrorResponse(w http.ResponseWriter, statusCode int, code, message string, details []models.ErrorDetail) {
	writeJSONResponse(w, statusCode, models.ErrorResponse{
		Code:    code,
		Message: message,
		Details: details,
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" && r.Header.Get("Authorization") != "Bearer "+s.token {
			s.logger.Warn("Stub rejected request: bad bearer token", "path", r.URL.Path)
			writeErrorResponse(w, http.StatusUnauthorized, "unauthorized", "Invalid bearer token", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) latencyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		delay := s.latency
		s.mu.Unlock()
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) fail(w http.ResponseWriter, status int, op string) {
	writeErrorResponse(w, status, "injected_fault", fmt.Sprintf("injected failure for %s", op), nil)
}

// health handles GET /health
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if status := s.checkFault(OpHealth, ""); status != 0 {
		s.fail(w, status, OpHealth)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// listProducts handles GET /v1/products[?name=]
func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if status := s.checkFault(OpListProducts, name); status != 0 {
		s.fail(w, status, OpListProducts)
		return
	}

	s.mu.Lock()
	items := s.sortedProducts()
	s.mu.Unlock()

	if name != "" {
		filtered := items[:0]
		for _, p := range items {
			if strings.EqualFold(p.Name, name) {
				filtered = append(filtered, p)
			}
		}
		items = filtered
	}

	writeJSONResponse(w, http.StatusOK, models.ProductListResponse{Items: items})
}

// getProduct handles GET /v1/products/{productId}
func (s *Server) getProduct(w http.ResponseWriter, r *http.Request) {
	productID := mux.Vars(r)["productId"]
	if status := s.checkFault(OpGetProduct, productID); status != 0 {
		s.fail(w, status, OpGetProduct)
		return
	}

	product, ok := s.Product(productID)
	if !ok {
		writeErrorResponse(w, http.StatusNotFound, "not_found", "Product not found", nil)
		return
	}
	writeJSONResponse(w, http.StatusOK, product)
}

var errUnknownProduct = errors.New("unknown product")

// createSale handles POST /v1/sales. A repeated Idempotency-Key returns the
// sale created by the first request.
func (s *Server) createSale(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get(idempotencyHeader)

	s.mu.Lock()
	s.attempts = append(s.attempts, key)
	s.mu.Unlock()

	if status := s.checkFault(OpCreateSale, key); status != 0 {
		s.fail(w, status, OpCreateSale)
		return
	}
	if key == "" {
		writeErrorResponse(w, http.StatusBadRequest, "bad_request", "Idempotency-Key header required", nil)
		return
	}

	var req models.CreateSaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "bad_request", "Invalid JSON", nil)
		return
	}
	if details := validateSale(req); len(details) > 0 {
		writeErrorResponse(w, http.StatusUnprocessableEntity, "validation_failed", "Sale failed validation", details)
		return
	}

	var detail models.ErrorDetail
	created, replay, err := s.saleKeys.GetOrCreate(key, func() (models.CreateSaleResponse, error) {
		s.mu.Lock()
		defer s.mu.Unlock()

		for i, item := range req.Items {
			if _, ok := s.products[item.ProductID]; !ok {
				detail = models.ErrorDetail{Field: fmt.Sprintf("items[%d].product_id", i), Issue: "unknown product " + item.ProductID}
				return models.CreateSaleResponse{}, errUnknownProduct
			}
		}

		id, number := s.nextSaleNumber()
		s.sales = append(s.sales, RecordedSale{
			ID:             id,
			SaleNumber:     number,
			IdempotencyKey: key,
			Request:        req,
			CreatedAt:      time.Now(),
		})
		return models.CreateSaleResponse{ID: id, SaleNumber: number}, nil
	})
	if err != nil {
		writeErrorResponse(w, http.StatusUnprocessableEntity, "unknown_product", "Sale references an unknown product", []models.ErrorDetail{detail})
		return
	}

	if replay {
		s.logger.Info("Stub replayed sale for repeated idempotency key", "idempotency_key", key, "sale_id", created.ID)
		writeJSONResponse(w, http.StatusOK, created)
		return
	}
	s.logger.Info("Stub created sale", "idempotency_key", key, "sale_id", created.ID, "sale_number", created.SaleNumber)
	writeJSONResponse(w, http.StatusCreated, created)
}

func validateSale(req models.CreateSaleRequest) []models.ErrorDetail {
	var details []models.ErrorDetail
	if strings.TrimSpace(req.CustomerName) == "" {
		details = append(details, models.ErrorDetail{Field: "customer_name", Issue: "required"})
	}
	if !req.PaymentMethod.Valid() {
		details = append(details, models.ErrorDetail{Field: "payment_method", Issue: "must be cash or mobile-money"})
	}
	if len(req.Items) == 0 {
		details = append(details, models.ErrorDetail{Field: "items", Issue: "at least one item required"})
	}
	for i, item := range req.Items {
		if item.Quantity <= 0 {
			details = append(details, models.ErrorDetail{Field: fmt.Sprintf("items[%d].quantity", i), Issue: "must be positive"})
		}
		if item.UnitPrice < 0 {
			details = append(details, models.ErrorDetail{Field: fmt.Sprintf("items[%d].unit_price", i), Issue: "must not be negative"})
		}
	}
	return details
}

// listSales handles GET /v1/sales
func (s *Server) listSales(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]interface{}{"items": s.Sales()})
}

// adjustStock handles POST /v1/products/{productId}/stock-adjustments
func (s *Server) adjustStock(w http.ResponseWriter, r *http.Request) {
	productID := mux.Vars(r)["productId"]
	key := r.Header.Get(idempotencyHeader)
	if status := s.checkFault(OpAdjustStock, key); status != 0 {
		s.fail(w, status, OpAdjustStock)
		return
	}

	var req models.StockAdjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "bad_request", "Invalid JSON", nil)
		return
	}

	apply := func() (models.StockAdjustmentResponse, error) {
		s.mu.Lock()
		defer s.mu.Unlock()

		product, ok := s.products[productID]
		if !ok {
			return models.StockAdjustmentResponse{}, errUnknownProduct
		}
		product.StockQuantity += req.Delta
		s.products[productID] = product
		return models.StockAdjustmentResponse{ProductID: productID, StockQuantity: product.StockQuantity}, nil
	}

	var (
		result models.StockAdjustmentResponse
		err    error
	)
	if key == "" {
		result, err = apply()
	} else {
		result, _, err = s.stockKeys.GetOrCreate(key, apply)
	}
	if err != nil {
		writeErrorResponse(w, http.StatusNotFound, "not_found", "Product not found", nil)
		return
	}
	writeJSONResponse(w, http.StatusOK, result)
}
