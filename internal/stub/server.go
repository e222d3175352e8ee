// Package stub is an in-memory stand-in for the remote data API. It backs
// local development (cmd/remote-stub) and the HTTP-level tests.
package stub

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"pos-offline-sync/internal/cache"
	"pos-offline-sync/internal/models"
	"pos-offline-sync/internal/utils"
)

// Operations that a Fault can target
const (
	OpHealth       = "health"
	OpListProducts = "list_products"
	OpGetProduct   = "get_product"
	OpCreateSale   = "create_sale"
	OpAdjustStock  = "adjust_stock"
)

// Fault decides whether a request fails. key is the idempotency key for
// writes and the product id or name for reads. Returning 0 lets the request
// through; any other value is sent as the response status.
type Fault func(op, key string) int

// RecordedSale is a sale accepted by the stub
type RecordedSale struct {
	ID             string                   `json:"id"`
	SaleNumber     string                   `json:"sale_number"`
	IdempotencyKey string                   `json:"idempotency_key"`
	Request        models.CreateSaleRequest `json:"request"`
	CreatedAt      time.Time                `json:"created_at"`
}

// Server is the fake remote. Its zero value is not usable; call New.
type Server struct {
	mu        sync.Mutex
	products  map[string]models.ProductRecord
	sales     []RecordedSale
	attempts  []string
	saleSeq   int
	fault     Fault
	latency   time.Duration
	token     string
	saleKeys  *cache.TTLCache[models.CreateSaleResponse]
	stockKeys *cache.TTLCache[models.StockAdjustmentResponse]
	router    *mux.Router
	logger    *slog.Logger
}

// New builds a stub seeded with products. An empty token disables auth.
func New(token string, products []models.ProductRecord, logger *slog.Logger) *Server {
	s := &Server{
		products:  make(map[string]models.ProductRecord),
		token:     token,
		saleKeys:  cache.NewTTLCache[models.CreateSaleResponse](24*time.Hour, time.Hour),
		stockKeys: cache.NewTTLCache[models.StockAdjustmentResponse](24*time.Hour, time.Hour),
		logger:    utils.OrDefault(logger),
	}
	for _, p := range products {
		s.products[p.ID] = p
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.health).Methods("GET")

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(s.authMiddleware)
	v1.Use(s.latencyMiddleware)
	v1.HandleFunc("/products", s.listProducts).Methods("GET")
	v1.HandleFunc("/products/{productId}", s.getProduct).Methods("GET")
	v1.HandleFunc("/products/{productId}/stock-adjustments", s.adjustStock).Methods("POST")
	v1.HandleFunc("/sales", s.createSale).Methods("POST")
	v1.HandleFunc("/sales", s.listSales).Methods("GET")

	return r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close stops the idempotency caches
func (s *Server) Close() {
	s.saleKeys.Stop()
	s.stockKeys.Stop()
}

// SetFault installs f; nil clears any fault
func (s *Server) SetFault(f Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = f
}

// SetLatency delays every /v1 request by d
func (s *Server) SetLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = d
}

// SetProducts replaces the catalog
func (s *Server) SetProducts(products []models.ProductRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products = make(map[string]models.ProductRecord, len(products))
	for _, p := range products {
		s.products[p.ID] = p
	}
}

// RemoveProduct deletes a product, as if retired remotely
func (s *Server) RemoveProduct(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.products, id)
}

// Product returns the current record for id
func (s *Server) Product(id string) (models.ProductRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	return p, ok
}

// Sales returns the accepted sales in creation order
func (s *Server) Sales() []RecordedSale {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RecordedSale(nil), s.sales...)
}

// CreateAttempts returns the idempotency key of every create-sale request, in arrival order
func (s *Server) CreateAttempts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.attempts...)
}

func (s *Server) checkFault(op, key string) int {
	s.mu.Lock()
	f := s.fault
	s.mu.Unlock()
	if f == nil {
		return 0
	}
	return f(op, key)
}

func (s *Server) sortedProducts() []models.ProductRecord {
	items := make([]models.ProductRecord, 0, len(s.products))
	for _, p := range s.products {
		items = append(items, p)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items
}

func (s *Server) nextSaleNumber() (string, string) {
	s.saleSeq++
	return uuid.NewString(), fmt.Sprintf("SALE-%06d", s.saleSeq)
}

// DefaultProducts is the catalog cmd/remote-stub starts with
func DefaultProducts() []models.ProductRecord {
	return []models.ProductRecord{
		{ID: "prod-rice-5kg", Name: "Rice 5kg", Category: "Groceries", UnitPrice: 50, CostPrice: 38, StockQuantity: 120, MinStock: 20, Unit: "bag"},
		{ID: "prod-oil-1l", Name: "Cooking Oil 1L", Category: "Groceries", UnitPrice: 100, CostPrice: 80, StockQuantity: 60, MinStock: 10, Unit: "bottle"},
		{ID: "prod-soap", Name: "Bar Soap", Category: "Household", UnitPrice: 15, CostPrice: 9, StockQuantity: 300, MinStock: 50, Unit: "piece", SupplierID: "sup-clean-co"},
		{ID: "prod-airtime-100", Name: "Airtime 100", Category: "Services", UnitPrice: 100, CostPrice: 95, StockQuantity: 1000, MinStock: 0, Unit: "voucher"},
	}
}
