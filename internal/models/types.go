package models

import (
	"math"
	"time"
)

// ErrorResponse represents the standard error response format
type ErrorResponse struct {
	Code    string        `json:"code"`
	Message string        `json:"message"`
	Details []ErrorDetail `json:"details,omitempty"`
}

type ErrorDetail struct {
	Field string `json:"field"`
	Issue string `json:"issue"`
}

// Store namespaces
const (
	CollectionProducts     = "products"
	CollectionPendingSales = "pendingSales"
	CollectionMeta         = "syncMeta"
)

// CachedProduct is the local snapshot of one catalog entry
type CachedProduct struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Category      string    `json:"category"`
	UnitPrice     float64   `json:"unit_price"`
	CostPrice     float64   `json:"cost_price"`
	StockQuantity int       `json:"stock_quantity"`
	MinStock      int       `json:"min_stock"`
	Unit          string    `json:"unit"`
	SupplierID    string    `json:"supplier_id,omitempty"`
	LastSyncedAt  time.Time `json:"last_synced_at"`
}

// LowStock reports whether stock is at or below the minimum threshold
func (p CachedProduct) LowStock() bool {
	return p.StockQuantity <= p.MinStock
}

type PaymentMethod string

const (
	PaymentCash        PaymentMethod = "cash"
	PaymentMobileMoney PaymentMethod = "mobile-money"
)

func (m PaymentMethod) Valid() bool {
	return m == PaymentCash || m == PaymentMobileMoney
}

// SaleStatus is set by the operator before the sale is queued
type SaleStatus string

const (
	SaleCompleted SaleStatus = "completed"
	SalePending   SaleStatus = "pending"
	SaleCancelled SaleStatus = "cancelled"
)

func (s SaleStatus) Valid() bool {
	return s == SaleCompleted || s == SalePending || s == SaleCancelled
}

// SyncStatus is owned by the upload state machine. Synced sales are deleted,
// so SyncSynced is only ever observed transiently.
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSyncing SyncStatus = "syncing"
	SyncSynced  SyncStatus = "synced"
	SyncFailed  SyncStatus = "failed"
)

const DefaultCustomerName = "Walk-in Customer"

type LineItem struct {
	ProductID   string  `json:"product_id"`
	ProductName string  `json:"product_name,omitempty"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	LineTotal   float64 `json:"line_total"`
}

// QueuedSale is a locally recorded sale awaiting upload. ID doubles as the
// idempotency key for the remote create call.
type QueuedSale struct {
	ID            string        `json:"id"`
	Seq           uint64        `json:"seq"`
	CustomerName  string        `json:"customer_name"`
	CustomerPhone string        `json:"customer_phone,omitempty"`
	Items         []LineItem    `json:"items"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	Status        SaleStatus    `json:"status"`
	TotalAmount   float64       `json:"total_amount"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	SyncStatus    SyncStatus    `json:"sync_status"`
	RetryCount    int           `json:"retry_count"`
	LastError     *string       `json:"last_error"`
	LastErrorKind string        `json:"last_error_kind,omitempty"`
}

// Recalculate derives every line total and the sale total from quantities and prices
func (s *QueuedSale) Recalculate() {
	var total float64
	for i := range s.Items {
		s.Items[i].LineTotal = roundCents(float64(s.Items[i].Quantity) * s.Items[i].UnitPrice)
		total += s.Items[i].LineTotal
	}
	s.TotalAmount = roundCents(total)
}

// Before orders sales by creation, Seq breaking timestamp ties
func (s QueuedSale) Before(other QueuedSale) bool {
	if s.Seq != other.Seq {
		return s.Seq < other.Seq
	}
	if !s.CreatedAt.Equal(other.CreatedAt) {
		return s.CreatedAt.Before(other.CreatedAt)
	}
	return s.ID < other.ID
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

// SaleInput is what the sale-entry path submits to the queue
type SaleInput struct {
	CustomerName  string          `json:"customer_name"`
	CustomerPhone string          `json:"customer_phone,omitempty"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Status        SaleStatus      `json:"status"`
	Items         []LineItemInput `json:"items"`
}

// LineItemInput leaves UnitPrice nil to take the cached catalog price
type LineItemInput struct {
	ProductID string   `json:"product_id"`
	Quantity  int      `json:"quantity"`
	UnitPrice *float64 `json:"unit_price,omitempty"`
}

// UploadResult summarizes one syncPendingSales run
type UploadResult struct {
	Synced         int  `json:"synced"`
	Failed         int  `json:"failed"`
	TotalPending   int  `json:"totalPending"`
	AlreadyRunning bool `json:"alreadyRunning,omitempty"`
}

// SyncRun describes one orchestrated catalog+sales sequence
type SyncRun struct {
	Trigger        string       `json:"trigger"`
	StartedAt      time.Time    `json:"startedAt"`
	Duration       string       `json:"duration"`
	ProductsSynced int          `json:"productsSynced"`
	CatalogError   string       `json:"catalogError,omitempty"`
	Sales          UploadResult `json:"sales"`
	Joined         bool         `json:"joined,omitempty"`
}

// SyncStats is derived on demand, never persisted
type SyncStats struct {
	PendingSales   int        `json:"pendingSales"`
	FailedSales    int        `json:"failedSales"`
	CachedProducts int        `json:"cachedProducts"`
	IsSyncing      bool       `json:"isSyncing"`
	Online         bool       `json:"online"`
	LastSyncAt     *time.Time `json:"lastSyncAt,omitempty"`
	LastRun        *SyncRun   `json:"lastRun,omitempty"`
}

// Remote API wire types

type ProductRecord struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Category      string  `json:"category"`
	UnitPrice     float64 `json:"unit_price"`
	CostPrice     float64 `json:"cost_price"`
	StockQuantity int     `json:"stock_quantity"`
	MinStock      int     `json:"min_stock"`
	Unit          string  `json:"unit"`
	SupplierID    string  `json:"supplier_id,omitempty"`
}

// ToCached converts a remote record into a cache entry stamped with syncedAt
func (r ProductRecord) ToCached(syncedAt time.Time) CachedProduct {
	return CachedProduct{
		ID:            r.ID,
		Name:          r.Name,
		Category:      r.Category,
		UnitPrice:     r.UnitPrice,
		CostPrice:     r.CostPrice,
		StockQuantity: r.StockQuantity,
		MinStock:      r.MinStock,
		Unit:          r.Unit,
		SupplierID:    r.SupplierID,
		LastSyncedAt:  syncedAt,
	}
}

type ProductListResponse struct {
	Items []ProductRecord `json:"items"`
}

type CreateSaleRequest struct {
	CustomerName  string           `json:"customer_name"`
	CustomerPhone string           `json:"customer_phone,omitempty"`
	PaymentMethod PaymentMethod    `json:"payment_method"`
	Status        SaleStatus       `json:"status"`
	Items         []CreateSaleItem `json:"items"`
}

type CreateSaleItem struct {
	ProductID string  `json:"product_id"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

type CreateSaleResponse struct {
	ID         string `json:"id"`
	SaleNumber string `json:"sale_number"`
}

type StockAdjustmentRequest struct {
	Delta  int    `json:"delta"`
	Reason string `json:"reason,omitempty"`
}

type StockAdjustmentResponse struct {
	ProductID     string `json:"product_id"`
	StockQuantity int    `json:"stock_quantity"`
}

type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}
