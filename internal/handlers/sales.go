package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"pos-offline-sync/internal/models"
)

// SaleQueue is the operator-facing view of queued sales
type SaleQueue interface {
	Pending() ([]models.QueuedSale, error)
	Failed() ([]models.QueuedSale, error)
	Requeue(id string) (*models.QueuedSale, error)
	Discard(id string) error
}

// SalesHandler records sales and manages the queue
type SalesHandler struct {
	sync  SyncService
	queue SaleQueue
}

// NewSalesHandler creates a new sales handler
func NewSalesHandler(sync SyncService, queue SaleQueue) *SalesHandler {
	return &SalesHandler{sync: sync, queue: queue}
}

// CreateSale handles POST /v1/sales. The sale is always queued first, online or not.
func (h *SalesHandler) CreateSale(w http.ResponseWriter, r *http.Request) {
	var input models.SaleInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "bad_request", "Invalid JSON", nil)
		return
	}

	sale, err := h.sync.RecordSale(input)
	if err != nil {
		slog.Warn("Sale rejected", "error", err, "remote_addr", r.RemoteAddr)
		writeSyncError(w, err, "Sale not found")
		return
	}

	slog.Info("Sale recorded", "sale_id", sale.ID, "total_amount", sale.TotalAmount, "items", len(sale.Items))
	writeJSONResponse(w, http.StatusCreated, sale)
}

// ListPending handles GET /v1/sales/pending
func (h *SalesHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	h.list(w, h.queue.Pending)
}

// ListFailed handles GET /v1/sales/failed
func (h *SalesHandler) ListFailed(w http.ResponseWriter, r *http.Request) {
	h.list(w, h.queue.Failed)
}

func (h *SalesHandler) list(w http.ResponseWriter, load func() ([]models.QueuedSale, error)) {
	sales, err := load()
	if err != nil {
		slog.Error("Failed to read sale queue", "error", err)
		writeSyncError(w, err, "Sales not found")
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"items": sales,
		"count": len(sales),
	})
}

// Requeue handles POST /v1/sales/{id}/requeue
func (h *SalesHandler) Requeue(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sale, err := h.queue.Requeue(id)
	if err != nil {
		slog.Warn("Requeue refused", "sale_id", id, "error", err)
		writeSyncError(w, err, "Sale not found")
		return
	}

	slog.Info("Sale requeued by operator", "sale_id", id)
	writeJSONResponse(w, http.StatusOK, sale)
}

// Discard handles DELETE /v1/sales/{id}. Only failed sales may be discarded.
func (h *SalesHandler) Discard(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.queue.Discard(id); err != nil {
		slog.Warn("Discard refused", "sale_id", id, "error", err)
		writeSyncError(w, err, "Sale not found")
		return
	}

	slog.Info("Failed sale discarded by operator", "sale_id", id)
	w.WriteHeader(http.StatusNoContent)
}
