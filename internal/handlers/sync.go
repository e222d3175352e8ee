package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"pos-offline-sync/internal/models"
)

// SyncService is the orchestration surface the API exposes
type SyncService interface {
	SyncNow(ctx context.Context) models.SyncRun
	SyncProducts(ctx context.Context) (int, error)
	SyncPendingSales(ctx context.Context) models.UploadResult
	Stats() models.SyncStats
	RecordSale(input models.SaleInput) (*models.QueuedSale, error)
}

// SyncHandler handles manual sync and stats requests
type SyncHandler struct {
	sync SyncService
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(sync SyncService) *SyncHandler {
	return &SyncHandler{sync: sync}
}

// Stats handles GET /v1/sync/stats
func (h *SyncHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, h.sync.Stats())
}

// SyncNow handles POST /v1/sync. A request arriving during a run gets that run's result.
func (h *SyncHandler) SyncNow(w http.ResponseWriter, r *http.Request) {
	slog.Info("Manual sync requested", "remote_addr", r.RemoteAddr)

	run := h.sync.SyncNow(r.Context())
	writeJSONResponse(w, http.StatusOK, run)
}

// SyncProducts handles POST /v1/sync/products
func (h *SyncHandler) SyncProducts(w http.ResponseWriter, r *http.Request) {
	slog.Info("Manual catalog sync requested", "remote_addr", r.RemoteAddr)

	count, err := h.sync.SyncProducts(r.Context())
	if err != nil {
		slog.Error("Manual catalog sync failed", "error", err)
		writeSyncError(w, err, "Catalog not found")
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]int{"productsSynced": count})
}

// SyncSales handles POST /v1/sync/sales. 409 means an upload is already running.
func (h *SyncHandler) SyncSales(w http.ResponseWriter, r *http.Request) {
	slog.Info("Manual sale upload requested", "remote_addr", r.RemoteAddr)

	result := h.sync.SyncPendingSales(r.Context())
	if result.AlreadyRunning {
		writeJSONResponse(w, http.StatusConflict, result)
		return
	}
	writeJSONResponse(w, http.StatusOK, result)
}
