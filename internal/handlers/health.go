package handlers

import (
	"net/http"
	"time"

	"pos-offline-sync/internal/models"
)

// ConnectivityReporter reports whether the remote is currently reachable
type ConnectivityReporter interface {
	Online() bool
}

// HealthHandler handles health check requests
type HealthHandler struct {
	network ConnectivityReporter
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(network ConnectivityReporter) *HealthHandler {
	return &HealthHandler{network: network}
}

// Health handles GET /health. The terminal is healthy offline; connectivity
// is reported, not required.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if !h.network.Online() {
		status = "healthy_offline"
	}
	writeJSONResponse(w, http.StatusOK, models.HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
