package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	apperrors "pos-offline-sync/internal/errors"
	"pos-offline-sync/internal/models"
)

// writeJSONResponse is a helper function to write JSON responses
func writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("Failed to encode response", "error", err)
	}
}

// writeErrorResponse is a helper function to write error responses
func writeErrorResponse(w http.ResponseWriter, statusCode int, code, message string, details []models.ErrorDetail) {
	writeJSONResponse(w, statusCode, models.ErrorResponse{
		Code:    code,
		Message: message,
		Details: details,
	})
}

// writeSyncError maps an error's kind to a status code
func writeSyncError(w http.ResponseWriter, err error, notFoundMessage string) {
	switch {
	case apperrors.Is(err, apperrors.ErrNotFound):
		writeErrorResponse(w, http.StatusNotFound, "not_found", notFoundMessage, nil)
	case apperrors.IsKind(err, apperrors.KindValidation):
		writeErrorResponse(w, http.StatusUnprocessableEntity, "validation_error", err.Error(), nil)
	case apperrors.IsKind(err, apperrors.KindStorage):
		writeErrorResponse(w, http.StatusServiceUnavailable, "storage_unavailable", "Local storage is unavailable", nil)
	case apperrors.IsKind(err, apperrors.KindNetwork):
		writeErrorResponse(w, http.StatusBadGateway, "remote_unreachable", err.Error(), nil)
	case apperrors.IsKind(err, apperrors.KindRemoteRejection):
		writeErrorResponse(w, http.StatusBadGateway, "remote_rejected", err.Error(), nil)
	default:
		writeErrorResponse(w, http.StatusInternalServerError, "internal_error", "Internal server error", nil)
	}
}
