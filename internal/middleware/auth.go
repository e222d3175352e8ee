package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"pos-offline-sync/internal/models"
)

// APIKeyHeader carries the terminal UI's key. Websocket clients, which cannot
// set headers from a browser, may pass it as the api_key query parameter.
const APIKeyHeader = "X-API-Key"

// AuthMiddleware creates an API key authentication middleware
func AuthMiddleware(validAPIKeys []string) func(http.Handler) http.Handler {
	keys := make([]string, 0, len(validAPIKeys))
	for _, k := range validAPIKeys {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := r.Header.Get(APIKeyHeader)
			if apiKey == "" {
				apiKey = r.URL.Query().Get("api_key")
			}

			if apiKey == "" {
				slog.Warn("Authentication failed: missing API key", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
				writeErrorResponse(w, http.StatusUnauthorized, "unauthorized", "API key required")
				return
			}

			if !isValidAPIKey(keys, apiKey) {
				slog.Warn("Authentication failed: invalid API key", "remote_addr", r.RemoteAddr, "api_key", maskAPIKey(apiKey), "path", r.URL.Path)
				writeErrorResponse(w, http.StatusUnauthorized, "unauthorized", "Invalid API key")
				return
			}

			slog.Debug("Authentication successful", "remote_addr", r.RemoteAddr, "api_key", maskAPIKey(apiKey))
			next.ServeHTTP(w, r)
		})
	}
}

func isValidAPIKey(keys []string, apiKey string) bool {
	for _, k := range keys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(apiKey)) == 1 {
			return true
		}
	}
	return false
}

// maskAPIKey masks an API key for logging (shows only first 4 characters)
func maskAPIKey(apiKey string) string {
	if len(apiKey) <= 4 {
		return strings.Repeat("*", len(apiKey))
	}
	return apiKey[:4] + strings.Repeat("*", len(apiKey)-4)
}

// writeErrorResponse is a helper function to write error responses
func writeErrorResponse(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(models.ErrorResponse{
		Code:    code,
		Message: message,
	})
}
