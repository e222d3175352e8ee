package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pos-offline-sync/internal/models"
)

func TestAuthMiddleware(t *testing.T) {
	protected := AuthMiddleware([]string{" pos-terminal-key", "demo ", ""})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name       string
		header     string
		query      string
		wantStatus int
	}{
		{"valid header", "pos-terminal-key", "", http.StatusNoContent},
		{"trimmed configured key", "demo", "", http.StatusNoContent},
		{"query fallback", "", "demo", http.StatusNoContent},
		{"missing key", "", "", http.StatusUnauthorized},
		{"invalid key", "nope", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/v1/sync/stats"
			if tt.query != "" {
				target += "?api_key=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				req.Header.Set(APIKeyHeader, tt.header)
			}
			rec := httptest.NewRecorder()

			protected.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusUnauthorized {
				var body models.ErrorResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				assert.Equal(t, "unauthorized", body.Code)
			}
		})
	}
}

func TestEmptyConfiguredKeyNeverMatches(t *testing.T) {
	protected := AuthMiddleware([]string{""})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/v1/sales/pending", nil)
	req.Header.Set(APIKeyHeader, " ")
	rec := httptest.NewRecorder()

	protected.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMaskAPIKey(t *testing.T) {
	assert.Equal(t, "****", maskAPIKey("demo"))
	assert.Equal(t, "pos-************", maskAPIKey("pos-terminal-key"))
	assert.Equal(t, "", maskAPIKey(""))
}
