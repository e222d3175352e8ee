package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterFixedWindow(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{Enabled: true, RequestsPerMinute: 2, Window: time.Minute})
	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }

	ok, info := rl.Allow("10.0.0.1")
	assert.True(t, ok)
	assert.Equal(t, 1, info.Remaining)
	ok, _ = rl.Allow("10.0.0.1")
	assert.True(t, ok)
	ok, _ = rl.Allow("10.0.0.1")
	assert.False(t, ok, "third request in the window is refused")

	ok, _ = rl.Allow("10.0.0.2")
	assert.True(t, ok, "limits are per client")

	now = now.Add(time.Minute + time.Second)
	ok, _ = rl.Allow("10.0.0.1")
	assert.True(t, ok, "window resets")
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{Enabled: false, RequestsPerMinute: 1})

	for i := 0; i < 5; i++ {
		ok, info := rl.Allow("10.0.0.1")
		assert.True(t, ok)
		assert.Equal(t, -1, info.Limit)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{Enabled: true, RequestsPerMinute: 1})
	handler := RateLimitMiddleware(rl)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/v1/sync", nil))
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", first.Header().Get("X-RateLimit-Remaining"))

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/v1/sync", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
}

func TestParseRateLimitConfig(t *testing.T) {
	assert.Equal(t, RateLimitConfig{Enabled: true, RequestsPerMinute: 120, Window: time.Minute}, ParseRateLimitConfig("", ""))
	assert.Equal(t, RateLimitConfig{Enabled: false, RequestsPerMinute: 30, Window: time.Minute}, ParseRateLimitConfig("off", "30"))
	assert.Equal(t, 120, ParseRateLimitConfig("maybe", "-3").RequestsPerMinute)
}
