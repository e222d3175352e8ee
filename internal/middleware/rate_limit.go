package middleware

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
	Window            time.Duration
}

type window struct {
	count   int
	resetAt time.Time
}

// RateLimiter is a fixed-window limiter keyed by client IP. It keeps a
// misbehaving UI from hammering the sync endpoints.
type RateLimiter struct {
	config  RateLimitConfig
	now     func() time.Time
	mu      sync.Mutex
	clients map[string]*window
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = 120
	}
	if config.Window <= 0 {
		config.Window = time.Minute
	}

	slog.Info("Rate limiter initialized",
		"enabled", config.Enabled,
		"requests_per_window", config.RequestsPerMinute,
		"window", config.Window)

	return &RateLimiter{
		config:  config,
		now:     time.Now,
		clients: make(map[string]*window),
	}
}

// Allow records one request for clientIP and reports whether it is within the limit
func (rl *RateLimiter) Allow(clientIP string) (bool, RateLimitInfo) {
	if !rl.config.Enabled {
		return true, RateLimitInfo{Limit: -1, Remaining: -1}
	}

	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Drop expired windows while we hold the lock
	for ip, w := range rl.clients {
		if now.After(w.resetAt) {
			delete(rl.clients, ip)
		}
	}

	w, ok := rl.clients[clientIP]
	if !ok {
		w = &window{resetAt: now.Add(rl.config.Window)}
		rl.clients[clientIP] = w
	}

	info := RateLimitInfo{Limit: rl.config.RequestsPerMinute, ResetTime: w.resetAt}
	if w.count >= rl.config.RequestsPerMinute {
		return false, info
	}
	w.count++
	info.Remaining = rl.config.RequestsPerMinute - w.count
	return true, info
}

// RateLimitInfo contains rate limit information for response headers
type RateLimitInfo struct {
	Limit     int
	Remaining int
	ResetTime time.Time
}

// RateLimitMiddleware creates a rate limiting middleware using an existing rate limiter
func RateLimitMiddleware(rateLimiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientIP := getClientIP(r)
			allowed, info := rateLimiter.Allow(clientIP)
			setRateLimitHeaders(w, info)

			if !allowed {
				slog.Warn("Rate limit exceeded",
					"client_ip", clientIP,
					"path", r.URL.Path,
					"method", r.Method,
					"limit", info.Limit,
					"reset_time", info.ResetTime.Format(time.RFC3339))
				writeRateLimitErrorResponse(w, info)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// getClientIP extracts the client IP address from the request
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ip := strings.TrimSpace(strings.Split(xff, ",")[0])
		if net.ParseIP(ip) != nil {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// setRateLimitHeaders sets rate limit headers in the response
func setRateLimitHeaders(w http.ResponseWriter, info RateLimitInfo) {
	if info.Limit < 0 {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
	if !info.ResetTime.IsZero() {
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(info.ResetTime.Unix(), 10))
	}
}

// writeRateLimitErrorResponse writes a rate limit exceeded error response
func writeRateLimitErrorResponse(w http.ResponseWriter, info RateLimitInfo) {
	retryAfter := int(time.Until(info.ResetTime).Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	writeErrorResponse(w, http.StatusTooManyRequests, "rate_limit_exceeded",
		fmt.Sprintf("Rate limit exceeded: %d requests per window. Retry after %d seconds.", info.Limit, retryAfter))
}

// ParseRateLimitConfig builds a RateLimitConfig from textual settings
func ParseRateLimitConfig(enabled, requestsPerMinute string) RateLimitConfig {
	cfg := RateLimitConfig{Enabled: true, RequestsPerMinute: 120, Window: time.Minute}

	switch strings.ToLower(strings.TrimSpace(enabled)) {
	case "", "true", "1", "yes", "on":
	case "false", "0", "no", "off":
		cfg.Enabled = false
	default:
		slog.Warn("Invalid boolean value, using default", "value", enabled, "default", true)
	}

	if requestsPerMinute != "" {
		n, err := strconv.Atoi(strings.TrimSpace(requestsPerMinute))
		if err != nil || n <= 0 {
			slog.Warn("Invalid rate limit requests per minute, using default", "configured", requestsPerMinute, "default", cfg.RequestsPerMinute)
		} else {
			cfg.RequestsPerMinute = n
		}
	}
	return cfg
}
