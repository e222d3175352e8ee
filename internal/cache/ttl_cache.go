package cache

import (
	"log/slog"
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTLCache is a thread-safe map whose entries expire after a fixed TTL.
// Expired entries are invisible to Get and are purged by a background sweep.
type TTLCache[V any] struct {
	mu      sync.RWMutex
	items   map[string]entry[V]
	ttl     time.Duration
	now     func() time.Time
	ticker  *time.Ticker
	stop    chan struct{}
	stopped sync.Once
}

// NewTTLCache creates a cache with the given TTL, swept every cleanupInterval
func NewTTLCache[V any](ttl, cleanupInterval time.Duration) *TTLCache[V] {
	c := &TTLCache[V]{
		items:  make(map[string]entry[V]),
		ttl:    ttl,
		now:    time.Now,
		ticker: time.NewTicker(cleanupInterval),
		stop:   make(chan struct{}),
	}
	go c.sweepLoop()

	slog.Debug("TTL cache initialized",
		"ttl", ttl.String(),
		"cleanup_interval", cleanupInterval.String())
	return c
}

func (c *TTLCache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = entry[V]{value: value, expiresAt: c.now().Add(c.ttl)}
}

// Get returns the live value for key
func (c *TTLCache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.items[key]
	if !ok || c.now().After(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// GetOrCreate returns the live value for key, or stores and returns create()'s
// result. create runs under the cache lock and a failed create stores nothing.
func (c *TTLCache[V]) GetOrCreate(key string, create func() (V, error)) (V, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, ok := c.items[key]; ok && !now.After(e.expiresAt) {
		return e.value, true, nil
	}

	v, err := create()
	if err != nil {
		var zero V
		return zero, false, err
	}
	c.items[key] = entry[V]{value: v, expiresAt: now.Add(c.ttl)}
	return v, false, nil
}

func (c *TTLCache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Len counts live entries only
func (c *TTLCache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	n := 0
	for _, e := range c.items {
		if !now.After(e.expiresAt) {
			n++
		}
	}
	return n
}

// Stop ends the background sweep; it is safe to call more than once
func (c *TTLCache[V]) Stop() {
	c.stopped.Do(func() {
		c.ticker.Stop()
		close(c.stop)
	})
}

func (c *TTLCache[V]) sweepLoop() {
	for {
		select {
		case <-c.ticker.C:
			c.sweep()
		case <-c.stop:
			return
		}
	}
}

func (c *TTLCache[V]) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, e := range c.items {
		if now.After(e.expiresAt) {
			delete(c.items, key)
			removed++
		}
	}
	if removed > 0 {
		slog.Debug("Cache cleanup completed", "expired_entries", removed, "remaining_entries", len(c.items))
	}
}
