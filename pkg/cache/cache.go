// Package cache provides thread-safe caching with TTL support.
package cache

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Entry holds a cached value with expiration.
type Entry struct {
	expiration time.Time
	value      []byte
}

// Cache provides thread-safe in-memory caching with TTL.
// Values are stored as JSON so both tiers decode the same way.
type Cache struct {
	entries map[string]Entry
	done    chan struct{}
	now     func() time.Time
	mu      sync.RWMutex
	ttl     time.Duration
	once    sync.Once
}

// New creates a new cache with the specified default TTL.
func New(ttl time.Duration) *Cache {
	c := &Cache{
		entries: make(map[string]Entry),
		done:    make(chan struct{}),
		now:     time.Now,
		ttl:     ttl,
	}
	go c.cleanupExpired()
	return c
}

// TTL returns the default time-to-live.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// get retrieves raw bytes from cache if not expired.
func (c *Cache) get(key string) ([]byte, bool) {
	c.mu.RLock()
	entry, exists := c.entries[key]
	c.mu.RUnlock()
	if !exists {
		return nil, false
	}

	if c.now().After(entry.expiration) {
		c.mu.Lock()
		// Re-check under the write lock; a fresh Set may have replaced it.
		if e, ok := c.entries[key]; ok && c.now().After(e.expiration) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return entry.value, true
}

// set stores raw bytes with a TTL.
func (c *Cache) set(key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = Entry{
		value:      value,
		expiration: c.now().Add(ttl),
	}
}

// Fetch decodes the cached value for key into v.
func (c *Cache) Fetch(key string, v any) (HitType, bool) {
	raw, ok := c.get(key)
	if !ok {
		return Miss, false
	}
	if err := json.Unmarshal(raw, v); err != nil {
		slog.Debug("Failed to decode cached value", "key", key, "error", err)
		c.Delete(key)
		return Miss, false
	}
	return HitMemory, true
}

// Put stores v under key. A non-positive ttl uses the cache default.
func (c *Cache) Put(key string, v any, ttl time.Duration) {
	raw, err := json.Marshal(v)
	if err != nil {
		slog.Debug("Failed to encode value for cache", "key", key, "error", err)
		return
	}
	c.set(key, raw, ttl)
}

// Delete removes a key.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len returns the number of entries, including expired ones not yet swept.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the background cleanup goroutine.
func (c *Cache) Close() {
	c.once.Do(func() { close(c.done) })
}

// cleanupExpired periodically removes expired entries.
func (c *Cache) cleanupExpired() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for key, entry := range c.entries {
		if now.After(entry.expiration) {
			delete(c.entries, key)
		}
	}
}
