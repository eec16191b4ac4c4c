package testutil

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/fair-reviewer/pkg/cache"
)

// MockCache implements cache.Store in memory and counts writes.
// Values round-trip through JSON like the real stores; TTLs are recorded but
// never expire entries.
type MockCache struct {
	entries map[string][]byte
	ttls    map[string]time.Duration
	puts    int
	mu      sync.RWMutex
}

// NewMockCache creates an empty MockCache.
func NewMockCache() *MockCache {
	return &MockCache{
		entries: make(map[string][]byte),
		ttls:    make(map[string]time.Duration),
	}
}

// Fetch decodes the value stored under key into v.
func (m *MockCache) Fetch(key string, v any) (cache.HitType, bool) {
	m.mu.RLock()
	data, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return cache.Miss, false
	}
	if err := json.Unmarshal(data, v); err != nil {
		return cache.Miss, false
	}
	return cache.HitMemory, true
}

// Put stores v under key.
func (m *MockCache) Put(key string, v any, ttl time.Duration) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = data
	m.ttls[key] = ttl
	m.puts++
}

// Puts returns how many writes were made.
func (m *MockCache) Puts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.puts
}

// TTL returns the TTL the last write to key used.
func (m *MockCache) TTL(key string) (time.Duration, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ttl, ok := m.ttls[key]
	return ttl, ok
}

// Len returns how many keys are stored.
func (m *MockCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
