package cache

import "time"

// HitType indicates where a cache value was found.
type HitType string

// Cache hit types.
const (
	HitMemory HitType = "memory"
	HitDisk   HitType = "disk"
	Miss      HitType = "miss"
)

// Store defines the interface for cache operations.
// Values round-trip through JSON, so callers decode into typed targets.
type Store interface {
	Fetch(key string, v any) (HitType, bool)
	Put(key string, v any, ttl time.Duration)
}
