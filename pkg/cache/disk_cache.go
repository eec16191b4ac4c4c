package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// cacheRetentionPeriod is how long cache files are kept before cleanup.
	cacheRetentionPeriod = 30 * 24 * time.Hour
	cacheDirPerms        = 0o700
	cacheFilePerms       = 0o600
)

// Recommended TTLs for different data types.
// Open pull requests are never cached: pending review counts must be fresh.
const (
	// TTLHistory is for closed pull requests with reviews (new PRs close daily).
	TTLHistory = 4 * time.Hour

	// TTLCollaborators is for repo collaborator lists (changes occasionally).
	TTLCollaborators = 6 * time.Hour

	// TTLTeamMembers is for identities detected from recent history.
	TTLTeamMembers = 24 * time.Hour

	// TTLUserDetails is for the authenticated user (changes very rarely).
	TTLUserDetails = 7 * 24 * time.Hour
)

// diskEntry represents a cache entry on disk with TTL.
type diskEntry struct {
	Expiration time.Time       `json:"expiration"`
	CachedAt   time.Time       `json:"cached_at"`
	Key        string          `json:"key"`
	Value      json.RawMessage `json:"value"`
}

// DiskCache provides two-tier caching: in-memory + disk persistence.
type DiskCache struct {
	*Cache // Embedded in-memory cache

	cacheDir string
	enabled  bool
}

// NewDiskCache creates a new cache with disk persistence.
// If cacheDir is empty, falls back to memory-only cache.
func NewDiskCache(ttl time.Duration, cacheDir string) (*DiskCache, error) {
	dc := &DiskCache{
		Cache:    New(ttl),
		cacheDir: cacheDir,
		enabled:  cacheDir != "",
	}

	if dc.enabled {
		cleanPath := filepath.Clean(cacheDir)
		if !filepath.IsAbs(cleanPath) {
			return nil, errors.New("cache directory must be absolute path")
		}

		if err := os.MkdirAll(cleanPath, cacheDirPerms); err != nil {
			slog.Warn("Failed to create cache directory, falling back to memory-only", "error", err, "path", cleanPath)
			dc.enabled = false
		} else {
			dc.cacheDir = cleanPath
			go dc.cleanOldCaches()
		}
	}

	return dc, nil
}

// DefaultDir returns the per-user cache directory for this tool, or "" if
// the platform has none.
func DefaultDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "fair-reviewer")
}

// Fetch decodes a cached value into v, checking memory first, then disk.
func (c *DiskCache) Fetch(key string, v any) (HitType, bool) {
	if hit, ok := c.Cache.Fetch(key, v); ok {
		return hit, true
	}

	if !c.enabled {
		return Miss, false
	}

	var entry diskEntry
	if !c.loadFromDisk(key, &entry) {
		slog.Debug("Disk cache file not found or unreadable", "key", key)
		return Miss, false
	}

	if entry.Key != "" && entry.Key != key {
		slog.Debug("Disk cache key mismatch", "key", key, "stored", entry.Key)
		return Miss, false
	}

	if c.now().After(entry.Expiration) {
		slog.Debug("Disk cache entry expired", "key", key, "expired_at", entry.Expiration)
		c.removeFromDisk(key)
		return Miss, false
	}

	if err := json.Unmarshal(entry.Value, v); err != nil {
		slog.Warn("Failed to unmarshal disk cache entry", "key", key, "error", err)
		c.removeFromDisk(key)
		return Miss, false
	}

	slog.Debug("Disk cache hit", "key", key, "cached_at", entry.CachedAt, "ttl_remaining", entry.Expiration.Sub(c.now()))

	// Restore to memory cache
	if ttl := entry.Expiration.Sub(c.now()); ttl > 0 {
		c.set(key, entry.Value, ttl)
	}
	return HitDisk, true
}

// Put stores v in both memory and disk cache.
func (c *DiskCache) Put(key string, v any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	raw, err := json.Marshal(v)
	if err != nil {
		slog.Debug("Failed to marshal value for cache", "key", key, "error", err)
		return
	}
	c.set(key, raw, ttl)

	if !c.enabled {
		return
	}

	now := c.now()
	entry := diskEntry{
		Key:        key,
		Value:      raw,
		Expiration: now.Add(ttl),
		CachedAt:   now,
	}
	if err := c.saveToDisk(key, entry); err != nil {
		slog.Debug("Failed to save to disk cache", "key", key, "error", err)
	}
}

// Invalidate removes a key from both tiers.
func (c *DiskCache) Invalidate(key string) {
	c.Delete(key)
	if c.enabled {
		c.removeFromDisk(key)
	}
}

// cacheKey generates a SHA256 hash of the key for the filename.
func (*DiskCache) cacheKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

func (c *DiskCache) path(key string) string {
	return filepath.Join(c.cacheDir, c.cacheKey(key)+".json")
}

// loadFromDisk loads a cache entry from disk.
func (c *DiskCache) loadFromDisk(key string, v any) bool {
	path := c.path(key)

	file, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Debug("Failed to open disk cache file", "error", err, "path", path)
		}
		return false
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Debug("Failed to close disk cache file", "error", err, "path", path)
		}
	}()

	if err := json.NewDecoder(file).Decode(v); err != nil {
		slog.Debug("Failed to decode disk cache file", "error", err, "path", path)
		return false
	}
	return true
}

// saveToDisk saves a cache entry to disk atomically.
func (c *DiskCache) saveToDisk(key string, v any) error {
	path := c.path(key)
	tmpPath := path + ".tmp"

	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, cacheFilePerms)
	if err != nil {
		return fmt.Errorf("creating cache file: %w", err)
	}

	if err := json.NewEncoder(file).Encode(v); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("encoding cache data: %w", err)
	}

	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("closing cache file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("renaming cache file: %w", err)
	}
	return nil
}

// removeFromDisk removes a cache entry from disk.
func (c *DiskCache) removeFromDisk(key string) {
	path := c.path(key)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Debug("Failed to remove disk cache file", "error", err, "path", path)
	}
}

// cleanOldCaches periodically removes stale cache files.
func (c *DiskCache) cleanOldCaches() {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if removed := c.removeOlderThan(c.now().Add(-cacheRetentionPeriod)); removed > 0 {
				slog.Info("Cleaned old cache files", "removed", removed)
			}
		}
	}
}

// removeOlderThan deletes cache files last written before cutoff.
func (c *DiskCache) removeOlderThan(cutoff time.Time) int {
	entries, err := os.ReadDir(c.cacheDir)
	if err != nil {
		slog.Error("Failed to read cache directory", "error", err)
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			path := filepath.Join(c.cacheDir, entry.Name())
			if err := os.Remove(path); err != nil {
				slog.Debug("Failed to remove old cache file", "path", path, "error", err)
			} else {
				removed++
			}
		}
	}
	return removed
}
