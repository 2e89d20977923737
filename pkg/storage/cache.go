package storage

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// MemoryCache is an in-process LRU cache store with per-entry expiry
type MemoryCache struct {
	capacity int
	mu       sync.Mutex
	cache    map[string]*cacheEntry
	lru      *list.List
	now      func() time.Time
	hits     uint64
	misses   uint64
}

// cacheEntry represents a cached payload
type cacheEntry struct {
	key     string
	payload []byte
	expires time.Time
	element *list.Element
}

// NewMemoryCache creates a new in-memory cache store
func NewMemoryCache(capacity int) *MemoryCache {
	if capacity < 1 {
		capacity = 1
	}
	return &MemoryCache{
		capacity: capacity,
		cache:    make(map[string]*cacheEntry),
		lru:      list.New(),
		now:      time.Now,
	}
}

// Get retrieves a cached payload
func (mc *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	entry, exists := mc.cache[key]
	if !exists {
		mc.misses++
		return nil, false, nil
	}

	// Check if entry has expired
	if !mc.now().Before(entry.expires) {
		mc.removeLocked(key)
		mc.misses++
		return nil, false, nil
	}

	// Move to front of LRU list (most recently used)
	mc.lru.MoveToFront(entry.element)
	mc.hits++

	return entry.payload, true, nil
}

// Set stores a payload for ttl
func (mc *MemoryCache) Set(_ context.Context, key string, payload []byte, ttl time.Duration) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	expires := mc.now().Add(ttl)

	// Check if entry already exists
	if entry, exists := mc.cache[key]; exists {
		entry.payload = payload
		entry.expires = expires
		mc.lru.MoveToFront(entry.element)
		return nil
	}

	entry := &cacheEntry{
		key:     key,
		payload: payload,
		expires: expires,
	}

	// Add to cache and LRU list
	entry.element = mc.lru.PushFront(entry)
	mc.cache[key] = entry

	// Evict oldest entry if cache is full
	if mc.lru.Len() > mc.capacity {
		oldest := mc.lru.Back()
		if oldest != nil {
			mc.removeLocked(oldest.Value.(*cacheEntry).key)
		}
	}

	return nil
}

// removeLocked removes an entry from the cache (must hold lock)
func (mc *MemoryCache) removeLocked(key string) {
	if entry, exists := mc.cache[key]; exists {
		mc.lru.Remove(entry.element)
		delete(mc.cache, key)
	}
}

// Clear clears all cache entries
func (mc *MemoryCache) Clear() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.cache = make(map[string]*cacheEntry)
	mc.lru = list.New()
}

// Size returns the current cache size
func (mc *MemoryCache) Size() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return len(mc.cache)
}

// CacheStats contains cache statistics
type CacheStats struct {
	Size     int
	Capacity int
	Expired  int
	Hits     uint64
	Misses   uint64
}

// Stats returns cache statistics
func (mc *MemoryCache) Stats() CacheStats {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	now := mc.now()
	expired := 0
	for _, entry := range mc.cache {
		if !now.Before(entry.expires) {
			expired++
		}
	}

	return CacheStats{
		Size:     len(mc.cache),
		Capacity: mc.capacity,
		Expired:  expired,
		Hits:     mc.hits,
		Misses:   mc.misses,
	}
}

// HitRate returns the cache hit rate as a percentage
func (mc *MemoryCache) HitRate() float64 {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	total := mc.hits + mc.misses
	if total == 0 {
		return 0.0
	}

	return float64(mc.hits) / float64(total) * 100.0
}
