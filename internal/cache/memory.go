package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/coocood/freecache"
)

// minMemorySize is the smallest arena freecache accepts
const minMemorySize = 512 * 1024

// MemoryCache implements Cache interface on a freecache arena
type MemoryCache struct {
	store *freecache.Cache
}

// NewMemoryCache creates an in-process cache of sizeMB megabytes
func NewMemoryCache(sizeMB int) *MemoryCache {
	size := sizeMB * 1024 * 1024
	if size < minMemorySize {
		size = minMemorySize
	}
	return &MemoryCache{store: freecache.NewCache(size)}
}

// Get retrieves a value from cache
func (m *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := m.store.Get([]byte(key))
	if errors.Is(err, freecache.ErrNotFound) {
		return nil, ErrCacheMiss
	}
	return value, err
}

// Set stores a value in cache. Sub-second TTLs round up to one second and
// a zero TTL never expires.
func (m *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	seconds := int((ttl + time.Second - 1) / time.Second)
	return m.store.Set([]byte(key), value, seconds)
}

// Delete removes a value from cache
func (m *MemoryCache) Delete(ctx context.Context, key string) error {
	m.store.Del([]byte(key))
	return nil
}

// Exists checks if a key exists
func (m *MemoryCache) Exists(ctx context.Context, key string) (bool, error) {
	_, err := m.store.Get([]byte(key))
	if errors.Is(err, freecache.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Clear removes all keys matching pattern
func (m *MemoryCache) Clear(ctx context.Context, pattern string) error {
	if pattern == "*" || pattern == "" {
		m.store.Clear()
		return nil
	}

	var matched [][]byte
	it := m.store.NewIterator()
	for entry := it.Next(); entry != nil; entry = it.Next() {
		if matchPattern(string(entry.Key), pattern) {
			matched = append(matched, entry.Key)
		}
	}
	for _, key := range matched {
		m.store.Del(key)
	}
	return nil
}

// Close releases the arena
func (m *MemoryCache) Close() error {
	m.store.Clear()
	return nil
}

// matchPattern performs simple pattern matching
func matchPattern(s, pattern string) bool {
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(s, strings.TrimSuffix(pattern, "*"))
	}
	return s == pattern
}
