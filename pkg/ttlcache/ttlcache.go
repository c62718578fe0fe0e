// Package ttlcache provides a bounded in-memory cache with per-entry TTL and
// an explicit eviction sweep. It is owned by its caller and never consulted
// for balance correctness.
package ttlcache

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrInvalidCapacity = errors.New("invalid capacity")
	ErrInvalidTTL      = errors.New("invalid ttl")
)

// Option configures a Cache instance.
type Option[V any] func(*Cache[V])

// WithClock overrides the time source. Used in tests.
func WithClock[V any](now func() time.Time) Option[V] {
	return func(cache *Cache[V]) {
		if now != nil {
			cache.nowFn = now
		}
	}
}

type item[V any] struct {
	value     V
	expiresAt time.Time
}

// Cache is a fixed-capacity string-keyed cache. When full, Set sweeps expired
// entries first and then evicts the entry closest to expiry.
type Cache[V any] struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	nowFn    func() time.Time
	items    map[string]item[V]
}

// New validates capacity and ttl and returns an empty cache.
func New[V any](capacity int, ttl time.Duration, options ...Option[V]) (*Cache[V], error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	if ttl <= 0 {
		return nil, ErrInvalidTTL
	}
	cache := &Cache[V]{
		capacity: capacity,
		ttl:      ttl,
		nowFn:    time.Now,
		items:    make(map[string]item[V], capacity),
	}
	for _, option := range options {
		if option != nil {
			option(cache)
		}
	}
	return cache, nil
}

// Get returns the cached value when present and unexpired.
func (cache *Cache[V]) Get(key string) (V, bool) {
	cache.mu.Lock()
	defer cache.mu.Unlock()
	entry, ok := cache.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	if !entry.expiresAt.After(cache.nowFn()) {
		delete(cache.items, key)
		var zero V
		return zero, false
	}
	return entry.value, true
}

// Set stores value under key with the cache TTL, evicting as needed.
func (cache *Cache[V]) Set(key string, value V) {
	cache.mu.Lock()
	defer cache.mu.Unlock()
	now := cache.nowFn()
	if _, exists := cache.items[key]; !exists && len(cache.items) >= cache.capacity {
		cache.sweepLocked(now)
		if len(cache.items) >= cache.capacity {
			cache.evictSoonestLocked()
		}
	}
	cache.items[key] = item[V]{value: value, expiresAt: now.Add(cache.ttl)}
}

// Delete removes key.
func (cache *Cache[V]) Delete(key string) {
	cache.mu.Lock()
	defer cache.mu.Unlock()
	delete(cache.items, key)
}

// Len reports the number of stored entries, expired included.
func (cache *Cache[V]) Len() int {
	cache.mu.Lock()
	defer cache.mu.Unlock()
	return len(cache.items)
}

// Sweep removes every expired entry and reports how many were evicted.
func (cache *Cache[V]) Sweep() int {
	cache.mu.Lock()
	defer cache.mu.Unlock()
	return cache.sweepLocked(cache.nowFn())
}

func (cache *Cache[V]) sweepLocked(now time.Time) int {
	evicted := 0
	for key, entry := range cache.items {
		if !entry.expiresAt.After(now) {
			delete(cache.items, key)
			evicted++
		}
	}
	return evicted
}

func (cache *Cache[V]) evictSoonestLocked() {
	var (
		victim string
		found  bool
		oldest time.Time
	)
	for key, entry := range cache.items {
		if !found || entry.expiresAt.Before(oldest) {
			victim = key
			oldest = entry.expiresAt
			found = true
		}
	}
	if found {
		delete(cache.items, victim)
	}
}
