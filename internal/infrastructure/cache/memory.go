package cache

import (
	"sync"
	"time"
)

// cacheItem represents a single item in the cache with expiration
type cacheItem[V any] struct {
	Value      V
	Expiration time.Time
}

// MemoryCache is a thread-safe in-memory store with sliding TTL.
// It holds per-client state such as rate limiters, never catalog data.
type MemoryCache[V any] struct {
	data  map[string]cacheItem[V]
	mutex sync.RWMutex
	ttl   time.Duration
	now   func() time.Time
	stop  chan struct{}
	once  sync.Once
}

// NewMemoryCache creates a cache whose entries expire ttl after their last use.
// A cleanup goroutine sweeps expired entries every cleanupInterval until Close is called.
func NewMemoryCache[V any](ttl, cleanupInterval time.Duration) *MemoryCache[V] {
	cache := &MemoryCache[V]{
		data: make(map[string]cacheItem[V]),
		ttl:  ttl,
		now:  time.Now,
		stop: make(chan struct{}),
	}

	if cleanupInterval > 0 {
		go cache.cleanupExpired(cleanupInterval)
	}

	return cache
}

// GetOrCreate returns the live value for key, creating it with create on a miss
func (c *MemoryCache[V]) GetOrCreate(key string, create func() V) V {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.now()
	item, exists := c.data[key]
	if !exists || now.After(item.Expiration) {
		item = cacheItem[V]{Value: create()}
	}
	item.Expiration = now.Add(c.ttl)
	c.data[key] = item

	return item.Value
}

// cleanupExpired removes expired entries periodically
func (c *MemoryCache[V]) cleanupExpired(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.stop:
			return
		}
	}
}

func (c *MemoryCache[V]) removeExpired() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.now()
	for key, item := range c.data {
		if now.After(item.Expiration) {
			delete(c.data, key)
		}
	}
}

// Size returns the current number of items in the cache, including expired ones not yet swept
func (c *MemoryCache[V]) Size() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.data)
}

// Close stops the cleanup goroutine
func (c *MemoryCache[V]) Close() {
	c.once.Do(func() { close(c.stop) })
}
