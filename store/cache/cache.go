// Package cache provides a small in-memory TTL cache used by the store.
package cache

import (
	"sync"
	"time"
)

// Config holds the cache configuration.
type Config struct {
	DefaultTTL      time.Duration
	CleanupInterval time.Duration
	MaxItems        int
	OnEviction      func(key string, value any)
}

type item struct {
	value     any
	expiresAt time.Time
}

// Cache is a thread-safe in-memory cache with per-item TTL and a background
// cleanup goroutine.
type Cache struct {
	config Config
	mu     sync.RWMutex
	items  map[string]item
	done   chan struct{}
	once   sync.Once
}

// New creates a new cache and starts its cleanup loop.
func New(config Config) *Cache {
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = 10 * time.Minute
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	if config.MaxItems <= 0 {
		config.MaxItems = 1000
	}

	c := &Cache{
		config: config,
		items:  make(map[string]item),
		done:   make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

// Get retrieves a value from the cache.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	it, ok := c.items[key]
	c.mu.RUnlock()
	if !ok || time.Now().After(it.expiresAt) {
		return nil, false
	}
	return it.value, true
}

// Set stores a value with the default TTL.
func (c *Cache) Set(key string, value any) {
	c.SetWithTTL(key, value, c.config.DefaultTTL)
}

// SetWithTTL stores a value with an explicit TTL.
func (c *Cache) SetWithTTL(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.config.DefaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Evict an arbitrary expired-or-oldest entry when full. The cache is
	// small and advisory, exact LRU ordering is not needed here.
	if _, exists := c.items[key]; !exists && len(c.items) >= c.config.MaxItems {
		c.evictOneLocked()
	}
	c.items[key] = item{value: value, expiresAt: time.Now().Add(ttl)}
}

// Delete removes a key from the cache.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Close stops the cleanup goroutine.
func (c *Cache) Close() {
	c.once.Do(func() { close(c.done) })
}

func (c *Cache) evictOneLocked() {
	now := time.Now()
	var oldestKey string
	var oldestExpiry time.Time
	for k, it := range c.items {
		if now.After(it.expiresAt) {
			c.evictLocked(k)
			return
		}
		if oldestKey == "" || it.expiresAt.Before(oldestExpiry) {
			oldestKey, oldestExpiry = k, it.expiresAt
		}
	}
	if oldestKey != "" {
		c.evictLocked(oldestKey)
	}
}

func (c *Cache) evictLocked(key string) {
	it := c.items[key]
	delete(c.items, key)
	if c.config.OnEviction != nil {
		c.config.OnEviction(key, it.value)
	}
}

func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for k, it := range c.items {
				if now.After(it.expiresAt) {
					c.evictLocked(k)
				}
			}
			c.mu.Unlock()
		case <-c.done:
			return
		}
	}
}
