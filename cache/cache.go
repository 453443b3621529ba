package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value V
	// expires is zero for entries that never expire.
	expires  time.Time
	storedAt time.Time
}

func (e entry[V]) expiredAt(now time.Time) bool {
	return !e.expires.IsZero() && now.After(e.expires)
}

// Cache is an in-memory TTL map. Once MaxEntries is reached the entry
// stored first is evicted. A janitor goroutine purges expired entries until
// Stop is called.
type Cache[V any] struct {
	mu         sync.RWMutex
	entries    map[string]entry[V]
	maxEntries int
	now        func() time.Time

	done     chan struct{}
	stopOnce sync.Once
}

// New creates a cache and starts its janitor.
func New[V any](config Config) *Cache[V] {
	c := &Cache[V]{
		entries:    make(map[string]entry[V]),
		maxEntries: config.MaxEntries,
		now:        time.Now,
		done:       make(chan struct{}),
	}
	interval := config.CleanupInterval
	if interval <= 0 {
		interval = time.Minute
	}
	go c.janitor(interval)
	return c
}

// Set stores value under key for ttl. A non-positive ttl never expires.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	e := entry[V]{value: value, storedAt: now}
	if ttl > 0 {
		e.expires = now.Add(ttl)
	}
	c.entries[key] = e
	if c.maxEntries > 0 && len(c.entries) > c.maxEntries {
		c.evictOldestLocked()
	}
}

func (c *Cache[V]) evictOldestLocked() {
	var victim string
	var oldest time.Time
	for key, e := range c.entries {
		if victim == "" || e.storedAt.Before(oldest) {
			victim, oldest = key, e.storedAt
		}
	}
	delete(c.entries, victim)
}

// Get returns the value for key unless it is missing or expired.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || e.expiredAt(c.now()) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Delete removes key.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len counts stored entries, expired or not.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear drops every entry.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]entry[V])
	c.mu.Unlock()
}

// Stop ends the janitor. Safe to call more than once.
func (c *Cache[V]) Stop() {
	c.stopOnce.Do(func() { close(c.done) })
}

func (c *Cache[V]) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.deleteExpired()
		case <-c.done:
			return
		}
	}
}

func (c *Cache[V]) deleteExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, e := range c.entries {
		if e.expiredAt(now) {
			delete(c.entries, key)
		}
	}
}
