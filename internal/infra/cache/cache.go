// Package cache provides a simple in-memory TTL cache with a bounded
// capacity. In production, this could be backed by Redis.
package cache

import (
	"sync"
	"time"
)

type entry[T any] struct {
	value     T
	expiresAt time.Time
}

// InMemory is a thread-safe in-memory cache with TTL and a capacity bound.
// When an insert pushes the table over capacity, the oldest-inserted entry
// is evicted (insertion order, not access order). Expired entries are
// treated as absent on read and swept periodically.
type InMemory[T any] struct {
	mu       sync.RWMutex
	items    map[string]entry[T]
	order    []string // insertion order, for eviction
	ttl      time.Duration
	capacity int
}

// New creates a new in-memory cache with the given TTL and capacity.
// capacity <= 0 means unbounded.
func New[T any](ttl time.Duration, capacity int) *InMemory[T] {
	c := &InMemory[T]{
		items:    make(map[string]entry[T]),
		ttl:      ttl,
		capacity: capacity,
	}
	// Background cleanup goroutine
	go c.cleanup()
	return c
}

// Get retrieves a value from the cache. Returns false if not found or expired.
func (c *InMemory[T]) Get(key string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.items[key]
	if !ok || time.Now().After(e.expiresAt) {
		var zero T
		return zero, false
	}
	return e.value, true
}

// Set stores a value with the configured TTL, evicting the oldest-inserted
// entry if the table grows past capacity.
func (c *InMemory[T]) Set(key string, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items[key]; !exists {
		c.order = append(c.order, key)
	}
	c.items[key] = entry[T]{
		value:     value,
		expiresAt: time.Now().Add(c.ttl),
	}

	for c.capacity > 0 && len(c.items) > c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.items, oldest)
	}
}

// Delete removes a value from the cache.
func (c *InMemory[T]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.items, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Len returns the number of live entries (expired ones may still count
// until the next sweep).
func (c *InMemory[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// cleanup periodically removes expired entries.
func (c *InMemory[T]) cleanup() {
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		now := time.Now()
		for k, v := range c.items {
			if now.After(v.expiresAt) {
				delete(c.items, k)
			}
		}
		live := c.order[:0]
		for _, k := range c.order {
			if _, ok := c.items[k]; ok {
				live = append(live, k)
			}
		}
		c.order = live
		c.mu.Unlock()
	}
}
