// SPDX-License-Identifier: MIT

// Package cache provides a read cache for registry records with TTL support.
package cache

import (
	"sync"
	"time"

	"github.com/kundajelab/cultivator/internal/registry"
)

// Cache provides thread-safe caching of registry records.
type Cache interface {
	// Get retrieves a record. Returns false if not found or expired.
	Get(key string) (*registry.Record, bool)
	// Set stores a record with the specified TTL.
	Set(key string, rec *registry.Record, ttl time.Duration)
	// Invalidate removes a record.
	Invalidate(key string)
	// Clear removes all records.
	Clear()
	// Stats returns cache statistics.
	Stats() Stats
}

// Stats holds cache performance counters.
type Stats struct {
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Sets        int64 `json:"sets"`
	Evictions   int64 `json:"evictions"`
	CurrentSize int   `json:"currentSize"`
}

// Key builds the cache key for one release.
func Key(name, version string) string {
	return name + ":" + version
}

type entry struct {
	rec        *registry.Record
	expiration time.Time
}

func (e *entry) isExpired() bool {
	return time.Now().After(e.expiration)
}

// memoryCache is an in-memory implementation of Cache.
type memoryCache struct {
	mu      sync.RWMutex
	entries map[string]*entry
	stats   Stats
	janitor *janitor
}

// NewMemoryCache creates an in-memory cache with automatic cleanup.
// cleanupInterval <= 0 disables the cleanup goroutine.
func NewMemoryCache(cleanupInterval time.Duration) Cache {
	c := &memoryCache{entries: make(map[string]*entry)}
	if cleanupInterval > 0 {
		c.janitor = &janitor{
			interval: cleanupInterval,
			stop:     make(chan struct{}),
		}
		go c.janitor.run(c)
	}
	return c
}

func (c *memoryCache) Get(key string) (*registry.Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, found := c.entries[key]
	if !found || e.isExpired() {
		c.stats.Misses++
		return nil, false
	}
	c.stats.Hits++
	out := *e.rec
	return &out, true
}

func (c *memoryCache) Set(key string, rec *registry.Record, ttl time.Duration) {
	stored := *rec
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &entry{
		rec:        &stored,
		expiration: time.Now().Add(ttl),
	}
	c.stats.Sets++
}

func (c *memoryCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *memoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
}

func (c *memoryCache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	stats := c.stats
	stats.CurrentSize = len(c.entries)
	return stats
}

func (c *memoryCache) deleteExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := 0
	for key, e := range c.entries {
		if e.isExpired() {
			delete(c.entries, key)
			count++
		}
	}
	c.stats.Evictions += int64(count)
	return count
}

// Stop stops the background cleanup goroutine.
func (c *memoryCache) Stop() {
	if c.janitor != nil {
		c.janitor.stop <- struct{}{}
	}
}

type janitor struct {
	interval time.Duration
	stop     chan struct{}
}

func (j *janitor) run(c *memoryCache) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.deleteExpired()
		case <-j.stop:
			return
		}
	}
}

// noOpCache disables caching.
type noOpCache struct{}

// NewNoOpCache creates a cache that doesn't cache anything.
func NewNoOpCache() Cache { return &noOpCache{} }

func (c *noOpCache) Get(string) (*registry.Record, bool)         { return nil, false }
func (c *noOpCache) Set(string, *registry.Record, time.Duration) {}
func (c *noOpCache) Invalidate(string)                           {}
func (c *noOpCache) Clear()                                      {}
func (c *noOpCache) Stats() Stats                                { return Stats{} }
