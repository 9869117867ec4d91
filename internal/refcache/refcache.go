// Synadmin - Homeserver Administration Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/synadmin

// Package refcache memoizes reference-list collections that the upstream
// returns in full regardless of paging parameters. Pages are sliced
// locally from the cached array; entries never expire by time and are only
// removed when a mutation invalidates them.
package refcache

import (
	"strings"
	"sync"

	"github.com/tomtom215/synadmin/internal/metrics"
	"github.com/tomtom215/synadmin/internal/registry"
)

// entry holds one fully-fetched reference collection.
type entry struct {
	data  []registry.UIRecord
	total int
}

// Stats tracks cache performance counters.
type Stats struct {
	Hits          int64
	Misses        int64
	Invalidations int64
}

// Cache is a thread-safe store of fully-fetched reference collections,
// keyed by the reference endpoint path.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	stats   Stats

	// disabled short-circuits all operations (cache.enabled=false).
	disabled bool
}

// New creates an empty reference cache.
func New(enabled bool) *Cache {
	return &Cache{
		entries:  make(map[string]entry),
		disabled: !enabled,
	}
}

// Get returns the local page [offset, offset+limit) of a cached collection
// and its total. ok is false on a miss; the caller then fetches upstream.
func (c *Cache) Get(key string, offset, limit int) (data []registry.UIRecord, total int, ok bool) {
	if c.disabled {
		return nil, 0, false
	}

	c.mu.RLock()
	e, exists := c.entries[key]
	c.mu.RUnlock()

	if !exists {
		c.miss()
		return nil, 0, false
	}

	c.hit()
	return slicePage(e.data, offset, limit), e.total, true
}

// Put stores a collection only when the response already contained
// everything (observed length >= declared total). Partial responses are
// never cached: that resource genuinely paginates upstream and every page
// must hit the server.
func (c *Cache) Put(key string, data []registry.UIRecord, total int) {
	if c.disabled || len(data) < total {
		return
	}

	c.mu.Lock()
	c.entries[key] = entry{data: data, total: total}
	c.mu.Unlock()
}

// Invalidate removes every entry whose key contains the pattern. Called by
// the lifecycle orchestrator after mutations that could have changed a
// referenced collection.
func (c *Cache) Invalidate(pattern string) {
	if c.disabled {
		return
	}

	c.mu.Lock()
	for key := range c.entries {
		if strings.Contains(key, pattern) {
			delete(c.entries, key)
			c.stats.Invalidations++
			metrics.RefCacheInvalidations.Inc()
		}
	}
	c.mu.Unlock()
}

// Len returns the number of cached collections.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// GetStats returns a snapshot of the cache counters.
func (c *Cache) GetStats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

func (c *Cache) hit() {
	c.mu.Lock()
	c.stats.Hits++
	c.mu.Unlock()
	metrics.RefCacheHits.Inc()
}

func (c *Cache) miss() {
	c.mu.Lock()
	c.stats.Misses++
	c.mu.Unlock()
	metrics.RefCacheMisses.Inc()
}

// slicePage clamps [offset, offset+limit) to the collection bounds.
func slicePage(data []registry.UIRecord, offset, limit int) []registry.UIRecord {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(data) {
		return []registry.UIRecord{}
	}
	end := len(data)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return data[offset:end]
}
