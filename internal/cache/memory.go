// Package cache holds the process-wide data caches: a short-TTL in-memory
// stats cache and the on-disk historical series store.
package cache

import (
	"sync"
	"time"

	"candleflow/models"
)

// StatsCache is a mutex-guarded TTL cache of per-symbol stats. Entries older
// than the TTL are treated as absent; a non-positive TTL disables caching.
type StatsCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]statsEntry
}

type statsEntry struct {
	at    time.Time
	stats models.SymbolStats
}

func NewStatsCache(ttl time.Duration) *StatsCache {
	return &StatsCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]statsEntry),
	}
}

// Get returns the cached stats for symbol when present and younger than the
// TTL.
func (c *StatsCache) Get(symbol string) (models.SymbolStats, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[symbol]
	if !ok || c.now().Sub(e.at) >= c.ttl {
		return models.SymbolStats{}, false
	}
	return e.stats, true
}

// Put stores stats for symbol, stamping the insertion time.
func (c *StatsCache) Put(symbol string, stats models.SymbolStats) {
	c.mu.Lock()
	c.entries[symbol] = statsEntry{at: c.now(), stats: stats}
	c.mu.Unlock()
}

// Len reports the number of entries, fresh or stale.
func (c *StatsCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
