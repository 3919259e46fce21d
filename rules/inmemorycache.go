package rules

import (
	"sync"
	"time"
)

type cacheEntry struct {
	rules    []*Rule
	cachedAt time.Time
}

// InMemoryRulesCache is a simple in-memory implementation of RulesCache.
// Thread-safe for concurrent access.
type InMemoryRulesCache struct {
	entries map[string]cacheEntry
	config  CacheConfig
	mu      sync.RWMutex
}

// NewInMemoryRulesCache creates a new in-memory rules cache.
func NewInMemoryRulesCache(config CacheConfig) *InMemoryRulesCache {
	return &InMemoryRulesCache{
		entries: make(map[string]cacheEntry),
		config:  config,
	}
}

// Get retrieves the cached rules for a product.
// Returns nil on a miss or when the entry has expired.
func (c *InMemoryRulesCache) Get(productID string) []*Rule {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[productID]
	if !ok {
		return nil
	}
	if c.config.TTL > 0 && time.Since(entry.cachedAt) > c.config.TTL {
		return nil
	}

	// Return a copy to prevent external modifications.
	out := make([]*Rule, len(entry.rules))
	copy(out, entry.rules)
	return out
}

// Set stores a product's rules.
func (c *InMemoryRulesCache) Set(productID string, rules []*Rule) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Store a copy to prevent external modifications.
	cp := make([]*Rule, len(rules))
	copy(cp, rules)
	c.entries[productID] = cacheEntry{rules: cp, cachedAt: time.Now()}
}

// Invalidate drops one product's cached rules.
func (c *InMemoryRulesCache) Invalidate(productID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, productID)
}

// InvalidateAll drops everything.
func (c *InMemoryRulesCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}
