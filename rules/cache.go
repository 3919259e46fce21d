package rules

import "time"

// RulesCache caches a product's rule set between evaluations, saving a
// store round trip on every availability query. Implementations may be
// in-memory, Redis, or anything else.
type RulesCache interface {
	// Get retrieves the cached rules for a product, nil on miss or expiry.
	Get(productID string) []*Rule

	// Set stores a product's rules.
	Set(productID string, rules []*Rule)

	// Invalidate drops one product's cached rules.
	Invalidate(productID string)

	// InvalidateAll drops everything, forcing refreshes on next Get.
	InvalidateAll()
}

// CacheConfig holds configuration for cache behavior.
type CacheConfig struct {
	// TTL is the time-to-live for cached entries.
	// Set to 0 for no expiration (manual invalidation only).
	TTL time.Duration
}

// DefaultCacheConfig returns sensible defaults for rule caching.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL: 0, // no TTL, invalidate on mutation
	}
}
