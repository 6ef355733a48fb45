package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Cache is a time-bounded snapshot cache over the rule store. It shields
// the scorer from a store round-trip per event; explicit invalidation makes
// rule edits visible before the TTL elapses.
//
// The snapshot is replaced wholesale on refresh, never partially updated.
type Cache struct {
	store Store
	ttl   time.Duration

	mu        sync.Mutex
	snapshot  []Rule
	fetchedAt time.Time
	valid     bool
}

// DefaultCacheTTL bounds snapshot staleness when no TTL is configured.
const DefaultCacheTTL = 60 * time.Second

// NewCache creates a rule cache over the given store.
func NewCache(store Store, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{store: store, ttl: ttl}
}

// Rules returns a snapshot no older than the configured TTL, reloading
// synchronously from the store on expiry or cold start. A store failure on
// refresh propagates to the caller: an un-scored event is safer than one
// scored against missing data, so stale data is never served knowingly.
func (c *Cache) Rules(ctx context.Context) ([]Rule, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.valid && time.Since(c.fetchedAt) < c.ttl {
		return c.snapshot, nil
	}

	rules, err := c.store.ListRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh rule cache: %w", err)
	}

	c.snapshot = rules
	c.fetchedAt = time.Now()
	c.valid = true

	slog.Debug("rule cache refreshed", "rules", len(rules))
	return c.snapshot, nil
}

// Invalidate forces the next Rules call to reload regardless of age.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.mu.Unlock()

	slog.Debug("rule cache invalidated")
}

// Age returns how old the current snapshot is, and false when the cache
// is cold or invalidated.
func (c *Cache) Age() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.valid {
		return 0, false
	}
	return time.Since(c.fetchedAt), true
}
