package settings

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultTTL is how long a cached settings entry stays fresh.
const DefaultTTL = 5 * time.Minute

type entry struct {
	data      Settings
	expiresAt time.Time
}

// Cache is a process-wide TTL cache over a settings Provider. Safe for
// concurrent use; two goroutines missing the same key may both fetch and
// overwrite, which is fine because fetches are idempotent reads of the
// same row (last write wins).
type Cache struct {
	provider Provider
	ttl      time.Duration
	logger   *slog.Logger

	mu      sync.RWMutex
	entries map[string]entry

	now func() time.Time
}

// NewCache creates a settings cache with the given TTL. A non-positive
// ttl falls back to DefaultTTL.
func NewCache(provider Provider, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		provider: provider,
		ttl:      ttl,
		logger:   logger,
		entries:  make(map[string]entry),
		now:      time.Now,
	}
}

// Get returns the workspace's settings, fetching and caching on a miss or
// an expired entry.
func (c *Cache) Get(ctx context.Context, workspaceID string) (Settings, error) {
	c.mu.RLock()
	e, ok := c.entries[workspaceID]
	c.mu.RUnlock()

	if ok && c.now().Before(e.expiresAt) {
		return e.data, nil
	}

	data, err := c.provider.GetSettings(ctx, workspaceID)
	if err != nil {
		return Settings{}, err
	}

	c.mu.Lock()
	c.entries[workspaceID] = entry{data: data, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()

	return data, nil
}

// Preload warms the cache for every workspace in the list, fetching all
// misses concurrently before the run's hot path starts. Entries that are
// still fresh are skipped. Individual fetch failures are logged and left
// as misses; Get will retry them synchronously.
func (c *Cache) Preload(ctx context.Context, workspaceIDs []string) {
	var misses []string
	c.mu.RLock()
	for _, id := range workspaceIDs {
		if e, ok := c.entries[id]; !ok || !c.now().Before(e.expiresAt) {
			misses = append(misses, id)
		}
	}
	c.mu.RUnlock()

	if len(misses) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, id := range misses {
		wg.Add(1)
		go func(workspaceID string) {
			defer wg.Done()
			if _, err := c.Get(ctx, workspaceID); err != nil {
				c.logger.Warn("Failed to preload workspace settings",
					slog.String("workspace_id", workspaceID),
					slog.String("error", err.Error()),
				)
			}
		}(id)
	}
	wg.Wait()

	c.logger.Debug("Settings cache preloaded",
		slog.Int("requested", len(workspaceIDs)),
		slog.Int("fetched", len(misses)),
	)
}

// Invalidate drops one workspace's entry.
func (c *Cache) Invalidate(workspaceID string) {
	c.mu.Lock()
	delete(c.entries, workspaceID)
	c.mu.Unlock()
}

// InvalidateAll drops every entry.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.mu.Unlock()
}

// Cleanup drops expired entries and returns how many were removed. Meant
// to be invoked periodically by the scheduler service.
func (c *Cache) Cleanup() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for id, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, id)
			removed++
		}
	}

	return removed
}

// Len reports the number of cached entries, fresh or expired.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
