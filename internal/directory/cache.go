// Package directory caches forum thread listings for downstream callers.
// The sync engine never reads through it (repair needs fresh listings); the
// coordinator invalidates it after every successful run.
package directory

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/DiscoClaw/discoclaw/internal/engine"
)

// Cache memoizes active and archived thread listings. Concurrent misses for
// the same listing are collapsed into a single host fetch.
type Cache struct {
	ops          engine.ThreadOps
	containerRef string

	sf singleflight.Group

	mu            sync.RWMutex
	active        map[string]engine.ThreadInfo
	archived      map[string]engine.ThreadInfo
	activeValid   bool
	archivedValid bool
}

// NewCache creates a cache over the container named or identified by
// containerRef.
func NewCache(ops engine.ThreadOps, containerRef string) *Cache {
	return &Cache{ops: ops, containerRef: containerRef}
}

// Active returns the active-thread listing, fetching it at most once per
// invalidation window.
func (c *Cache) Active(ctx context.Context) (map[string]engine.ThreadInfo, error) {
	return c.listing(ctx, "active", &c.active, &c.activeValid, c.ops.ActiveThreads)
}

// Archived returns the archived-thread listing, fetching it at most once per
// invalidation window.
func (c *Cache) Archived(ctx context.Context) (map[string]engine.ThreadInfo, error) {
	return c.listing(ctx, "archived", &c.archived, &c.archivedValid, c.ops.ArchivedThreads)
}

type fetchFunc func(ctx context.Context, container *engine.Container) (map[string]engine.ThreadInfo, error)

func (c *Cache) listing(ctx context.Context, key string, slot *map[string]engine.ThreadInfo, valid *bool, fetch fetchFunc) (map[string]engine.ThreadInfo, error) {
	c.mu.RLock()
	if *valid {
		defer c.mu.RUnlock()
		return copyThreads(*slot), nil
	}
	c.mu.RUnlock()

	v, err, _ := c.sf.Do(key, func() (any, error) {
		c.mu.RLock()
		if *valid {
			cached := copyThreads(*slot)
			c.mu.RUnlock()
			return cached, nil
		}
		c.mu.RUnlock()

		container, err := c.ops.ResolveContainer(ctx, c.containerRef)
		if err != nil {
			return nil, err
		}
		if container == nil {
			return nil, fmt.Errorf("container %q not found", c.containerRef)
		}

		threads, err := fetch(ctx, container)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		*slot = threads
		*valid = true
		c.mu.Unlock()
		return copyThreads(threads), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]engine.ThreadInfo), nil
}

// Invalidate drops both listings. The next read fetches fresh data.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.activeValid = false
	c.archivedValid = false
	c.active = nil
	c.archived = nil
	c.mu.Unlock()
}

func copyThreads(m map[string]engine.ThreadInfo) map[string]engine.ThreadInfo {
	out := make(map[string]engine.ThreadInfo, len(m))
	for id, ti := range m {
		out[id] = ti
	}
	return out
}
