// Package cache implements the in-memory key -> CachedArtifact map with
// single-flight fill coalescing and Refresh Bus-driven invalidation.
package cache

import (
	"net/http"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/relaycache/relaycache/pkg/pattern"
	"github.com/relaycache/relaycache/pkg/refreshbus"
)

// Artifact is an immutable captured origin response. Once returned from
// GetOrFill it must not be mutated by callers; Header and Body are
// shared by reference among concurrent readers.
type Artifact struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// FillFunc contacts the backend and produces the artifact for a missing
// key. It is invoked at most once concurrently per key, regardless of
// how many callers are waiting on that key.
type FillFunc func() (Artifact, error)

// Cache is a concurrent key -> Artifact map. At most one fill is ever
// in flight per key; concurrent GetOrFill calls for the same missing
// key coalesce into a single FillFunc invocation via singleflight. It
// subscribes to a Bus for wholesale and pattern-based invalidation.
//
// The zero value is not usable; construct with New.
type Cache struct {
	mu          sync.RWMutex
	entries     map[string]Artifact
	group       singleflight.Group
	unsubscribe func()
}

// New creates a Cache subscribed to bus for invalidation commands.
func New(bus *refreshbus.Bus) *Cache {
	c := &Cache{entries: make(map[string]Artifact)}
	ch, unsubscribe := bus.Subscribe()
	c.unsubscribe = unsubscribe
	go c.listen(ch)
	return c
}

// Close stops listening for refresh commands. It does not clear the
// cache.
func (c *Cache) Close() {
	c.unsubscribe()
}

// GetOrFill returns the Ready artifact for key, or fills it by calling
// fill exactly once even if many goroutines call GetOrFill for the same
// missing key concurrently. On fill failure the slot is left absent so
// the next request retries cleanly; the error is returned to every
// caller that was waiting on this fill.
func (c *Cache) GetOrFill(key string, fill FillFunc) (Artifact, error) {
	if a, ok := c.lookup(key); ok {
		return a, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		// Another fill for this key may have completed and published
		// Ready between our lookup above and acquiring the singleflight
		// slot; recheck before contacting the backend again.
		if a, ok := c.lookup(key); ok {
			return a, nil
		}
		artifact, err := fill()
		if err != nil {
			return Artifact{}, err
		}
		c.publish(key, artifact)
		return artifact, nil
	})
	if err != nil {
		return Artifact{}, err
	}
	return v.(Artifact), nil
}

func (c *Cache) lookup(key string) (Artifact, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.entries[key]
	return a, ok
}

func (c *Cache) publish(key string, a Artifact) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = a
}

func (c *Cache) listen(ch <-chan refreshbus.Command) {
	for cmd := range ch {
		switch cmd.Kind {
		case refreshbus.ClearAll, refreshbus.Lagged:
			c.clearAll()
		case refreshbus.ClearMatching:
			c.clearMatching(cmd.Pattern)
		}
	}
}

func (c *Cache) clearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]Artifact)
}

func (c *Cache) clearMatching(p string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if pattern.Match(key, p) {
			delete(c.entries, key)
		}
	}
}
