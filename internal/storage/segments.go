package storage

import (
	"sort"
	"sync"
)

// MySegmentsCache holds the segment names the configured user key belongs to
type MySegmentsCache struct {
	mu       sync.RWMutex
	segments map[string]struct{}
}

func NewMySegmentsCache() *MySegmentsCache {
	return &MySegmentsCache{segments: make(map[string]struct{})}
}

// Set replaces the whole membership list. A nil list empties the cache.
func (c *MySegmentsCache) Set(names []string) {
	segments := make(map[string]struct{}, len(names))
	for _, n := range names {
		segments[n] = struct{}{}
	}

	c.mu.Lock()
	c.segments = segments
	c.mu.Unlock()
}

// All returns the segment names sorted
func (c *MySegmentsCache) All() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.segments))
	for n := range c.segments {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (c *MySegmentsCache) Contains(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.segments[name]
	return ok
}

func (c *MySegmentsCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.segments)
}
