package storage

import (
	"sort"
	"sync"
)

// SplitsCache holds flag definitions keyed by name
type SplitsCache struct {
	mu           sync.RWMutex
	splits       map[string]Split
	changeNumber int64
}

func NewSplitsCache() *SplitsCache {
	return &SplitsCache{
		splits:       make(map[string]Split),
		changeNumber: NoChangeNumber,
	}
}

// Apply upserts active definitions, removes archived ones and advances the
// change number to change.Till. It returns the number of definitions
// touched.
func (c *SplitsCache) Apply(change SplitChange) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	touched := 0
	for _, s := range change.Splits {
		if s.Status == StatusArchived {
			if _, ok := c.splits[s.Name]; ok {
				delete(c.splits, s.Name)
				touched++
			}
			continue
		}
		c.splits[s.Name] = s
		touched++
	}

	if change.Till > c.changeNumber {
		c.changeNumber = change.Till
	}
	return touched
}

// Kill marks a definition as killed with the given default treatment. It is
// a no-op when the flag is unknown or already at or past changeNumber.
func (c *SplitsCache) Kill(name, defaultTreatment string, changeNumber int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.splits[name]
	if !ok || s.ChangeNumber >= changeNumber {
		return false
	}

	s.Killed = true
	s.DefaultTreatment = defaultTreatment
	s.ChangeNumber = changeNumber
	c.splits[name] = s
	return true
}

func (c *SplitsCache) Get(name string) (Split, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.splits[name]
	return s, ok
}

// All returns every definition sorted by name
func (c *SplitsCache) All() []Split {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Split, 0, len(c.splits))
	for _, s := range c.splits {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (c *SplitsCache) ChangeNumber() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.changeNumber
}

func (c *SplitsCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.splits)
}
