package market

import (
	"sort"
	"sync"
	"time"
)

// Cache holds market snapshots by slug for a fixed TTL so that repeated
// evaluations do not refetch metadata that rarely changes.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
	now     func() time.Time
}

type cacheEntry struct {
	snap      *Snapshot // nil records a market known to be missing
	fetchedAt time.Time
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the cached snapshot and whether a fresh entry exists. A fresh
// entry may hold nil for a slug the upstream does not know.
func (c *Cache) Get(slug string) (*Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[slug]
	if !ok || c.now().Sub(e.fetchedAt) > c.ttl {
		return nil, false
	}
	return e.snap, true
}

func (c *Cache) Set(slug string, s *Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[slug] = cacheEntry{snap: s, fetchedAt: c.now()}
}

func (c *Cache) SetAll(snaps map[string]*Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for slug, s := range snaps {
		c.entries[slug] = cacheEntry{snap: s, fetchedAt: now}
	}
}

// Missing splits slugs into cached snapshots and slugs that need a fetch.
func (c *Cache) Missing(slugs []string) (map[string]*Snapshot, []string) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	hit := make(map[string]*Snapshot)
	var miss []string
	for _, slug := range slugs {
		e, ok := c.entries[slug]
		if !ok || now.Sub(e.fetchedAt) > c.ttl {
			miss = append(miss, slug)
			continue
		}
		if e.snap != nil {
			hit[slug] = e.snap
		}
	}
	return hit, miss
}

// All returns every fresh, non-nil snapshot ordered by slug.
func (c *Cache) All() []Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	result := make([]Snapshot, 0, len(c.entries))
	for _, e := range c.entries {
		if e.snap != nil && now.Sub(e.fetchedAt) <= c.ttl {
			result = append(result, *e.snap)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Slug < result[j].Slug })
	return result
}

// Prune drops expired entries.
func (c *Cache) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	n := 0
	for slug, e := range c.entries {
		if now.Sub(e.fetchedAt) > c.ttl {
			delete(c.entries, slug)
			n++
		}
	}
	return n
}
