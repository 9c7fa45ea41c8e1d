package molecule

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// DefaultCacheMaxEntries is the size above which callers clear the cache.
const DefaultCacheMaxEntries = 5000

// CacheStats is a point-in-time view of cache activity.
type CacheStats struct {
	Entries int
	Hits    int64
	Misses  int64
	Clears  int64
}

// FingerprintCache memoises fingerprint vectors keyed by the exact structure
// string. It never evicts on its own; callers invoke ClearIfExceeds at
// points where dropping everything is cheap (after a preprocessing chunk,
// after a request). Concurrent misses on the same key compute once.
type FingerprintCache struct {
	mu         sync.RWMutex
	entries    map[string]Vector
	maxEntries int
	group      singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
	clears atomic.Int64
}

// NewFingerprintCache creates a cache whose clear threshold is maxEntries.
// Non-positive values select DefaultCacheMaxEntries.
func NewFingerprintCache(maxEntries int) *FingerprintCache {
	if maxEntries <= 0 {
		maxEntries = DefaultCacheMaxEntries
	}
	return &FingerprintCache{
		entries:    make(map[string]Vector),
		maxEntries: maxEntries,
	}
}

// Get returns the cached vector for smiles.
func (c *FingerprintCache) Get(smiles string) (Vector, bool) {
	c.mu.RLock()
	v, ok := c.entries[smiles]
	c.mu.RUnlock()
	return v, ok
}

// Put stores v under smiles.
func (c *FingerprintCache) Put(smiles string, v Vector) {
	c.mu.Lock()
	c.entries[smiles] = v
	c.mu.Unlock()
}

// GetOrCompute returns the cached vector or computes, stores and returns it.
// Failed computations are not cached.
func (c *FingerprintCache) GetOrCompute(smiles string, compute func(string) (Vector, error)) (Vector, error) {
	if v, ok := c.Get(smiles); ok {
		c.hits.Add(1)
		return v, nil
	}
	c.misses.Add(1)
	res, err, _ := c.group.Do(smiles, func() (interface{}, error) {
		if v, ok := c.Get(smiles); ok {
			return v, nil
		}
		v, err := compute(smiles)
		if err != nil {
			return nil, err
		}
		c.Put(smiles, v)
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(Vector), nil
}

// Len returns the number of cached entries.
func (c *FingerprintCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// MaxEntries returns the clear threshold.
func (c *FingerprintCache) MaxEntries() int { return c.maxEntries }

// Clear drops every entry.
func (c *FingerprintCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]Vector)
	c.mu.Unlock()
	c.clears.Add(1)
}

// ClearIfExceeds drops every entry when the cache holds more than
// MaxEntries and reports the number of entries dropped.
func (c *FingerprintCache) ClearIfExceeds() int {
	c.mu.Lock()
	n := len(c.entries)
	if n <= c.maxEntries {
		c.mu.Unlock()
		return 0
	}
	c.entries = make(map[string]Vector)
	c.mu.Unlock()
	c.clears.Add(1)
	return n
}

// Stats returns a snapshot of cache counters.
func (c *FingerprintCache) Stats() CacheStats {
	return CacheStats{
		Entries: c.Len(),
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Clears:  c.clears.Load(),
	}
}
