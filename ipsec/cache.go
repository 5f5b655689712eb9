package ipsec

import (
	"sync"

	"github.com/rcrowley/go-metrics"
)

type cacheEntry struct {
	data    []byte
	id      int
	valid   bool
	visited bool
}

// KeyCache holds key material per session id. Replacement is the clock
// (second chance) algorithm.
type KeyCache struct {
	mu      sync.Mutex
	entries []cacheEntry
	clock   int

	misses metrics.Counter
}

// NewKeyCache returns a cache of n entries of up to size bytes each.
func NewKeyCache(n, size int, misses metrics.Counter) *KeyCache {
	if misses == nil {
		misses = metrics.NilCounter{}
	}

	c := &KeyCache{
		entries: make([]cacheEntry, n),
		misses:  misses,
	}
	for i := range c.entries {
		c.entries[i].data = make([]byte, size)
	}
	return c
}

// Get returns n bytes of id's key. On a miss fill is called to load the key
// into the replaced entry.
func (c *KeyCache) Get(id, n int, fill func(buf []byte) error) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.entries {
		e := &c.entries[i]
		if e.valid && e.id == id {
			e.visited = true
			return append([]byte(nil), e.data[:n]...), nil
		}
	}

	c.misses.Inc(1)

	i := c.victim()
	e := &c.entries[i]
	if err := fill(e.data[:n]); err != nil {
		e.valid = false
		e.visited = false
		return nil, err
	}

	e.id = id
	e.valid = true
	e.visited = true

	return append([]byte(nil), e.data[:n]...), nil
}

// victim returns the first free entry, or else sweeps the clock hand
// clearing visited bits until it finds an entry that was not visited.
func (c *KeyCache) victim() int {
	for i := range c.entries {
		if !c.entries[i].valid {
			return i
		}
	}

	for {
		i := c.clock
		c.clock = (c.clock + 1) % len(c.entries)

		e := &c.entries[i]
		if !e.visited {
			return i
		}
		e.visited = false
	}
}

// Invalidate drops id's entry.
func (c *KeyCache) Invalidate(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.entries {
		e := &c.entries[i]
		if e.valid && e.id == id {
			e.valid = false
			e.visited = false
			break
		}
	}
}
