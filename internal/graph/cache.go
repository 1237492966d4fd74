package graph

import (
	"sync"
)

// resultCacheShardCount must be a power of two; shards are picked by masking
// the low bits of the xxhash key.
const resultCacheShardCount = 64

// ResultCache memoizes terminal check outcomes for one batch. It is sharded
// by key so concurrent queries sharing sub-evaluations do not serialize on a
// single lock. Only path-independent outcomes are ever stored (see
// ResolveCheckResponseMetadata), which is what makes sharing it across the
// queries of a batch sound.
type ResultCache struct {
	shards [resultCacheShardCount]resultCacheShard
}

type resultCacheShard struct {
	mu      sync.RWMutex
	entries map[uint64]bool
}

// NewResultCache returns an empty cache ready for one batch.
func NewResultCache() *ResultCache {
	c := &ResultCache{}
	for i := range c.shards {
		c.shards[i].entries = make(map[uint64]bool)
	}
	return c
}

func (c *ResultCache) shard(key uint64) *resultCacheShard {
	return &c.shards[key&(resultCacheShardCount-1)]
}

// Get returns the memoized outcome for the key, if present.
func (c *ResultCache) Get(key uint64) (bool, bool) {
	s := c.shard(key)
	s.mu.RLock()
	allowed, ok := s.entries[key]
	s.mu.RUnlock()
	return allowed, ok
}

// Set memoizes the outcome for the key.
func (c *ResultCache) Set(key uint64, allowed bool) {
	s := c.shard(key)
	s.mu.Lock()
	s.entries[key] = allowed
	s.mu.Unlock()
}

// Len returns the number of memoized outcomes across all shards.
func (c *ResultCache) Len() int {
	var n int
	for i := range c.shards {
		c.shards[i].mu.RLock()
		n += len(c.shards[i].entries)
		c.shards[i].mu.RUnlock()
	}
	return n
}
