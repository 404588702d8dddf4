package rpcservice

import (
	"encoding/json"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type cacheEntry struct {
	result     json.RawMessage
	insertedAt time.Time
}

// resultCache is the bounded per-chain store of recent request results,
// keyed by canonical signature. It is split into two LRU segments:
//
//   - finalized holds entries keyed on immutable data (explicit block
//     hashes); they live until evicted by capacity pressure.
//   - volatile holds best-block-relative entries; the whole segment is
//     purged whenever the chain's best block advances, so a hit is never
//     served for provably stale data.
//
// Every purge bumps the volatile epoch. A volatile put carries the epoch
// observed before its upstream call; if the epoch moved on, the result
// predates an invalidation and is discarded instead of inserted.
type resultCache struct {
	finalized *lru.Cache[Signature, cacheEntry]
	now       func() time.Time

	mu       sync.Mutex
	epoch    uint64
	volatile *lru.Cache[Signature, cacheEntry]
}

func newResultCache(capacity int, now func() time.Time) (*resultCache, error) {
	finalized, err := lru.New[Signature, cacheEntry](capacity)
	if err != nil {
		return nil, err
	}
	volatile, err := lru.New[Signature, cacheEntry](capacity)
	if err != nil {
		return nil, err
	}
	return &resultCache{finalized: finalized, volatile: volatile, now: now}, nil
}

func (c *resultCache) get(sig Signature) (json.RawMessage, bool) {
	if entry, ok := c.finalized.Get(sig); ok {
		return entry.result, true
	}
	if entry, ok := c.volatile.Get(sig); ok {
		return entry.result, true
	}
	return nil, false
}

// bestEpoch returns the current invalidation epoch of the volatile segment.
// Snapshot it before issuing an upstream call and hand it back to put.
func (c *resultCache) bestEpoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// put inserts a result. volatile marks entries derived from best-block
// state; they only land if no invalidation fired since epoch was taken.
func (c *resultCache) put(sig Signature, result json.RawMessage, volatile bool, epoch uint64) {
	entry := cacheEntry{result: result, insertedAt: c.now()}
	if !volatile {
		c.finalized.Add(sig, entry)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch {
		return
	}
	c.volatile.Add(sig, entry)
}

// invalidateBestBlockRelative drops every best-block-relative entry. Called
// once per best-block advance; entries keyed on finalized or immutable data
// are untouched.
func (c *resultCache) invalidateBestBlockRelative() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.volatile.Purge()
}

func (c *resultCache) len() int {
	return c.finalized.Len() + c.volatile.Len()
}
