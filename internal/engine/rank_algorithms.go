package engine

import (
	"sync"
	"time"

	"github.com/opena2a/wot/internal/domain"
	"github.com/opena2a/wot/internal/store"
)

// ComputeRankFromScratch is the reference rank algorithm (spec §4.3): it
// recomputes the owner's entire trust tree and looks up one target. It is
// the simplest and slowest of the three cross-checked variants, and the one
// the other two are validated against (spec §8 "cross-algorithm
// equivalence").
func (e *Engine) ComputeRankFromScratch(tx store.Tx, owner, target string) (int, error) {
	g, err := buildGraph(tx)
	if err != nil {
		return 0, err
	}
	ranks := rankAndCapacity(g, owner)
	r, ok := ranks[target]
	if !ok {
		return 0, domain.ErrNotInTrustTree
	}
	return r.rank, nil
}

// ComputeRankFromScratchForward is a forward-BFS optimization of
// ComputeRankFromScratch: it stops expanding as soon as the target's rank
// is finalized instead of always walking the owner's whole reachable
// subgraph. It must return the same rank as ComputeRankFromScratch for
// every input (spec §8).
func (e *Engine) ComputeRankFromScratchForward(tx store.Tx, owner, target string) (int, error) {
	g, err := buildGraph(tx)
	if err != nil {
		return 0, err
	}

	if owner == target {
		return 0, nil
	}

	result := map[string]nodeResult{owner: {rank: 0, capacity: 100}}
	type queued struct {
		id   string
		rank int
	}
	queue := []queued{{owner, 0}}
	visited := map[string]bool{owner: true}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		capacity := result[cur.id].capacity
		if capacity <= 0 {
			continue
		}
		for _, edge := range g.outPositive[cur.id] {
			if visited[edge.to] {
				continue
			}
			visited[edge.to] = true
			rank := cur.rank + 1
			cap := domain.CapacityForRank(rank)
			if direct, ok := g.trust[edgeKey{owner, edge.to}]; ok && direct.Value < 0 {
				cap = 0
			}
			result[edge.to] = nodeResult{rank: rank, capacity: cap}
			if edge.to == target {
				return rank, nil // found: stop early
			}
			queue = append(queue, queued{edge.to, rank})
		}
	}

	// Not reachable via a positive path: check the distrust sentinel using
	// whatever capacitated set the BFS built.
	if direct, ok := g.trust[edgeKey{owner, target}]; ok && direct.Value < 0 {
		return domain.DistrustedRank, nil
	}
	for _, t := range g.in[target] {
		if t.Value >= 0 {
			continue
		}
		if truster, ok := result[t.TrusterID]; ok && truster.capacity > 0 {
			return domain.DistrustedRank, nil
		}
	}
	return 0, domain.ErrNotInTrustTree
}

// RankCache memoizes (owner,target) -> rank lookups with a TTL, the way a
// repeated-query workload (e.g. re-rendering many trust trees) benefits
// from caching the BFS result instead of rebuilding the graph each time.
type RankCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[rankCacheKey]rankCacheEntry
	now     func() time.Time
}

type rankCacheKey struct{ owner, target string }

type rankCacheEntry struct {
	rank      int
	found     bool
	expiresAt time.Time
}

// NewRankCache builds a RankCache with the given TTL.
func NewRankCache(ttl time.Duration) *RankCache {
	return &RankCache{
		ttl:     ttl,
		entries: make(map[rankCacheKey]rankCacheEntry),
		now:     time.Now,
	}
}

// Invalidate drops every cached entry; callers do this after any mutation
// that could change ranks (set/remove trust, import, lifecycle transition).
func (c *RankCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[rankCacheKey]rankCacheEntry)
}

func (c *RankCache) get(owner, target string) (rankCacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[rankCacheKey{owner, target}]
	if !ok || c.now().After(e.expiresAt) {
		return rankCacheEntry{}, false
	}
	return e, true
}

func (c *RankCache) set(owner, target string, rank int, found bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[rankCacheKey{owner, target}] = rankCacheEntry{
		rank:      rank,
		found:     found,
		expiresAt: c.now().Add(c.ttl),
	}
}

// ComputeRankFromScratchCaching is the caching-optimization variant (spec
// §4.3): a cache hit skips rebuilding the graph entirely. On a miss it
// falls back to the same BFS as ComputeRankFromScratch and populates the
// cache, so it must agree with the other two variants on every input
// (spec §8).
func (e *Engine) ComputeRankFromScratchCaching(tx store.Tx, owner, target string, cache *RankCache) (int, error) {
	if cache != nil {
		if entry, ok := cache.get(owner, target); ok {
			if !entry.found {
				return 0, domain.ErrNotInTrustTree
			}
			return entry.rank, nil
		}
	}

	rank, err := e.ComputeRankFromScratch(tx, owner, target)
	if cache != nil {
		if err == domain.ErrNotInTrustTree {
			cache.set(owner, target, 0, false)
		} else if err == nil {
			cache.set(owner, target, rank, true)
		}
	}
	return rank, err
}
