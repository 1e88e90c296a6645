package engine

import (
	"fmt"

	"github.com/opena2a/wot/internal/domain"
	"github.com/opena2a/wot/internal/store"
)

// VerifyAndCorrectStoredScores runs a full recomputation and repairs any
// mismatched Score row, reporting whether a repair was necessary (spec
// §4.3, §4.6). A second call immediately after is a fixed point (spec §8
// idempotence), since recomputeOwner only writes rows that differ from
// what is already stored.
func (e *Engine) VerifyAndCorrectStoredScores(tx store.Tx) (repaired bool, err error) {
	ownIdentities, err := tx.AllOwnIdentities()
	if err != nil {
		return false, err
	}
	total := 0
	for _, own := range ownIdentities {
		c, err := e.recomputeOwner(tx, own.ID)
		if err != nil {
			return false, err
		}
		total += c
	}
	e.metrics.RecomputeFinished("verify", total)
	return total > 0, nil
}

// TrustTreeStats summarizes one OwnIdentity's trust tree for operator
// introspection (SPEC_FULL.md §C supplemented feature).
type TrustTreeStats struct {
	Size             int
	AvgRank          float64
	DistrustedCount  int
}

// TrustTreeStatsFor computes TrustTreeStats for one owner without mutating
// any stored Score.
func (e *Engine) TrustTreeStatsFor(tx store.Tx, ownerID string) (TrustTreeStats, error) {
	g, err := buildGraph(tx)
	if err != nil {
		return TrustTreeStats{}, err
	}
	ranks := rankAndCapacity(g, ownerID)

	var stats TrustTreeStats
	rankSum := 0
	for target, r := range ranks {
		stats.Size++
		if target == ownerID {
			continue
		}
		if r.rank == domain.DistrustedRank {
			stats.DistrustedCount++
			continue
		}
		rankSum += r.rank
	}
	countedForAvg := stats.Size - 1 - stats.DistrustedCount
	if countedForAvg > 0 {
		stats.AvgRank = float64(rankSum) / float64(countedForAvg)
	}
	return stats, nil
}

// ExplainStep is one hop of the BFS path that produced a Score's rank
// (SPEC_FULL.md §C supplemented feature: operator debugging of surprising
// capacity-0 results).
type ExplainStep struct {
	From     string
	To       string
	Value    int
	Capacity int
}

// ExplainScore reconstructs the shortest positive-capacity path from owner
// to target that the reference algorithm would have used to assign its
// rank, by re-running the BFS with parent tracking. Before returning, it
// cross-checks the path's rank against ComputeRankFromScratchForward (spec
// §8 cross-algorithm equivalence): the two algorithms walk the same graph
// by construction, so disagreement can only mean the stored Trust rows
// were mutated in a way rankAndCapacity's forward variant disagrees with,
// which is exactly the integrity fault this operator-debugging path exists
// to surface. Returns nil, nil for a target with no positive rank
// (distrusted-only or absent).
func (e *Engine) ExplainScore(tx store.Tx, owner, target string) ([]ExplainStep, error) {
	g, err := buildGraph(tx)
	if err != nil {
		return nil, err
	}

	type queued struct {
		id   string
		rank int
	}
	parent := map[string]string{}
	ranks := map[string]int{owner: 0}
	capacities := map[string]int{owner: 100}
	queue := []queued{{owner, 0}}
	visited := map[string]bool{owner: true}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if capacities[cur.id] <= 0 {
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
			capacities[edge.to] = cap
			ranks[edge.to] = rank
			parent[edge.to] = cur.id
			queue = append(queue, queued{edge.to, rank})
		}
	}

	if _, ok := parent[target]; !ok && target != owner {
		return nil, nil
	}

	fwdRank, err := e.ComputeRankFromScratchForward(tx, owner, target)
	if err != nil {
		return nil, err
	}
	if fwdRank != ranks[target] {
		return nil, fmt.Errorf("%w: explain path rank %d for %s->%s disagrees with forward algorithm rank %d",
			domain.ErrIntegrityViolation, ranks[target], owner, target, fwdRank)
	}

	var path []string
	for node := target; node != owner; node = parent[node] {
		path = append([]string{node}, path...)
	}
	path = append([]string{owner}, path...)

	steps := make([]ExplainStep, 0, len(path)-1)
	for i := 0; i+1 < len(path); i++ {
		t := g.trust[edgeKey{path[i], path[i+1]}]
		steps = append(steps, ExplainStep{
			From:     path[i],
			To:       path[i+1],
			Value:    t.Value,
			Capacity: capacities[path[i+1]],
		})
	}
	return steps, nil
}
