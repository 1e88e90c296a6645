package engine

import (
	"github.com/opena2a/wot/internal/domain"
	"github.com/opena2a/wot/internal/store"
)

// nodeResult is the computed (rank, capacity) pair for one trustee in a
// single owner's trust tree, before value is summed (spec §4.3).
type nodeResult struct {
	rank     int
	capacity int
}

// rankAndCapacity runs the owner-scoped BFS of spec §4.3: a single-source
// shortest-path walk seeded at the owner, expanding only through positive
// trust edges out of nodes whose own capacity (after any direct-distrust
// override by the owner) is still positive. Nodes unreachable that way but
// on the receiving end of a negative trust from a capacitated truster are
// assigned domain.DistrustedRank with capacity 0. Everything else has no
// row at all (spec §4.3, NotInTrustTree).
//
// Returns the finalized rank/capacity map (owner included, rank 0 cap 100);
// callers compute values from it together with the graph g they passed in.
func rankAndCapacity(g *graph, owner string) map[string]nodeResult {
	result := make(map[string]nodeResult)
	result[owner] = nodeResult{rank: 0, capacity: 100}

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
			continue // capacity 0 cannot extend the tree further (anti-Sybil)
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
			queue = append(queue, queued{edge.to, rank})
		}
	}

	// Distrust sentinel pass: any node not reached above, but targeted by a
	// negative trust from a node present (and capacitated) in `result`.
	for key, t := range g.trust {
		if t.Value >= 0 {
			continue
		}
		if _, already := result[key.to]; already {
			continue
		}
		if truster, ok := result[key.from]; ok && truster.capacity > 0 {
			result[key.to] = nodeResult{rank: domain.DistrustedRank, capacity: 0}
		}
	}

	return result
}

// value computes value_o(t) = sum over all (u,t) trusts of
// trust.value * capacity_o(u) / 100 (spec §4.3), using integer division.
// Trusters absent from `ranks` (capacity 0 by default) contribute nothing,
// which is the anti-Sybil property stated in spec §4.3/§8.
func value(g *graph, ranks map[string]nodeResult, target string) int {
	if target == "" {
		return 0
	}
	total := 0
	for _, t := range g.in[target] {
		cap := 0
		if r, ok := ranks[t.TrusterID]; ok {
			cap = r.capacity
		}
		total += t.Value * cap / 100
	}
	return total
}

// edgeKey identifies a directed trust edge.
type edgeKey struct{ from, to string }

type edge struct{ to string }

// graph is an in-memory adjacency index built once per owner recomputation
// from the store's full Trust table (spec §9: "flat edge rows ... never
// in-memory pointer graphs" refers to persistence; this index is a
// transient per-call view of that same flat table).
type graph struct {
	trust       map[edgeKey]*domain.Trust
	outPositive map[string][]edge // truster -> trustees with value > 0
	in          map[string][]*domain.Trust
}

func buildGraph(tx store.Tx) (*graph, error) {
	all, err := tx.AllTrusts()
	if err != nil {
		return nil, err
	}
	g := &graph{
		trust:       make(map[edgeKey]*domain.Trust, len(all)),
		outPositive: make(map[string][]edge),
		in:          make(map[string][]*domain.Trust),
	}
	for _, t := range all {
		g.trust[edgeKey{t.TrusterID, t.TrusteeID}] = t
		g.in[t.TrusteeID] = append(g.in[t.TrusteeID], t)
		if t.Value > 0 {
			g.outPositive[t.TrusterID] = append(g.outPositive[t.TrusterID], edge{to: t.TrusteeID})
		}
	}
	return g, nil
}
