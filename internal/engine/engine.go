// Package engine implements the trust-graph Score computation engine (C3):
// incremental and full recomputation of value/rank/capacity, and the
// verify/repair pass. This is the hard part of the system (spec §4.3).
package engine

import (
	"fmt"
	"time"

	"github.com/opena2a/wot/internal/domain"
	"github.com/opena2a/wot/internal/store"
)

// Metrics is the narrow observability sink the engine reports into;
// production wires a Prometheus-backed implementation
// (internal/infrastructure/metrics), tests wire a no-op.
type Metrics interface {
	RecomputeFinished(kind string, scoresChanged int)
	RefetchTriggered()
}

type noopMetrics struct{}

func (noopMetrics) RecomputeFinished(string, int) {}
func (noopMetrics) RefetchTriggered()             {}

// Engine computes and maintains Score rows from the Trust/Identity graph.
// It holds no connection state of its own: every method takes the active
// store.Tx explicitly (spec §4.2, §5).
type Engine struct {
	clock   domain.Clock
	limits  domain.Limits
	metrics Metrics

	// deferring holds, keyed by identity ID, every identity whose import
	// batch is currently open (spec §4.4 begin/finish_trust_list_import).
	// While a truster is in it, SetTrust/RemoveTrust skip their own
	// incremental update; the batch
	// runs one scoped recomputation when it finishes.
	deferring map[string]bool

	// rankCache backs RankOf's ComputeRankFromScratchCaching calls (spec
	// §4.3, §8 cross-algorithm equivalence). Nil unless WithRankCache was
	// given, in which case every recomputeOwner pass that actually changes
	// a Score row invalidates it.
	rankCache *RankCache
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics wires a Metrics sink.
func WithMetrics(m Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithRankCache enables RankOf's caching path with the given TTL
// (config.EngineConfig.RankCacheTTL). Without this option RankOf falls back
// to the uncached reference algorithm.
func WithRankCache(ttl time.Duration) Option {
	return func(e *Engine) { e.rankCache = NewRankCache(ttl) }
}

// New constructs an Engine.
func New(clock domain.Clock, limits domain.Limits, opts ...Option) *Engine {
	e := &Engine{clock: clock, limits: limits, metrics: noopMetrics{}, deferring: make(map[string]bool)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetTrust validates and upserts a Trust edge, then triggers the
// incremental update (spec §4.3), unless a trust-list import batch for
// this truster currently defers it (spec §4.4).
func (e *Engine) SetTrust(tx store.Tx, truster, trustee string, value int, comment string) (*domain.Trust, error) {
	if _, err := tx.GetIdentityByID(truster); err != nil {
		return nil, fmt.Errorf("truster %s: %w", truster, domain.ErrUnknownIdentity)
	}
	if _, err := tx.GetIdentityByID(trustee); err != nil {
		return nil, fmt.Errorf("trustee %s: %w", trustee, domain.ErrUnknownIdentity)
	}

	now := e.clock.Now()
	existing, err := tx.GetTrust(truster, trustee)
	if err != nil && err != domain.ErrNotTrusted {
		return nil, err
	}

	var t *domain.Trust
	if existing != nil {
		if value == 0 {
			if err := tx.DeleteTrust(truster, trustee); err != nil {
				return nil, err
			}
			return nil, e.maybeUpdate(tx, truster)
		}
		if err := existing.SetValue(value, comment, e.limits, now); err != nil {
			return nil, err
		}
		t = existing
	} else {
		if value == 0 {
			// "No opinion": never materializes a row (spec §4.7).
			return nil, nil
		}
		t, err = domain.NewTrust(truster, trustee, value, comment, e.limits, now)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.StoreTrust(t); err != nil {
		return nil, err
	}
	if err := e.maybeUpdate(tx, truster); err != nil {
		return nil, err
	}
	return t, nil
}

// RemoveTrust deletes a Trust edge and triggers the incremental update.
func (e *Engine) RemoveTrust(tx store.Tx, truster, trustee string) error {
	if _, err := tx.GetTrust(truster, trustee); err != nil {
		return err
	}
	if err := tx.DeleteTrust(truster, trustee); err != nil {
		return err
	}
	return e.maybeUpdate(tx, truster)
}

func (e *Engine) maybeUpdate(tx store.Tx, changedTruster string) error {
	if e.deferring[changedTruster] {
		return nil
	}
	return e.incrementalUpdate(tx, changedTruster)
}

// incrementalUpdate implements spec §4.3's incremental update algorithm.
// The reference BFS (rankAndCapacity) already computes ranks in increasing
// distance order, so "recompute direct rank cheaply, propagate only while
// something changes" (spec steps 2-3) is exactly what a from-scratch BFS
// does when diffed against the stored rows: any node whose (rank, capacity,
// value) is unchanged from what is already stored contributes nothing
// further downstream, because downstream values are themselves a pure
// function of it. recomputeOwner performs that diff-and-store pass,
// applying the capacity-transition refetch rule (step 4) per trustee.
func (e *Engine) incrementalUpdate(tx store.Tx, changedTruster string) error {
	ownIdentities, err := tx.AllOwnIdentities()
	if err != nil {
		return err
	}
	changed := 0
	for _, own := range ownIdentities {
		c, err := e.recomputeOwner(tx, own.ID)
		if err != nil {
			return err
		}
		changed += c
	}
	e.metrics.RecomputeFinished("incremental", changed)
	return nil
}

// ComputeAllScores performs a full recomputation for every OwnIdentity and
// reports whether the stored Scores already matched (spec §4.3).
func (e *Engine) ComputeAllScores(tx store.Tx) (unchanged bool, err error) {
	ownIdentities, err := tx.AllOwnIdentities()
	if err != nil {
		return false, err
	}
	changed := 0
	for _, own := range ownIdentities {
		c, err := e.recomputeOwner(tx, own.ID)
		if err != nil {
			return false, err
		}
		changed += c
	}
	e.metrics.RecomputeFinished("full", changed)
	return changed == 0, nil
}

// RecomputeOwner exposes the single-owner recomputation pass, used by the
// trust-list import's scoped recomputation (spec §4.4 step 5) and identity
// lifecycle transitions (spec §4.5).
func (e *Engine) RecomputeOwner(tx store.Tx, ownerID string) (scoresChanged int, err error) {
	return e.recomputeOwner(tx, ownerID)
}

// RankOf answers a single owner/target rank query (the "get-rank" CLI
// subcommand and any other single-pair lookup that does not need a full Score
// row) through the caching variant when WithRankCache was configured, or
// falls straight through to the reference algorithm otherwise. This is the
// production call site for ComputeRankFromScratchCaching/RankCache; the
// stored Score rows themselves are still produced by recomputeOwner, never
// by this path.
func (e *Engine) RankOf(tx store.Tx, owner, target string) (int, error) {
	return e.ComputeRankFromScratchCaching(tx, owner, target, e.rankCache)
}
