package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opena2a/wot/internal/domain"
	"github.com/opena2a/wot/internal/engine"
	"github.com/opena2a/wot/internal/teststore"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func mustIdentity(t *testing.T, id, routingKey string, now time.Time) *domain.Identity {
	t.Helper()
	ident, err := domain.NewIdentity(id, domain.RequestURI{RoutingKey: routingKey}, now)
	require.NoError(t, err)
	return ident
}

func newEngineFixture(t *testing.T) (*engine.Engine, *teststore.MemStore) {
	t.Helper()
	limits := domain.DefaultLimits()
	clock := fixedClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	eng := engine.New(clock, limits)
	st := teststore.New()
	return eng, st
}

func seedOwn(t *testing.T, st *teststore.MemStore, id string, now time.Time) {
	t.Helper()
	own, err := domain.NewOwnIdentity(id, domain.RequestURI{RoutingKey: id}, domain.InsertURI{RoutingKey: id}, "", false, domain.DefaultLimits(), now)
	require.NoError(t, err)
	st.Owns[id] = own
	st.Scores[[2]string{id, id}] = domain.NewSelfScore(id)
}

func TestSetTrust_DirectTrustPropagatesRank1(t *testing.T) {
	eng, st := newEngineFixture(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	seedOwn(t, st, "alice", now)
	bob := mustIdentity(t, "bob", "bob-key", now)
	st.Identities["bob"] = bob

	tx, err := st.Begin(context.Background())
	require.NoError(t, err)

	_, err = eng.SetTrust(tx, "alice", "bob", 80, "met irl")
	require.NoError(t, err)

	score, err := tx.GetScore("alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, score.Rank)
	assert.Equal(t, domain.CapacityForRank(1), score.Capacity)
	assert.Equal(t, 80, score.Value)
}

func TestSetTrust_UnknownIdentityRejected(t *testing.T) {
	eng, st := newEngineFixture(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	seedOwn(t, st, "alice", now)

	tx, err := st.Begin(context.Background())
	require.NoError(t, err)

	_, err = eng.SetTrust(tx, "alice", "ghost", 50, "")
	assert.ErrorIs(t, err, domain.ErrUnknownIdentity)
}

func TestSetTrust_ZeroValueRemovesExistingTrust(t *testing.T) {
	eng, st := newEngineFixture(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	seedOwn(t, st, "alice", now)
	st.Identities["bob"] = mustIdentity(t, "bob", "bob-key", now)

	tx, err := st.Begin(context.Background())
	require.NoError(t, err)

	_, err = eng.SetTrust(tx, "alice", "bob", 80, "")
	require.NoError(t, err)

	_, err = eng.SetTrust(tx, "alice", "bob", 0, "")
	require.NoError(t, err)

	_, err = tx.GetTrust("alice", "bob")
	assert.ErrorIs(t, err, domain.ErrNotTrusted)

	_, err = tx.GetScore("alice", "bob")
	assert.ErrorIs(t, err, domain.ErrNotInTrustTree)
}

func TestSetTrust_NoOpinionNeverMaterializesRow(t *testing.T) {
	eng, st := newEngineFixture(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	seedOwn(t, st, "alice", now)
	st.Identities["bob"] = mustIdentity(t, "bob", "bob-key", now)

	tx, err := st.Begin(context.Background())
	require.NoError(t, err)

	trust, err := eng.SetTrust(tx, "alice", "bob", 0, "")
	require.NoError(t, err)
	assert.Nil(t, trust)

	_, err = tx.GetTrust("alice", "bob")
	assert.ErrorIs(t, err, domain.ErrNotTrusted)
}

func TestComputeAllScores_TransitiveTrustAtRank2(t *testing.T) {
	eng, st := newEngineFixture(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	seedOwn(t, st, "alice", now)
	st.Identities["bob"] = mustIdentity(t, "bob", "bob-key", now)
	st.Identities["carol"] = mustIdentity(t, "carol", "carol-key", now)

	tx, err := st.Begin(context.Background())
	require.NoError(t, err)

	_, err = eng.SetTrust(tx, "alice", "bob", 100, "")
	require.NoError(t, err)
	_, err = eng.SetTrust(tx, "bob", "carol", 60, "")
	require.NoError(t, err)

	unchanged, err := eng.ComputeAllScores(tx)
	require.NoError(t, err)
	assert.True(t, unchanged, "a from-scratch recompute after incremental updates should already match")

	score, err := tx.GetScore("alice", "carol")
	require.NoError(t, err)
	assert.Equal(t, 2, score.Rank)
	assert.Equal(t, domain.CapacityForRank(2), score.Capacity)
}

func TestFetchEligibleIdentities_SkipsZeroCapacityAndAlreadyFetched(t *testing.T) {
	eng, st := newEngineFixture(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	seedOwn(t, st, "alice", now)

	trusted := mustIdentity(t, "bob", "bob-key", now)
	st.Identities["bob"] = trusted

	untrusted := mustIdentity(t, "mallory", "mallory-key", now)
	st.Identities["mallory"] = untrusted

	alreadyFetched := mustIdentity(t, "dave", "dave-key", now)
	alreadyFetched.FetchState = domain.FetchStateFetched
	st.Identities["dave"] = alreadyFetched

	tx, err := st.Begin(context.Background())
	require.NoError(t, err)

	_, err = eng.SetTrust(tx, "alice", "bob", 100, "")
	require.NoError(t, err)
	// mallory and dave are never trusted, so their only Score rows (if any)
	// stay absent/zero-capacity; dave additionally already carries the
	// fetched state.

	eligible, err := eng.FetchEligibleIdentities(tx)
	require.NoError(t, err)

	var ids []string
	for _, ident := range eligible {
		ids = append(ids, ident.ID)
	}
	assert.Contains(t, ids, "bob")
	assert.NotContains(t, ids, "mallory")
	assert.NotContains(t, ids, "dave")
}

// TestRankAlgorithms_CrossAlgorithmEquivalence exercises the reference,
// forward, and caching rank algorithms against the same trust graph,
// including a distrust-sentinel target unreachable by any positive path,
// and asserts all three agree (spec §8 "cross-algorithm equivalence").
func TestRankAlgorithms_CrossAlgorithmEquivalence(t *testing.T) {
	eng, st := newEngineFixture(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	seedOwn(t, st, "alice", now)
	st.Identities["bob"] = mustIdentity(t, "bob", "bob-key", now)
	st.Identities["carol"] = mustIdentity(t, "carol", "carol-key", now)
	st.Identities["mallory"] = mustIdentity(t, "mallory", "mallory-key", now)

	tx, err := st.Begin(context.Background())
	require.NoError(t, err)

	_, err = eng.SetTrust(tx, "alice", "bob", 100, "")
	require.NoError(t, err)
	_, err = eng.SetTrust(tx, "bob", "carol", 60, "")
	require.NoError(t, err)
	_, err = eng.SetTrust(tx, "bob", "mallory", -100, "known sybil")
	require.NoError(t, err)

	cache := engine.NewRankCache(time.Minute)
	for _, target := range []string{"alice", "bob", "carol", "mallory"} {
		refRank, refErr := eng.ComputeRankFromScratch(tx, "alice", target)
		fwdRank, fwdErr := eng.ComputeRankFromScratchForward(tx, "alice", target)
		cacheRank, cacheErr := eng.ComputeRankFromScratchCaching(tx, "alice", target, cache)

		require.ErrorIs(t, fwdErr, refErr, "target %s", target)
		require.ErrorIs(t, cacheErr, refErr, "target %s", target)
		assert.Equal(t, refRank, fwdRank, "forward disagrees with reference for %s", target)
		assert.Equal(t, refRank, cacheRank, "caching disagrees with reference for %s", target)
	}

	// Second caching pass must hit the warmed cache and still agree.
	cachedAgain, err := eng.ComputeRankFromScratchCaching(tx, "alice", "carol", cache)
	require.NoError(t, err)
	assert.Equal(t, 2, cachedAgain)

	mallloryRank, err := eng.ComputeRankFromScratch(tx, "alice", "mallory")
	require.NoError(t, err)
	assert.Equal(t, domain.DistrustedRank, mallloryRank)
}

// TestEngine_RankOf_UsesConfiguredCache exercises RankOf's production call
// site (ComputeRankFromScratchCaching via WithRankCache) end to end,
// including invalidation after a mutation changes the tree.
func TestEngine_RankOf_UsesConfiguredCache(t *testing.T) {
	limits := domain.DefaultLimits()
	clock := fixedClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	eng := engine.New(clock, limits, engine.WithRankCache(time.Minute))
	st := teststore.New()
	seedOwn(t, st, "alice", clock.t)
	st.Identities["bob"] = mustIdentity(t, "bob", "bob-key", clock.t)
	st.Identities["carol"] = mustIdentity(t, "carol", "carol-key", clock.t)

	tx, err := st.Begin(context.Background())
	require.NoError(t, err)

	_, err = eng.SetTrust(tx, "alice", "bob", 100, "")
	require.NoError(t, err)

	rank, err := eng.RankOf(tx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, rank)

	_, err = eng.RankOf(tx, "alice", "carol")
	assert.ErrorIs(t, err, domain.ErrNotInTrustTree)

	_, err = eng.SetTrust(tx, "bob", "carol", 50, "")
	require.NoError(t, err)

	rank, err = eng.RankOf(tx, "alice", "carol")
	require.NoError(t, err)
	assert.Equal(t, 2, rank, "cache invalidation on recompute must not serve a stale miss")
}
