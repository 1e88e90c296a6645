package importer_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opena2a/wot/internal/domain"
	"github.com/opena2a/wot/internal/engine"
	"github.com/opena2a/wot/internal/importer"
	"github.com/opena2a/wot/internal/teststore"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func newFixture(t *testing.T) (*importer.Importer, *teststore.MemStore, domain.Limits) {
	t.Helper()
	limits := domain.DefaultLimits()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := fixedClock{t: now}
	eng := engine.New(clock, limits)
	st := teststore.New()

	own, err := domain.NewOwnIdentity("alice", domain.RequestURI{RoutingKey: "alice"}, domain.InsertURI{RoutingKey: "alice"}, "", false, limits, now)
	require.NoError(t, err)
	st.Owns["alice"] = own
	st.Scores[[2]string{"alice", "alice"}] = domain.NewSelfScore("alice")

	return importer.New(eng, clock, limits), st, limits
}

func TestImport_DirectlyTrustedIdentityCreatesStubsForTrustees(t *testing.T) {
	imp, st, _ := newFixture(t)

	bob, err := domain.NewIdentity("bob", domain.RequestURI{RoutingKey: "bob"}, time.Now())
	require.NoError(t, err)
	st.Identities["bob"] = bob

	tx, err := st.Begin(context.Background())
	require.NoError(t, err)

	_, err = engine.New(fixedClock{t: time.Now()}, domain.DefaultLimits()).SetTrust(tx, "alice", "bob", 80, "")
	require.NoError(t, err)

	doc := domain.IdentityFileImport{
		IdentityID: "bob",
		Edition:    1,
		Nickname:   "bob-nick",
		Trusts: []domain.TrustListEntry{
			{TrusteeRequestURI: "USK@carol,,/WebOfTrust/0", Value: 50, Comment: "friend"},
		},
	}

	require.NoError(t, imp.Import(tx, doc))

	carol, err := tx.GetIdentityByID("carol")
	require.NoError(t, err)
	assert.Equal(t, domain.FetchStateNotFetched, carol.FetchState)

	trust, err := tx.GetTrust("bob", "carol")
	require.NoError(t, err)
	assert.Equal(t, 50, trust.Value)

	updatedBob, err := tx.GetIdentityByID("bob")
	require.NoError(t, err)
	assert.Equal(t, domain.FetchStateFetched, updatedBob.FetchState)
	assert.Equal(t, int64(1), updatedBob.RequestURI.Edition)
}

func TestImport_ZeroCapacityIdentitySkipsStubCreation(t *testing.T) {
	imp, st, _ := newFixture(t)

	// mallory is never trusted by alice, so it carries no positive-capacity
	// Score anywhere: the anti-Sybil flood-control rule in step 3 must skip
	// creating a stub for its claimed trustee.
	mallory, err := domain.NewIdentity("mallory", domain.RequestURI{RoutingKey: "mallory"}, time.Now())
	require.NoError(t, err)
	st.Identities["mallory"] = mallory

	tx, err := st.Begin(context.Background())
	require.NoError(t, err)

	doc := domain.IdentityFileImport{
		IdentityID: "mallory",
		Edition:    1,
		Trusts: []domain.TrustListEntry{
			{TrusteeRequestURI: "USK@sybil-victim,,/WebOfTrust/0", Value: 100, Comment: ""},
		},
	}

	require.NoError(t, imp.Import(tx, doc))

	_, err = tx.GetIdentityByID("sybil-victim")
	assert.ErrorIs(t, err, domain.ErrUnknownIdentity)

	_, err = tx.GetTrust("mallory", "sybil-victim")
	assert.ErrorIs(t, err, domain.ErrNotTrusted)
}

func TestImport_RemovesTrustAbsentFromNewList(t *testing.T) {
	imp, st, _ := newFixture(t)

	bob, err := domain.NewIdentity("bob", domain.RequestURI{RoutingKey: "bob"}, time.Now())
	require.NoError(t, err)
	st.Identities["bob"] = bob
	dave, err := domain.NewIdentity("dave", domain.RequestURI{RoutingKey: "dave"}, time.Now())
	require.NoError(t, err)
	st.Identities["dave"] = dave

	tx, err := st.Begin(context.Background())
	require.NoError(t, err)
	eng := engine.New(fixedClock{t: time.Now()}, domain.DefaultLimits())
	_, err = eng.SetTrust(tx, "alice", "bob", 80, "")
	require.NoError(t, err)
	_, err = eng.SetTrust(tx, "bob", "dave", 50, "")
	require.NoError(t, err)

	// bob's new trust list no longer mentions dave.
	doc := domain.IdentityFileImport{IdentityID: "bob", Edition: 2}
	require.NoError(t, imp.Import(tx, doc))

	_, err = tx.GetTrust("bob", "dave")
	assert.ErrorIs(t, err, domain.ErrNotTrusted)
}

func TestImport_RejectsOversizedTrustList(t *testing.T) {
	imp, st, limits := newFixture(t)
	tx, err := st.Begin(context.Background())
	require.NoError(t, err)

	entries := make([]domain.TrustListEntry, limits.MaxTrustListEntries+1)
	doc := domain.IdentityFileImport{IdentityID: "alice", Edition: 1, Trusts: entries}

	err = imp.Import(tx, doc)
	assert.ErrorIs(t, err, domain.ErrInvalidParameter)
}
