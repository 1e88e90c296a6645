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

func TestExportContexts_FiltersToSharedContextOnly(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	st := teststore.New()
	seedOwn(t, st, "alice", now)
	own := st.Owns["alice"]

	bob := mustIdentity(t, "bob", "bob-key", now)
	require.NoError(t, bob.AddContext("dev", domain.DefaultLimits()))
	st.Identities["bob"] = bob

	carol := mustIdentity(t, "carol", "carol-key", now)
	require.NoError(t, carol.AddContext("personal", domain.DefaultLimits()))
	st.Identities["carol"] = carol

	tx, err := st.Begin(context.Background())
	require.NoError(t, err)

	require.NoError(t, tx.StoreTrust(&domain.Trust{TrusterID: "alice", TrusteeID: "bob", Value: 80}))
	require.NoError(t, tx.StoreTrust(&domain.Trust{TrusterID: "alice", TrusteeID: "carol", Value: 60}))

	entries, err := engine.ExportContexts(tx, own, []string{"dev"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, bob.RequestURI.String(), entries[0].TrusteeRequestURI)

	all, err := engine.ExportContexts(tx, own, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestDefaultProducer_Produce_SuppressesTrustsWhenNotPublishing(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	own, err := domain.NewOwnIdentity("alice", domain.RequestURI{RoutingKey: "alice"}, domain.InsertURI{RoutingKey: "alice"}, "alice", false, domain.DefaultLimits(), now)
	require.NoError(t, err)

	export, err := (engine.DefaultProducer{}).Produce(own, []domain.TrustListEntry{{TrusteeRequestURI: "USK@bob,,/WebOfTrust/0", Value: 80}}, domain.DefaultLimits())
	require.NoError(t, err)
	assert.Empty(t, export.Trusts)
	assert.Equal(t, "alice", export.Nickname)
}

func TestDefaultProducer_Produce_TruncatesToMaxTrustListEntries(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	own, err := domain.NewOwnIdentity("alice", domain.RequestURI{RoutingKey: "alice"}, domain.InsertURI{RoutingKey: "alice"}, "alice", true, domain.DefaultLimits(), now)
	require.NoError(t, err)

	limits := domain.DefaultLimits()
	limits.MaxTrustListEntries = 1
	entries := []domain.TrustListEntry{
		{TrusteeRequestURI: "USK@bob,,/WebOfTrust/0", Value: 80},
		{TrusteeRequestURI: "USK@carol,,/WebOfTrust/0", Value: 60},
	}

	export, err := (engine.DefaultProducer{}).Produce(own, entries, limits)
	require.NoError(t, err)
	assert.Len(t, export.Trusts, 1)
}
