package application_test

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opena2a/wot/internal/application"
	"github.com/opena2a/wot/internal/crypto"
	"github.com/opena2a/wot/internal/domain"
	"github.com/opena2a/wot/internal/engine"
	"github.com/opena2a/wot/internal/teststore"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func newLifecycleFixture(t *testing.T) (*application.IdentityLifecycleService, *engine.Engine, *teststore.MemStore) {
	t.Helper()
	limits := domain.DefaultLimits()
	clock := fixedClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	eng := engine.New(clock, limits)
	st := teststore.New()

	masterKey := make([]byte, 32)
	vault, err := crypto.NewKeyVault(base64.StdEncoding.EncodeToString(masterKey))
	require.NoError(t, err)

	return application.NewIdentityLifecycleService(eng, vault, clock, limits), eng, st
}

func TestCreateOwn_MaterializesSelfScore(t *testing.T) {
	svc, _, st := newLifecycleFixture(t)
	tx, err := st.Begin(context.Background())
	require.NoError(t, err)

	own, encryptedInsert, err := svc.CreateOwn(tx, "alice", true, []string{"trust-list"})
	require.NoError(t, err)
	assert.NotEmpty(t, encryptedInsert)
	assert.Equal(t, "alice", *own.Nickname)

	score, err := tx.GetScore(own.ID, own.ID)
	require.NoError(t, err)
	assert.True(t, score.IsSelfScore())
}

func TestAddIdentity_RejectsDuplicate(t *testing.T) {
	svc, _, st := newLifecycleFixture(t)
	tx, err := st.Begin(context.Background())
	require.NoError(t, err)

	_, err = svc.AddIdentity(tx, "USK@bob,crypto,extra/WebOfTrust/0")
	require.NoError(t, err)

	_, err = svc.AddIdentity(tx, "USK@bob,crypto,extra/WebOfTrust/1")
	assert.ErrorIs(t, err, domain.ErrDuplicateIdentity)
}

func TestDeleteOwn_ProjectsToPlainIdentityAndDropsScoreTree(t *testing.T) {
	svc, eng, st := newLifecycleFixture(t)
	tx, err := st.Begin(context.Background())
	require.NoError(t, err)

	own, _, err := svc.CreateOwn(tx, "", false, nil)
	require.NoError(t, err)

	bob, err := domain.NewIdentity("bob", domain.RequestURI{RoutingKey: "bob"}, time.Now())
	require.NoError(t, err)
	require.NoError(t, tx.StoreIdentity(bob))
	_, err = eng.SetTrust(tx, own.ID, "bob", 50, "")
	require.NoError(t, err)

	require.NoError(t, svc.DeleteOwn(tx, own.ID))

	_, err = tx.GetOwnByID(own.ID)
	assert.ErrorIs(t, err, domain.ErrUnknownIdentity)

	projected, err := tx.GetIdentityByID(own.ID)
	require.NoError(t, err)
	assert.Equal(t, own.ID, projected.ID)

	_, err = tx.GetScore(own.ID, own.ID)
	assert.ErrorIs(t, err, domain.ErrNotInTrustTree)
	_, err = tx.GetScore(own.ID, "bob")
	assert.ErrorIs(t, err, domain.ErrNotInTrustTree)
}

func TestRestoreOwn_RejectsAlreadyOwn(t *testing.T) {
	svc, _, st := newLifecycleFixture(t)
	tx, err := st.Begin(context.Background())
	require.NoError(t, err)

	own, _, err := svc.CreateOwn(tx, "", false, nil)
	require.NoError(t, err)

	insertURI := domain.InsertURI{RoutingKey: own.ID, CryptoKey: own.InsertURI.CryptoKey, Extra: own.InsertURI.Extra, Edition: 0}
	_, err = svc.RestoreOwn(tx, "USK@"+insertURI.RoutingKey+","+insertURI.CryptoKey+","+insertURI.Extra+"/WebOfTrust/0")
	assert.ErrorIs(t, err, domain.ErrDuplicateIdentity)
}
