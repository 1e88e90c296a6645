package repository

import (
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opena2a/wot/internal/domain"
)

// newMockTx wraps a sqlmock connection in the same *sqlx.Tx shape
// postgresTx uses in production, so these tests exercise the real SQL
// this package issues rather than a hand-rolled fake.
func newMockTx(t *testing.T) (*postgresTx, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	sqlxDB := sqlx.NewDb(db, "postgres")
	mock.ExpectBegin()
	tx, err := sqlxDB.Beginx()
	require.NoError(t, err)

	return &postgresTx{tx: tx}, mock, func() { db.Close() }
}

func TestPostgresTx_StoreAndGetIdentity(t *testing.T) {
	tx, mock, closeDB := newMockTx(t)
	defer closeDB()

	now := time.Now().UTC()
	identity := &domain.Identity{
		ID: "identity-1",
		RequestURI: domain.RequestURI{
			RoutingKey: "routing-key", CryptoKey: "crypto-key", Extra: "", Edition: 3,
		},
		FetchState:  domain.FetchStateNotFetched,
		Contexts:    map[string]struct{}{"trust-list": {}},
		Properties:  map[string]string{},
		Created:     now,
		LastChanged: now,
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO identities")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, tx.StoreIdentity(identity))

	rows := sqlmock.NewRows([]string{
		"id", "routing_key", "crypto_key", "extra", "edition", "latest_edition_hint",
		"fetch_state", "nickname", "publishes_trust_list", "contexts", "properties",
		"created_at", "last_fetched_at", "last_changed_at",
	}).AddRow(
		identity.ID, identity.RequestURI.RoutingKey, identity.RequestURI.CryptoKey, identity.RequestURI.Extra,
		identity.RequestURI.Edition, identity.RequestURI.LatestEditionHint, string(identity.FetchState),
		nil, false, []byte(`["trust-list"]`), []byte(`{}`), now, nil, now,
	)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, routing_key")).
		WithArgs(identity.ID).
		WillReturnRows(rows)

	got, err := tx.GetIdentityByID(identity.ID)
	require.NoError(t, err)
	assert.Equal(t, identity.ID, got.ID)
	assert.Equal(t, identity.RequestURI.RoutingKey, got.RequestURI.RoutingKey)
	assert.Equal(t, map[string]struct{}{"trust-list": {}}, got.Contexts)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTx_GetIdentityByID_Unknown(t *testing.T) {
	tx, mock, closeDB := newMockTx(t)
	defer closeDB()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, routing_key")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := tx.GetIdentityByID("missing")
	assert.ErrorIs(t, err, domain.ErrUnknownIdentity)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTx_StoreAndGetTrust(t *testing.T) {
	tx, mock, closeDB := newMockTx(t)
	defer closeDB()

	now := time.Now().UTC()
	trust := &domain.Trust{
		TrusterID: "own-1", TrusteeID: "identity-2", Value: 50, Comment: "met at a conference",
		Created: now, LastChanged: now,
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO trusts")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, tx.StoreTrust(trust))

	rows := sqlmock.NewRows([]string{"truster_id", "trustee_id", "value", "comment", "created_at", "last_changed_at"}).
		AddRow(trust.TrusterID, trust.TrusteeID, trust.Value, trust.Comment, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT truster_id, trustee_id, value, comment, created_at, last_changed_at")).
		WithArgs(trust.TrusterID, trust.TrusteeID).
		WillReturnRows(rows)

	got, err := tx.GetTrust(trust.TrusterID, trust.TrusteeID)
	require.NoError(t, err)
	assert.Equal(t, trust.Value, got.Value)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTx_GetTrust_NotTrusted(t *testing.T) {
	tx, mock, closeDB := newMockTx(t)
	defer closeDB()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT truster_id, trustee_id, value, comment, created_at, last_changed_at")).
		WithArgs("own-1", "identity-2").
		WillReturnError(sql.ErrNoRows)

	_, err := tx.GetTrust("own-1", "identity-2")
	assert.ErrorIs(t, err, domain.ErrNotTrusted)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTx_StoreAndGetScore(t *testing.T) {
	tx, mock, closeDB := newMockTx(t)
	defer closeDB()

	score := &domain.Score{OwnerID: "own-1", TargetID: "identity-2", Value: 73, Rank: 1, Capacity: 40}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO scores")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, tx.StoreScore(score))

	rows := sqlmock.NewRows([]string{"owner_id", "target_id", "value", "rank", "capacity"}).
		AddRow(score.OwnerID, score.TargetID, int64(score.Value), score.Rank, score.Capacity)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT owner_id, target_id, value, rank, capacity")).
		WithArgs(score.OwnerID, score.TargetID).
		WillReturnRows(rows)

	got, err := tx.GetScore(score.OwnerID, score.TargetID)
	require.NoError(t, err)
	assert.Equal(t, score.Capacity, got.Capacity)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTx_GetScore_NotInTrustTree(t *testing.T) {
	tx, mock, closeDB := newMockTx(t)
	defer closeDB()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT owner_id, target_id, value, rank, capacity")).
		WithArgs("own-1", "identity-9").
		WillReturnError(sql.ErrNoRows)

	_, err := tx.GetScore("own-1", "identity-9")
	assert.ErrorIs(t, err, domain.ErrNotInTrustTree)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTx_DeleteTrust(t *testing.T) {
	tx, mock, closeDB := newMockTx(t)
	defer closeDB()

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM trusts WHERE truster_id = $1 AND trustee_id = $2")).
		WithArgs("own-1", "identity-2").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, tx.DeleteTrust("own-1", "identity-2"))
	require.NoError(t, mock.ExpectationsWereMet())
}
