// Package repository implements the store.Store facade (C2) against
// concrete backends. PostgresStore is the primary backend, grounded on the
// teacher's sqlx-based repositories (capability_repository.go,
// oauth_repository.go) and its database/postgres.go connection setup.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/opena2a/wot/internal/domain"
	"github.com/opena2a/wot/internal/store"
)

// PostgresConfig holds the connection parameters (adapted from the
// teacher's database.PostgresConfig).
type PostgresConfig struct {
	Host            string
	Port            string
	Database        string
	User            string
	Password        string
	SSLMode         string
	MaxConnections  int
	ConnMaxLifetime time.Duration
}

// PostgresStore is the store.Store implementation backed by PostgreSQL.
type PostgresStore struct {
	db *sqlx.DB
}

// OpenPostgresStore connects and pings, mirroring the teacher's
// database.Connect.
func OpenPostgresStore(cfg PostgresConfig) (*PostgresStore, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.MaxConnections > 0 {
		db.SetMaxOpenConns(cfg.MaxConnections)
		db.SetMaxIdleConns(cfg.MaxConnections / 2)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Begin opens a new transaction (spec §4.2).
func (s *PostgresStore) Begin(ctx context.Context) (store.Tx, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransactionAborted, err)
	}
	return &postgresTx{tx: tx}, nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() error { return s.db.Close() }

// postgresTx implements store.Tx over a single *sqlx.Tx. Every method is a
// direct, unbuffered SQL round-trip: the engine already holds the full
// graph in memory for a recomputation pass (internal/engine/rank.go
// buildGraph), so there is no benefit to a per-Tx cache here.
type postgresTx struct {
	tx *sqlx.Tx
}

func (t *postgresTx) Commit() error   { return t.tx.Commit() }
func (t *postgresTx) Rollback() error { return t.tx.Rollback() }

// --- IdentityRepository ---

type identityRow struct {
	ID                 string    `db:"id"`
	RoutingKey         string    `db:"routing_key"`
	CryptoKey          string    `db:"crypto_key"`
	Extra              string    `db:"extra"`
	Edition            int64     `db:"edition"`
	LatestEditionHint  int64     `db:"latest_edition_hint"`
	FetchState         string    `db:"fetch_state"`
	Nickname           *string   `db:"nickname"`
	PublishesTrustList bool      `db:"publishes_trust_list"`
	Contexts           []byte    `db:"contexts"`
	Properties         []byte    `db:"properties"`
	Created            time.Time `db:"created_at"`
	LastFetched        *time.Time `db:"last_fetched_at"`
	LastChanged        time.Time `db:"last_changed_at"`
}

func (t *postgresTx) GetIdentityByID(id string) (*domain.Identity, error) {
	var row identityRow
	err := t.tx.Get(&row, `SELECT id, routing_key, crypto_key, extra, edition, latest_edition_hint,
		fetch_state, nickname, publishes_trust_list, contexts, properties, created_at, last_fetched_at, last_changed_at
		FROM identities WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, domain.ErrUnknownIdentity
	}
	if err != nil {
		return nil, err
	}
	return rowToIdentity(row)
}

func (t *postgresTx) GetIdentityByURI(uri domain.RequestURI) (*domain.Identity, error) {
	var row identityRow
	err := t.tx.Get(&row, `SELECT id, routing_key, crypto_key, extra, edition, latest_edition_hint,
		fetch_state, nickname, publishes_trust_list, contexts, properties, created_at, last_fetched_at, last_changed_at
		FROM identities WHERE routing_key = $1`, uri.RoutingKey)
	if err == sql.ErrNoRows {
		return nil, domain.ErrUnknownIdentity
	}
	if err != nil {
		return nil, err
	}
	return rowToIdentity(row)
}

func (t *postgresTx) AllIdentities() ([]*domain.Identity, error) {
	var rows []identityRow
	if err := t.tx.Select(&rows, `SELECT id, routing_key, crypto_key, extra, edition, latest_edition_hint,
		fetch_state, nickname, publishes_trust_list, contexts, properties, created_at, last_fetched_at, last_changed_at
		FROM identities`); err != nil {
		return nil, err
	}
	out := make([]*domain.Identity, 0, len(rows))
	for _, r := range rows {
		ident, err := rowToIdentity(r)
		if err != nil {
			return nil, err
		}
		out = append(out, ident)
	}
	return out, nil
}

func (t *postgresTx) StoreIdentity(identity *domain.Identity) error {
	contexts, err := encodeStringSet(identity.Contexts)
	if err != nil {
		return err
	}
	properties, err := encodeStringMap(identity.Properties)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(`
		INSERT INTO identities (id, routing_key, crypto_key, extra, edition, latest_edition_hint,
			fetch_state, nickname, publishes_trust_list, contexts, properties, created_at, last_fetched_at, last_changed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (id) DO UPDATE SET
			routing_key = EXCLUDED.routing_key, crypto_key = EXCLUDED.crypto_key, extra = EXCLUDED.extra,
			edition = EXCLUDED.edition, latest_edition_hint = EXCLUDED.latest_edition_hint,
			fetch_state = EXCLUDED.fetch_state, nickname = EXCLUDED.nickname,
			publishes_trust_list = EXCLUDED.publishes_trust_list, contexts = EXCLUDED.contexts,
			properties = EXCLUDED.properties, last_fetched_at = EXCLUDED.last_fetched_at,
			last_changed_at = EXCLUDED.last_changed_at`,
		identity.ID, identity.RequestURI.RoutingKey, identity.RequestURI.CryptoKey, identity.RequestURI.Extra,
		identity.RequestURI.Edition, identity.RequestURI.LatestEditionHint, string(identity.FetchState),
		identity.Nickname, identity.PublishesTrustList, contexts, properties,
		identity.Created, identity.LastFetched, identity.LastChanged,
	)
	return err
}

func (t *postgresTx) DeleteIdentity(id string) error {
	_, err := t.tx.Exec(`DELETE FROM identities WHERE id = $1`, id)
	return err
}

func rowToIdentity(r identityRow) (*domain.Identity, error) {
	contexts, err := decodeStringSet(r.Contexts)
	if err != nil {
		return nil, err
	}
	properties, err := decodeStringMap(r.Properties)
	if err != nil {
		return nil, err
	}
	return &domain.Identity{
		ID: r.ID,
		RequestURI: domain.RequestURI{
			RoutingKey:        r.RoutingKey,
			CryptoKey:         r.CryptoKey,
			Extra:             r.Extra,
			Edition:           r.Edition,
			LatestEditionHint: r.LatestEditionHint,
		},
		FetchState:         domain.FetchState(r.FetchState),
		Nickname:           r.Nickname,
		PublishesTrustList: r.PublishesTrustList,
		Contexts:           contexts,
		Properties:         properties,
		Created:            r.Created,
		LastFetched:        r.LastFetched,
		LastChanged:        r.LastChanged,
	}, nil
}

// --- OwnIdentityRepository ---

type ownIdentityRow struct {
	identityRow
	InsertRoutingKey    string     `db:"insert_routing_key"`
	InsertCryptoKey     string     `db:"insert_crypto_key"`
	InsertExtra         string     `db:"insert_extra"`
	InsertEdition       int64      `db:"insert_edition"`
	LastInsertedEdition int64      `db:"last_inserted_edition"`
	LastInsertDate      *time.Time `db:"last_insert_date"`
	NextEditionToInsert int64      `db:"next_edition_to_insert"`
}

const ownIdentityColumns = `id, routing_key, crypto_key, extra, edition, latest_edition_hint,
	fetch_state, nickname, publishes_trust_list, contexts, properties, created_at, last_fetched_at, last_changed_at,
	insert_routing_key, insert_crypto_key, insert_extra, insert_edition,
	last_inserted_edition, last_insert_date, next_edition_to_insert`

func (t *postgresTx) GetOwnByID(id string) (*domain.OwnIdentity, error) {
	var row ownIdentityRow
	err := t.tx.Get(&row, `SELECT `+ownIdentityColumns+` FROM own_identities WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, domain.ErrUnknownIdentity
	}
	if err != nil {
		return nil, err
	}
	return rowToOwnIdentity(row)
}

func (t *postgresTx) AllOwnIdentities() ([]*domain.OwnIdentity, error) {
	var rows []ownIdentityRow
	if err := t.tx.Select(&rows, `SELECT `+ownIdentityColumns+` FROM own_identities`); err != nil {
		return nil, err
	}
	out := make([]*domain.OwnIdentity, 0, len(rows))
	for _, r := range rows {
		own, err := rowToOwnIdentity(r)
		if err != nil {
			return nil, err
		}
		out = append(out, own)
	}
	return out, nil
}

func (t *postgresTx) StoreOwn(own *domain.OwnIdentity) error {
	contexts, err := encodeStringSet(own.Contexts)
	if err != nil {
		return err
	}
	properties, err := encodeStringMap(own.Properties)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(`
		INSERT INTO own_identities (id, routing_key, crypto_key, extra, edition, latest_edition_hint,
			fetch_state, nickname, publishes_trust_list, contexts, properties, created_at, last_fetched_at, last_changed_at,
			insert_routing_key, insert_crypto_key, insert_extra, insert_edition,
			last_inserted_edition, last_insert_date, next_edition_to_insert)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
		ON CONFLICT (id) DO UPDATE SET
			edition = EXCLUDED.edition, latest_edition_hint = EXCLUDED.latest_edition_hint,
			fetch_state = EXCLUDED.fetch_state, nickname = EXCLUDED.nickname,
			publishes_trust_list = EXCLUDED.publishes_trust_list, contexts = EXCLUDED.contexts,
			properties = EXCLUDED.properties, last_fetched_at = EXCLUDED.last_fetched_at,
			last_changed_at = EXCLUDED.last_changed_at, last_inserted_edition = EXCLUDED.last_inserted_edition,
			last_insert_date = EXCLUDED.last_insert_date, next_edition_to_insert = EXCLUDED.next_edition_to_insert`,
		own.ID, own.RequestURI.RoutingKey, own.RequestURI.CryptoKey, own.RequestURI.Extra,
		own.RequestURI.Edition, own.RequestURI.LatestEditionHint, string(own.FetchState),
		own.Nickname, own.PublishesTrustList, contexts, properties,
		own.Created, own.LastFetched, own.LastChanged,
		own.InsertURI.RoutingKey, own.InsertURI.CryptoKey, own.InsertURI.Extra, own.InsertURI.Edition,
		own.LastInsertedEdition, own.LastInsertDate, own.NextEditionToInsert,
	)
	return err
}

func (t *postgresTx) DeleteOwn(id string) error {
	_, err := t.tx.Exec(`DELETE FROM own_identities WHERE id = $1`, id)
	return err
}

func rowToOwnIdentity(r ownIdentityRow) (*domain.OwnIdentity, error) {
	base, err := rowToIdentity(r.identityRow)
	if err != nil {
		return nil, err
	}
	return &domain.OwnIdentity{
		Identity: *base,
		InsertURI: domain.InsertURI{
			RoutingKey: r.InsertRoutingKey,
			CryptoKey:  r.InsertCryptoKey,
			Extra:      r.InsertExtra,
			Edition:    r.InsertEdition,
		},
		LastInsertedEdition: r.LastInsertedEdition,
		LastInsertDate:      r.LastInsertDate,
		NextEditionToInsert: r.NextEditionToInsert,
	}, nil
}

// --- TrustRepository ---

type trustRow struct {
	TrusterID   string    `db:"truster_id"`
	TrusteeID   string    `db:"trustee_id"`
	Value       int       `db:"value"`
	Comment     string    `db:"comment"`
	Created     time.Time `db:"created_at"`
	LastChanged time.Time `db:"last_changed_at"`
}

func (t *postgresTx) GetTrust(truster, trustee string) (*domain.Trust, error) {
	var row trustRow
	err := t.tx.Get(&row, `SELECT truster_id, trustee_id, value, comment, created_at, last_changed_at
		FROM trusts WHERE truster_id = $1 AND trustee_id = $2`, truster, trustee)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotTrusted
	}
	if err != nil {
		return nil, err
	}
	return rowToTrust(row), nil
}

func (t *postgresTx) GivenBy(truster string) ([]*domain.Trust, error) {
	var rows []trustRow
	if err := t.tx.Select(&rows, `SELECT truster_id, trustee_id, value, comment, created_at, last_changed_at
		FROM trusts WHERE truster_id = $1`, truster); err != nil {
		return nil, err
	}
	return rowsToTrusts(rows), nil
}

func (t *postgresTx) ReceivedBy(trustee string) ([]*domain.Trust, error) {
	var rows []trustRow
	if err := t.tx.Select(&rows, `SELECT truster_id, trustee_id, value, comment, created_at, last_changed_at
		FROM trusts WHERE trustee_id = $1`, trustee); err != nil {
		return nil, err
	}
	return rowsToTrusts(rows), nil
}

func (t *postgresTx) AllTrusts() ([]*domain.Trust, error) {
	var rows []trustRow
	if err := t.tx.Select(&rows, `SELECT truster_id, trustee_id, value, comment, created_at, last_changed_at
		FROM trusts`); err != nil {
		return nil, err
	}
	return rowsToTrusts(rows), nil
}

func (t *postgresTx) StoreTrust(trust *domain.Trust) error {
	_, err := t.tx.Exec(`
		INSERT INTO trusts (truster_id, trustee_id, value, comment, created_at, last_changed_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (truster_id, trustee_id) DO UPDATE SET
			value = EXCLUDED.value, comment = EXCLUDED.comment, last_changed_at = EXCLUDED.last_changed_at`,
		trust.TrusterID, trust.TrusteeID, trust.Value, trust.Comment, trust.Created, trust.LastChanged)
	return err
}

func (t *postgresTx) DeleteTrust(truster, trustee string) error {
	_, err := t.tx.Exec(`DELETE FROM trusts WHERE truster_id = $1 AND trustee_id = $2`, truster, trustee)
	return err
}

func rowToTrust(r trustRow) *domain.Trust {
	return &domain.Trust{
		TrusterID: r.TrusterID, TrusteeID: r.TrusteeID, Value: r.Value, Comment: r.Comment,
		Created: r.Created, LastChanged: r.LastChanged,
	}
}

func rowsToTrusts(rows []trustRow) []*domain.Trust {
	out := make([]*domain.Trust, 0, len(rows))
	for _, r := range rows {
		out = append(out, rowToTrust(r))
	}
	return out
}

// --- ScoreRepository ---

type scoreRow struct {
	OwnerID  string `db:"owner_id"`
	TargetID string `db:"target_id"`
	Value    int64  `db:"value"`
	Rank     int    `db:"rank"`
	Capacity int    `db:"capacity"`
}

func (t *postgresTx) GetScore(owner, target string) (*domain.Score, error) {
	var row scoreRow
	err := t.tx.Get(&row, `SELECT owner_id, target_id, value, rank, capacity
		FROM scores WHERE owner_id = $1 AND target_id = $2`, owner, target)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotInTrustTree
	}
	if err != nil {
		return nil, err
	}
	return rowToScore(row), nil
}

func (t *postgresTx) ScoresOfOwner(owner string) ([]*domain.Score, error) {
	var rows []scoreRow
	if err := t.tx.Select(&rows, `SELECT owner_id, target_id, value, rank, capacity
		FROM scores WHERE owner_id = $1`, owner); err != nil {
		return nil, err
	}
	return rowsToScores(rows), nil
}

func (t *postgresTx) ScoresWithTrustee(target string) ([]*domain.Score, error) {
	var rows []scoreRow
	if err := t.tx.Select(&rows, `SELECT owner_id, target_id, value, rank, capacity
		FROM scores WHERE target_id = $1`, target); err != nil {
		return nil, err
	}
	return rowsToScores(rows), nil
}

func (t *postgresTx) AllScores() ([]*domain.Score, error) {
	var rows []scoreRow
	if err := t.tx.Select(&rows, `SELECT owner_id, target_id, value, rank, capacity FROM scores`); err != nil {
		return nil, err
	}
	return rowsToScores(rows), nil
}

func (t *postgresTx) StoreScore(score *domain.Score) error {
	_, err := t.tx.Exec(`
		INSERT INTO scores (owner_id, target_id, value, rank, capacity)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (owner_id, target_id) DO UPDATE SET
			value = EXCLUDED.value, rank = EXCLUDED.rank, capacity = EXCLUDED.capacity`,
		score.OwnerID, score.TargetID, int64(score.Value), score.Rank, score.Capacity)
	return err
}

func (t *postgresTx) DeleteScore(owner, target string) error {
	_, err := t.tx.Exec(`DELETE FROM scores WHERE owner_id = $1 AND target_id = $2`, owner, target)
	return err
}

func rowToScore(r scoreRow) *domain.Score {
	return &domain.Score{OwnerID: r.OwnerID, TargetID: r.TargetID, Value: int(r.Value), Rank: r.Rank, Capacity: r.Capacity}
}

func rowsToScores(rows []scoreRow) []*domain.Score {
	out := make([]*domain.Score, 0, len(rows))
	for _, r := range rows {
		out = append(out, rowToScore(r))
	}
	return out
}
