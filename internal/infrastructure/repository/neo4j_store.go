// Neo4jStore is the graph-native alternate C2 backend, grounded on
// amirlehmam-actoris-project's services/identity-cloud/internal/repository/neo4j.go
// (session/transaction shape, constraint bootstrap) adapted from its
// managed-transaction closures to the explicit, caller-held transaction
// store.Tx requires.
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/opena2a/wot/internal/domain"
	"github.com/opena2a/wot/internal/store"
)

// Neo4jStore opens explicit transactions against a Neo4j graph where each
// Identity is an (:Identity) node, each OwnIdentity an (:OwnIdentity) node,
// and each Trust a (:TRUSTS) relationship (each Score a (:HAS_SCORE) one)
// between (:Node {id}) anchors, carrying value/comment, so rank/capacity BFS-adjacent
// queries (which the engine runs in Go, not Cypher — see
// internal/engine/rank.go) still only need a flat AllTrusts()/AllIdentities()
// scan, identical in shape to the Postgres backend.
type Neo4jStore struct {
	driver neo4j.DriverWithContext
}

// OpenNeo4jStore connects and verifies connectivity.
func OpenNeo4jStore(ctx context.Context, uri, username, password string) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	verifyCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := driver.VerifyConnectivity(verifyCtx); err != nil {
		return nil, fmt.Errorf("verify neo4j connectivity: %w", err)
	}
	if err := bootstrapConstraints(ctx, driver); err != nil {
		return nil, err
	}
	return &Neo4jStore{driver: driver}, nil
}

func bootstrapConstraints(ctx context.Context, driver neo4j.DriverWithContext) error {
	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	statements := []string{
		"CREATE CONSTRAINT identity_id IF NOT EXISTS FOR (i:Identity) REQUIRE i.id IS UNIQUE",
		"CREATE CONSTRAINT own_identity_id IF NOT EXISTS FOR (o:OwnIdentity) REQUIRE o.id IS UNIQUE",
	}
	for _, stmt := range statements {
		if _, err := session.Run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("bootstrap constraint: %w", err)
		}
	}
	return nil
}

// Begin opens an explicit transaction (spec §4.2).
func (s *Neo4jStore) Begin(ctx context.Context) (store.Tx, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	tx, err := session.BeginTransaction(ctx)
	if err != nil {
		session.Close(ctx)
		return nil, fmt.Errorf("%w: %v", domain.ErrTransactionAborted, err)
	}
	return &neo4jTx{ctx: ctx, session: session, tx: tx}, nil
}

// Close releases the driver.
func (s *Neo4jStore) Close() error { return s.driver.Close(context.Background()) }

type neo4jTx struct {
	ctx     context.Context
	session neo4j.SessionWithContext
	tx      neo4j.ExplicitTransaction
}

func (t *neo4jTx) Commit() error {
	err := t.tx.Commit(t.ctx)
	t.session.Close(t.ctx)
	return err
}

func (t *neo4jTx) Rollback() error {
	err := t.tx.Rollback(t.ctx)
	t.session.Close(t.ctx)
	return err
}

// --- IdentityRepository ---

func (t *neo4jTx) GetIdentityByID(id string) (*domain.Identity, error) {
	result, err := t.tx.Run(t.ctx, `MATCH (i:Identity {id: $id}) RETURN i`, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	rec, err := singleRecord(t.ctx, result)
	if err != nil {
		return nil, domain.ErrUnknownIdentity
	}
	return nodeToIdentity(rec.Values[0])
}

func (t *neo4jTx) GetIdentityByURI(uri domain.RequestURI) (*domain.Identity, error) {
	return t.GetIdentityByID(uri.RoutingKey)
}

func (t *neo4jTx) AllIdentities() ([]*domain.Identity, error) {
	result, err := t.tx.Run(t.ctx, `MATCH (i:Identity) RETURN i`, nil)
	if err != nil {
		return nil, err
	}
	var out []*domain.Identity
	for result.Next(t.ctx) {
		ident, err := nodeToIdentity(result.Record().Values[0])
		if err != nil {
			return nil, err
		}
		out = append(out, ident)
	}
	return out, result.Err()
}

func (t *neo4jTx) StoreIdentity(identity *domain.Identity) error {
	_, err := t.tx.Run(t.ctx, `
		MERGE (i:Identity {id: $id})
		SET i += $props`,
		map[string]any{"id": identity.ID, "props": identityProps(identity)})
	return err
}

func (t *neo4jTx) DeleteIdentity(id string) error {
	_, err := t.tx.Run(t.ctx, `MATCH (i:Identity {id: $id}) DETACH DELETE i`, map[string]any{"id": id})
	return err
}

// --- OwnIdentityRepository ---

func (t *neo4jTx) GetOwnByID(id string) (*domain.OwnIdentity, error) {
	result, err := t.tx.Run(t.ctx, `MATCH (o:OwnIdentity {id: $id}) RETURN o`, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	rec, err := singleRecord(t.ctx, result)
	if err != nil {
		return nil, domain.ErrUnknownIdentity
	}
	return nodeToOwnIdentity(rec.Values[0])
}

func (t *neo4jTx) AllOwnIdentities() ([]*domain.OwnIdentity, error) {
	result, err := t.tx.Run(t.ctx, `MATCH (o:OwnIdentity) RETURN o`, nil)
	if err != nil {
		return nil, err
	}
	var out []*domain.OwnIdentity
	for result.Next(t.ctx) {
		own, err := nodeToOwnIdentity(result.Record().Values[0])
		if err != nil {
			return nil, err
		}
		out = append(out, own)
	}
	return out, result.Err()
}

func (t *neo4jTx) StoreOwn(own *domain.OwnIdentity) error {
	props := identityProps(&own.Identity)
	props["insert_routing_key"] = own.InsertURI.RoutingKey
	props["insert_crypto_key"] = own.InsertURI.CryptoKey
	props["insert_extra"] = own.InsertURI.Extra
	props["insert_edition"] = own.InsertURI.Edition
	props["last_inserted_edition"] = own.LastInsertedEdition
	props["next_edition_to_insert"] = own.NextEditionToInsert
	if own.LastInsertDate != nil {
		props["last_insert_date"] = own.LastInsertDate.Format(time.RFC3339)
	}
	_, err := t.tx.Run(t.ctx, `
		MERGE (o:OwnIdentity {id: $id})
		SET o += $props`,
		map[string]any{"id": own.ID, "props": props})
	return err
}

func (t *neo4jTx) DeleteOwn(id string) error {
	_, err := t.tx.Run(t.ctx, `MATCH (o:OwnIdentity {id: $id}) DETACH DELETE o`, map[string]any{"id": id})
	return err
}

// --- TrustRepository ---
//
// Trust edges are stored as relationships between generic (:Node {id})
// anchors rather than directly between (:Identity)/(:OwnIdentity) labels,
// since a truster/trustee can be either label and Cypher relationship
// patterns cannot match "either label" without a redundant anchor.

func (t *neo4jTx) GetTrust(truster, trustee string) (*domain.Trust, error) {
	result, err := t.tx.Run(t.ctx, `
		MATCH (:Node {id: $truster})-[r:TRUSTS]->(:Node {id: $trustee})
		RETURN r`, map[string]any{"truster": truster, "trustee": trustee})
	if err != nil {
		return nil, err
	}
	rec, err := singleRecord(t.ctx, result)
	if err != nil {
		return nil, domain.ErrNotTrusted
	}
	return relToTrust(truster, trustee, rec.Values[0])
}

func (t *neo4jTx) GivenBy(truster string) ([]*domain.Trust, error) {
	return t.queryTrusts(`MATCH (:Node {id: $id})-[r:TRUSTS]->(to:Node) RETURN to.id, r`, truster, true)
}

func (t *neo4jTx) ReceivedBy(trustee string) ([]*domain.Trust, error) {
	return t.queryTrusts(`MATCH (from:Node)-[r:TRUSTS]->(:Node {id: $id}) RETURN from.id, r`, trustee, false)
}

func (t *neo4jTx) queryTrusts(cypher, id string, idIsTruster bool) ([]*domain.Trust, error) {
	result, err := t.tx.Run(t.ctx, cypher, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	var out []*domain.Trust
	for result.Next(t.ctx) {
		other := result.Record().Values[0].(string)
		var trust *domain.Trust
		if idIsTruster {
			trust, err = relToTrust(id, other, result.Record().Values[1])
		} else {
			trust, err = relToTrust(other, id, result.Record().Values[1])
		}
		if err != nil {
			return nil, err
		}
		out = append(out, trust)
	}
	return out, result.Err()
}

func (t *neo4jTx) AllTrusts() ([]*domain.Trust, error) {
	result, err := t.tx.Run(t.ctx, `MATCH (from:Node)-[r:TRUSTS]->(to:Node) RETURN from.id, to.id, r`, nil)
	if err != nil {
		return nil, err
	}
	var out []*domain.Trust
	for result.Next(t.ctx) {
		rec := result.Record()
		trust, err := relToTrust(rec.Values[0].(string), rec.Values[1].(string), rec.Values[2])
		if err != nil {
			return nil, err
		}
		out = append(out, trust)
	}
	return out, result.Err()
}

func (t *neo4jTx) StoreTrust(trust *domain.Trust) error {
	_, err := t.tx.Run(t.ctx, `
		MERGE (from:Node {id: $truster})
		MERGE (to:Node {id: $trustee})
		MERGE (from)-[r:TRUSTS]->(to)
		SET r.value = $value, r.comment = $comment,
			r.created_at = $created_at, r.last_changed_at = $last_changed_at`,
		map[string]any{
			"truster": trust.TrusterID, "trustee": trust.TrusteeID,
			"value": trust.Value, "comment": trust.Comment,
			"created_at":      trust.Created.Format(time.RFC3339),
			"last_changed_at": trust.LastChanged.Format(time.RFC3339),
		})
	return err
}

func (t *neo4jTx) DeleteTrust(truster, trustee string) error {
	_, err := t.tx.Run(t.ctx, `
		MATCH (:Node {id: $truster})-[r:TRUSTS]->(:Node {id: $trustee}) DELETE r`,
		map[string]any{"truster": truster, "trustee": trustee})
	return err
}

// --- ScoreRepository ---

func (t *neo4jTx) GetScore(owner, target string) (*domain.Score, error) {
	result, err := t.tx.Run(t.ctx, `
		MATCH (:Node {id: $owner})-[s:HAS_SCORE]->(:Node {id: $target}) RETURN s`,
		map[string]any{"owner": owner, "target": target})
	if err != nil {
		return nil, err
	}
	rec, err := singleRecord(t.ctx, result)
	if err != nil {
		return nil, domain.ErrNotInTrustTree
	}
	return relToScore(owner, target, rec.Values[0])
}

func (t *neo4jTx) ScoresOfOwner(owner string) ([]*domain.Score, error) {
	return t.queryScores(`MATCH (:Node {id: $id})-[s:HAS_SCORE]->(t:Node) RETURN t.id, s`, owner, true)
}

func (t *neo4jTx) ScoresWithTrustee(target string) ([]*domain.Score, error) {
	return t.queryScores(`MATCH (o:Node)-[s:HAS_SCORE]->(:Node {id: $id}) RETURN o.id, s`, target, false)
}

func (t *neo4jTx) queryScores(cypher, id string, idIsOwner bool) ([]*domain.Score, error) {
	result, err := t.tx.Run(t.ctx, cypher, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	var out []*domain.Score
	for result.Next(t.ctx) {
		other := result.Record().Values[0].(string)
		var score *domain.Score
		if idIsOwner {
			score, err = relToScore(id, other, result.Record().Values[1])
		} else {
			score, err = relToScore(other, id, result.Record().Values[1])
		}
		if err != nil {
			return nil, err
		}
		out = append(out, score)
	}
	return out, result.Err()
}

func (t *neo4jTx) AllScores() ([]*domain.Score, error) {
	result, err := t.tx.Run(t.ctx, `MATCH (o:Node)-[s:HAS_SCORE]->(tg:Node) RETURN o.id, tg.id, s`, nil)
	if err != nil {
		return nil, err
	}
	var out []*domain.Score
	for result.Next(t.ctx) {
		rec := result.Record()
		score, err := relToScore(rec.Values[0].(string), rec.Values[1].(string), rec.Values[2])
		if err != nil {
			return nil, err
		}
		out = append(out, score)
	}
	return out, result.Err()
}

func (t *neo4jTx) StoreScore(score *domain.Score) error {
	_, err := t.tx.Run(t.ctx, `
		MERGE (o:Node {id: $owner})
		MERGE (tg:Node {id: $target})
		MERGE (o)-[s:HAS_SCORE]->(tg)
		SET s.value = $value, s.rank = $rank, s.capacity = $capacity`,
		map[string]any{
			"owner": score.OwnerID, "target": score.TargetID,
			"value": int64(score.Value), "rank": score.Rank, "capacity": score.Capacity,
		})
	return err
}

func (t *neo4jTx) DeleteScore(owner, target string) error {
	_, err := t.tx.Run(t.ctx, `
		MATCH (:Node {id: $owner})-[s:HAS_SCORE]->(:Node {id: $target}) DELETE s`,
		map[string]any{"owner": owner, "target": target})
	return err
}

// --- marshaling helpers ---

func singleRecord(ctx context.Context, result neo4j.ResultWithContext) (*neo4j.Record, error) {
	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("no record")
	}
	return result.Record(), nil
}

func identityProps(identity *domain.Identity) map[string]any {
	contexts := make([]string, 0, len(identity.Contexts))
	for c := range identity.Contexts {
		contexts = append(contexts, c)
	}
	props := map[string]any{
		"routing_key":          identity.RequestURI.RoutingKey,
		"crypto_key":           identity.RequestURI.CryptoKey,
		"extra":                identity.RequestURI.Extra,
		"edition":              identity.RequestURI.Edition,
		"latest_edition_hint":  identity.RequestURI.LatestEditionHint,
		"fetch_state":          string(identity.FetchState),
		"publishes_trust_list": identity.PublishesTrustList,
		"contexts":             contexts,
		"created_at":           identity.Created.Format(time.RFC3339),
		"last_changed_at":      identity.LastChanged.Format(time.RFC3339),
	}
	if identity.Nickname != nil {
		props["nickname"] = *identity.Nickname
	}
	if identity.LastFetched != nil {
		props["last_fetched_at"] = identity.LastFetched.Format(time.RFC3339)
	}
	for k, v := range identity.Properties {
		props["prop_"+k] = v
	}
	return props
}

func nodeToIdentity(value any) (*domain.Identity, error) {
	node, ok := value.(neo4j.Node)
	if !ok {
		return nil, fmt.Errorf("unexpected node type %T", value)
	}
	p := node.Props

	ident := &domain.Identity{
		ID: str(p, "id"),
		RequestURI: domain.RequestURI{
			RoutingKey:        str(p, "routing_key"),
			CryptoKey:         str(p, "crypto_key"),
			Extra:             str(p, "extra"),
			Edition:           i64(p, "edition"),
			LatestEditionHint: i64(p, "latest_edition_hint"),
		},
		FetchState:         domain.FetchState(str(p, "fetch_state")),
		PublishesTrustList: boolv(p, "publishes_trust_list"),
		Contexts:           make(map[string]struct{}),
		Properties:         make(map[string]string),
	}
	if nick := str(p, "nickname"); nick != "" {
		ident.Nickname = &nick
	}
	if ctxs, ok := p["contexts"].([]any); ok {
		for _, c := range ctxs {
			if s, ok := c.(string); ok {
				ident.Contexts[s] = struct{}{}
			}
		}
	}
	for k, v := range p {
		if s, ok := v.(string); ok {
			if name, found := cutPrefix(k, "prop_"); found {
				ident.Properties[name] = s
			}
		}
	}
	var err error
	ident.Created, err = parseTime(str(p, "created_at"))
	if err != nil {
		return nil, err
	}
	ident.LastChanged, err = parseTime(str(p, "last_changed_at"))
	if err != nil {
		return nil, err
	}
	if lf := str(p, "last_fetched_at"); lf != "" {
		t, err := parseTime(lf)
		if err != nil {
			return nil, err
		}
		ident.LastFetched = &t
	}
	return ident, nil
}

func nodeToOwnIdentity(value any) (*domain.OwnIdentity, error) {
	base, err := nodeToIdentity(value)
	if err != nil {
		return nil, err
	}
	node := value.(neo4j.Node)
	p := node.Props
	own := &domain.OwnIdentity{
		Identity: *base,
		InsertURI: domain.InsertURI{
			RoutingKey: str(p, "insert_routing_key"),
			CryptoKey:  str(p, "insert_crypto_key"),
			Extra:      str(p, "insert_extra"),
			Edition:    i64(p, "insert_edition"),
		},
		LastInsertedEdition: i64(p, "last_inserted_edition"),
		NextEditionToInsert: i64(p, "next_edition_to_insert"),
	}
	if lid := str(p, "last_insert_date"); lid != "" {
		t, err := parseTime(lid)
		if err != nil {
			return nil, err
		}
		own.LastInsertDate = &t
	}
	return own, nil
}

func relToTrust(truster, trustee string, value any) (*domain.Trust, error) {
	rel, ok := value.(neo4j.Relationship)
	if !ok {
		return nil, fmt.Errorf("unexpected relationship type %T", value)
	}
	p := rel.Props
	created, err := parseTime(str(p, "created_at"))
	if err != nil {
		return nil, err
	}
	changed, err := parseTime(str(p, "last_changed_at"))
	if err != nil {
		return nil, err
	}
	return &domain.Trust{
		TrusterID: truster, TrusteeID: trustee,
		Value: int(i64(p, "value")), Comment: str(p, "comment"),
		Created: created, LastChanged: changed,
	}, nil
}

func relToScore(owner, target string, value any) (*domain.Score, error) {
	rel, ok := value.(neo4j.Relationship)
	if !ok {
		return nil, fmt.Errorf("unexpected relationship type %T", value)
	}
	p := rel.Props
	return &domain.Score{
		OwnerID: owner, TargetID: target,
		Value: int(i64(p, "value")), Rank: int(i64(p, "rank")), Capacity: int(i64(p, "capacity")),
	}, nil
}

func str(p map[string]any, key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

func i64(p map[string]any, key string) int64 {
	switch v := p[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return 0
	}
}

func boolv(p map[string]any, key string) bool {
	v, _ := p[key].(bool)
	return v
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

func cutPrefix(s, prefix string) (string, bool) {
	if len(s) >= len(prefix) && s[:len(prefix)] == prefix {
		return s[len(prefix):], true
	}
	return "", false
}
