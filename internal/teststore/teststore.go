// Package teststore is an in-memory store.Store/store.Tx used only by this
// module's own tests, grounded on the shape the Postgres/Neo4j backends
// expose (a handful of keyed maps, no rollback beyond what tests need).
package teststore

import (
	"context"

	"github.com/opena2a/wot/internal/domain"
	"github.com/opena2a/wot/internal/store"
)

// MemStore is an in-memory store.Store.
type MemStore struct {
	Identities map[string]*domain.Identity
	Owns       map[string]*domain.OwnIdentity
	Trusts     map[[2]string]*domain.Trust
	Scores     map[[2]string]*domain.Score
}

// New constructs an empty MemStore.
func New() *MemStore {
	return &MemStore{
		Identities: make(map[string]*domain.Identity),
		Owns:       make(map[string]*domain.OwnIdentity),
		Trusts:     make(map[[2]string]*domain.Trust),
		Scores:     make(map[[2]string]*domain.Score),
	}
}

func (m *MemStore) Begin(ctx context.Context) (store.Tx, error) { return &memTx{m}, nil }
func (m *MemStore) Close() error                                { return nil }

type memTx struct{ s *MemStore }

func (t *memTx) Commit() error   { return nil }
func (t *memTx) Rollback() error { return nil }

func (t *memTx) GetIdentityByID(id string) (*domain.Identity, error) {
	if ident, ok := t.s.Identities[id]; ok {
		return ident, nil
	}
	if own, ok := t.s.Owns[id]; ok {
		ident := own.ToIdentity()
		return &ident, nil
	}
	return nil, domain.ErrUnknownIdentity
}

func (t *memTx) GetIdentityByURI(uri domain.RequestURI) (*domain.Identity, error) {
	for _, ident := range t.s.Identities {
		if ident.RequestURI.RoutingKey == uri.RoutingKey {
			return ident, nil
		}
	}
	return nil, domain.ErrUnknownIdentity
}

func (t *memTx) AllIdentities() ([]*domain.Identity, error) {
	out := make([]*domain.Identity, 0, len(t.s.Identities))
	for _, ident := range t.s.Identities {
		out = append(out, ident)
	}
	return out, nil
}

func (t *memTx) StoreIdentity(identity *domain.Identity) error {
	cp := *identity
	t.s.Identities[identity.ID] = &cp
	return nil
}

func (t *memTx) DeleteIdentity(id string) error {
	delete(t.s.Identities, id)
	return nil
}

func (t *memTx) GetOwnByID(id string) (*domain.OwnIdentity, error) {
	if own, ok := t.s.Owns[id]; ok {
		return own, nil
	}
	return nil, domain.ErrUnknownIdentity
}

func (t *memTx) AllOwnIdentities() ([]*domain.OwnIdentity, error) {
	out := make([]*domain.OwnIdentity, 0, len(t.s.Owns))
	for _, own := range t.s.Owns {
		out = append(out, own)
	}
	return out, nil
}

func (t *memTx) StoreOwn(own *domain.OwnIdentity) error {
	cp := *own
	t.s.Owns[own.ID] = &cp
	return nil
}

func (t *memTx) DeleteOwn(id string) error {
	delete(t.s.Owns, id)
	return nil
}

func (t *memTx) GetTrust(truster, trustee string) (*domain.Trust, error) {
	if tr, ok := t.s.Trusts[[2]string{truster, trustee}]; ok {
		return tr, nil
	}
	return nil, domain.ErrNotTrusted
}

func (t *memTx) GivenBy(truster string) ([]*domain.Trust, error) {
	var out []*domain.Trust
	for k, tr := range t.s.Trusts {
		if k[0] == truster {
			out = append(out, tr)
		}
	}
	return out, nil
}

func (t *memTx) ReceivedBy(trustee string) ([]*domain.Trust, error) {
	var out []*domain.Trust
	for k, tr := range t.s.Trusts {
		if k[1] == trustee {
			out = append(out, tr)
		}
	}
	return out, nil
}

func (t *memTx) AllTrusts() ([]*domain.Trust, error) {
	out := make([]*domain.Trust, 0, len(t.s.Trusts))
	for _, tr := range t.s.Trusts {
		out = append(out, tr)
	}
	return out, nil
}

func (t *memTx) StoreTrust(trust *domain.Trust) error {
	cp := *trust
	t.s.Trusts[[2]string{trust.TrusterID, trust.TrusteeID}] = &cp
	return nil
}

func (t *memTx) DeleteTrust(truster, trustee string) error {
	delete(t.s.Trusts, [2]string{truster, trustee})
	return nil
}

func (t *memTx) GetScore(owner, target string) (*domain.Score, error) {
	if s, ok := t.s.Scores[[2]string{owner, target}]; ok {
		return s, nil
	}
	return nil, domain.ErrNotInTrustTree
}

func (t *memTx) ScoresOfOwner(owner string) ([]*domain.Score, error) {
	var out []*domain.Score
	for k, s := range t.s.Scores {
		if k[0] == owner {
			out = append(out, s)
		}
	}
	return out, nil
}

func (t *memTx) ScoresWithTrustee(target string) ([]*domain.Score, error) {
	var out []*domain.Score
	for k, s := range t.s.Scores {
		if k[1] == target {
			out = append(out, s)
		}
	}
	return out, nil
}

func (t *memTx) AllScores() ([]*domain.Score, error) {
	out := make([]*domain.Score, 0, len(t.s.Scores))
	for _, s := range t.s.Scores {
		out = append(out, s)
	}
	return out, nil
}

func (t *memTx) StoreScore(score *domain.Score) error {
	cp := *score
	t.s.Scores[[2]string{score.OwnerID, score.TargetID}] = &cp
	return nil
}

func (t *memTx) DeleteScore(owner, target string) error {
	delete(t.s.Scores, [2]string{owner, target})
	return nil
}
