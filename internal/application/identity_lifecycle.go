package application

import (
	"fmt"

	"github.com/opena2a/wot/internal/crypto"
	"github.com/opena2a/wot/internal/domain"
	"github.com/opena2a/wot/internal/engine"
	"github.com/opena2a/wot/internal/store"
)

// IdentityLifecycleService implements C5's four identity-lifecycle
// transitions (spec §4.5) as explicit tagged-variant operations rather than
// an inheritance hierarchy, grounded on the teacher's constructor-injection
// service style (agent_service.go).
type IdentityLifecycleService struct {
	eng    *engine.Engine
	vault  *crypto.KeyVault
	clock  domain.Clock
	limits domain.Limits
}

// NewIdentityLifecycleService constructs the service.
func NewIdentityLifecycleService(eng *engine.Engine, vault *crypto.KeyVault, clock domain.Clock, limits domain.Limits) *IdentityLifecycleService {
	return &IdentityLifecycleService{eng: eng, vault: vault, clock: clock, limits: limits}
}

// CreateOwn generates a fresh key pair, creates the OwnIdentity, and
// initializes its trust tree with the mandatory self-Score (spec §4.5
// create_own, §3 invariant 2).
func (s *IdentityLifecycleService) CreateOwn(tx store.Tx, nickname string, publishesTrustList bool, contexts []string) (*domain.OwnIdentity, string, error) {
	keyPair, err := crypto.GenerateIdentityKeyPair()
	if err != nil {
		return nil, "", fmt.Errorf("generate key pair: %w", err)
	}
	reqURI, insURI := keyPair.BuildURIs()

	now := s.clock.Now()
	own, err := domain.NewOwnIdentity(keyPair.RoutingKey, reqURI, insURI, nickname, publishesTrustList, s.limits, now)
	if err != nil {
		return nil, "", err
	}
	for _, ctx := range contexts {
		if err := own.AddContext(ctx, s.limits); err != nil {
			return nil, "", err
		}
	}

	encryptedInsert, err := crypto.EncryptInsertURI(s.vault, insURI)
	if err != nil {
		return nil, "", fmt.Errorf("encrypt insert uri: %w", err)
	}

	if err := tx.StoreOwn(own); err != nil {
		return nil, "", err
	}
	if err := tx.StoreScore(domain.NewSelfScore(own.ID)); err != nil {
		return nil, "", err
	}
	return own, encryptedInsert, nil
}

// AddIdentity creates a bare, not-yet-fetched remote Identity from a
// request URI at edition 0, keeping the URI's edition as the latest-edition
// hint (spec §4.5 add_identity).
func (s *IdentityLifecycleService) AddIdentity(tx store.Tx, requestURI string) (*domain.Identity, error) {
	uri, err := domain.ParseRequestURI(requestURI)
	if err != nil {
		return nil, err
	}
	if _, err := tx.GetIdentityByID(uri.RoutingKey); err == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrDuplicateIdentity, uri.RoutingKey)
	} else if err != domain.ErrUnknownIdentity {
		return nil, err
	}

	uri.Edition = 0
	ident, err := domain.NewIdentity(uri.RoutingKey, uri, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := tx.StoreIdentity(ident); err != nil {
		return nil, err
	}
	return ident, nil
}

// RestoreOwn recreates local control of an identity from a previously
// generated insert URI, inheriting a matching remote Identity's known state
// if one exists (spec §4.5 restore_own).
func (s *IdentityLifecycleService) RestoreOwn(tx store.Tx, insertURIRaw string) (*domain.OwnIdentity, error) {
	insURI, err := domain.ParseInsertURI(insertURIRaw)
	if err != nil {
		return nil, err
	}
	id := insURI.RoutingKey

	if _, err := tx.GetOwnByID(id); err == nil {
		return nil, fmt.Errorf("%w: %s is already an own identity", domain.ErrDuplicateIdentity, id)
	} else if err != domain.ErrUnknownIdentity {
		return nil, err
	}

	now := s.clock.Now()
	existing, err := tx.GetIdentityByID(id)

	var own *domain.OwnIdentity
	switch {
	case err == nil:
		// Inherit edition/last_fetched/contexts/properties from the known
		// remote Identity; accept insert_uri's edition only if strictly
		// greater (spec §4.5).
		reqURI := existing.RequestURI
		if insURI.Edition > reqURI.Edition {
			reqURI.Edition = insURI.Edition
			if insURI.Edition > reqURI.LatestEditionHint {
				reqURI.LatestEditionHint = insURI.Edition
			}
		}
		own = &domain.OwnIdentity{
			Identity:            *existing,
			InsertURI:           insURI,
			NextEditionToInsert: reqURI.Edition,
		}
		own.RequestURI = reqURI
		own.FetchState = domain.FetchStateNotFetched
		own.LastChanged = now
		lastInsert := now
		own.LastInsertDate = &lastInsert
		if err := tx.DeleteIdentity(id); err != nil {
			return nil, err
		}
	case err == domain.ErrUnknownIdentity:
		reqURI := domain.RequestURI{
			RoutingKey: insURI.RoutingKey, CryptoKey: insURI.CryptoKey, Extra: insURI.Extra,
			Edition: insURI.Edition, LatestEditionHint: insURI.Edition,
		}
		base, nerr := domain.NewIdentity(id, reqURI, now)
		if nerr != nil {
			return nil, nerr
		}
		lastInsert := now
		own = &domain.OwnIdentity{Identity: *base, InsertURI: insURI, LastInsertDate: &lastInsert, NextEditionToInsert: insURI.Edition}
	default:
		return nil, err
	}

	if err := tx.StoreOwn(own); err != nil {
		return nil, err
	}
	if _, err := s.eng.RecomputeOwner(tx, own.ID); err != nil {
		return nil, err
	}
	return own, nil
}

// DeleteOwn converts an OwnIdentity back into a plain remote Identity,
// preserving its nickname/contexts/properties/given-trusts, and deletes the
// entire Score tree rooted at it. Received trusts are retained (spec §4.5
// delete_own).
func (s *IdentityLifecycleService) DeleteOwn(tx store.Tx, id string) error {
	own, err := tx.GetOwnByID(id)
	if err != nil {
		return err
	}

	scores, err := tx.ScoresOfOwner(id)
	if err != nil {
		return err
	}
	for _, sc := range scores {
		if err := tx.DeleteScore(sc.OwnerID, sc.TargetID); err != nil {
			return err
		}
	}

	projected := own.ToIdentity()
	projected.LastChanged = s.clock.Now()
	if err := tx.DeleteOwn(id); err != nil {
		return err
	}
	return tx.StoreIdentity(&projected)
}
