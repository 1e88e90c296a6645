// Package importer implements trust-list import (C4): the batched,
// all-or-nothing application of one remote identity's fetched trust list
// (spec §4.4).
package importer

import (
	"fmt"

	"github.com/opena2a/wot/internal/domain"
	"github.com/opena2a/wot/internal/engine"
	"github.com/opena2a/wot/internal/store"
)

// Importer applies a parsed IdentityFileImport under one transaction.
type Importer struct {
	eng    *engine.Engine
	clock  domain.Clock
	limits domain.Limits
}

// New constructs an Importer.
func New(eng *engine.Engine, clock domain.Clock, limits domain.Limits) *Importer {
	return &Importer{eng: eng, clock: clock, limits: limits}
}

// Import applies doc under tx, following spec §4.4 steps 1-6. The caller
// owns tx: on any returned error, the caller must Rollback; Import never
// rolls back on the caller's behalf, matching the Batch contract (spec §9).
func (imp *Importer) Import(tx store.Tx, doc domain.IdentityFileImport) error {
	if len(doc.Trusts) > imp.limits.MaxTrustListEntries {
		return fmt.Errorf("%w: trust list has %d entries, limit is %d", domain.ErrInvalidParameter, len(doc.Trusts), imp.limits.MaxTrustListEntries)
	}

	batch := imp.eng.BeginTrustListImport(tx, doc.IdentityID)
	finished := false
	defer func() {
		if !finished {
			batch.Abort()
		}
	}()

	now := imp.clock.Now()

	x, err := tx.GetIdentityByID(doc.IdentityID)
	if err != nil {
		if err != domain.ErrUnknownIdentity {
			return err
		}
		uri, perr := domain.ParseRequestURI(fmt.Sprintf("USK@%s,,/%s/%d", doc.IdentityID, domain.DocName, doc.Edition))
		if perr != nil {
			uri = domain.RequestURI{RoutingKey: doc.IdentityID, Edition: doc.Edition, LatestEditionHint: doc.Edition}
		}
		x, err = domain.NewIdentity(doc.IdentityID, uri, now)
		if err != nil {
			return err
		}
	}

	// Step 2: upsert X's own fields, bump edition, onFetched.
	if doc.Nickname != "" {
		if err := x.SetNickname(doc.Nickname, imp.limits); err != nil {
			return err
		}
	}
	x.PublishesTrustList = doc.PublishesTrustList
	for _, ctx := range doc.Contexts {
		if err := x.AddContext(ctx, imp.limits); err != nil {
			return err
		}
	}
	for name, val := range doc.Properties {
		if err := x.SetProperty(name, val, imp.limits); err != nil {
			return err
		}
	}
	if err := x.SetEdition(doc.Edition, now); err != nil {
		return err
	}
	x.OnFetched(now)
	if err := tx.StoreIdentity(x); err != nil {
		return err
	}

	xHasCapacity, err := hasPositiveCapacityAnywhere(tx, doc.IdentityID)
	if err != nil {
		return err
	}

	seen := make(map[string]bool, len(doc.Trusts))
	for _, entry := range doc.Trusts {
		trusteeURI, err := domain.ParseRequestURI(entry.TrusteeRequestURI)
		if err != nil {
			return err
		}
		trusteeID := trusteeURI.RoutingKey

		if _, err := tx.GetIdentityByID(trusteeID); err != nil {
			if err != domain.ErrUnknownIdentity {
				return err
			}
			if !xHasCapacity {
				// Anti-Sybil flood control (spec §4.4 step 3): a
				// zero-capacity identity cannot flood the graph with stub
				// identities for trustees no one else has heard of.
				continue
			}
			stub, err := domain.NewIdentity(trusteeID, trusteeURI, now)
			if err != nil {
				return err
			}
			if err := tx.StoreIdentity(stub); err != nil {
				return err
			}
		}

		seen[trusteeID] = true
		if _, err := imp.eng.SetTrust(batch.Tx(), doc.IdentityID, trusteeID, entry.Value, entry.Comment); err != nil {
			return err
		}
	}

	// Step 4: remove any previously recorded Trust from X absent from the
	// new list.
	given, err := tx.GivenBy(doc.IdentityID)
	if err != nil {
		return err
	}
	for _, t := range given {
		if seen[t.TrusteeID] {
			continue
		}
		if err := imp.eng.RemoveTrust(batch.Tx(), doc.IdentityID, t.TrusteeID); err != nil {
			return err
		}
	}

	finished = true
	return batch.Finish()
}

// hasPositiveCapacityAnywhere reports whether identityID has a positive
// capacity in at least one OwnIdentity's trust tree (spec §4.4 step 3
// anti-Sybil flood control).
func hasPositiveCapacityAnywhere(tx store.Tx, identityID string) (bool, error) {
	owners, err := tx.AllOwnIdentities()
	if err != nil {
		return false, err
	}
	for _, own := range owners {
		s, err := tx.GetScore(own.ID, identityID)
		if err != nil {
			if err == domain.ErrNotInTrustTree {
				continue
			}
			return false, err
		}
		if s.Capacity > 0 {
			return true, nil
		}
	}
	return false, nil
}
