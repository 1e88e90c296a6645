package engine

import (
	"github.com/opena2a/wot/internal/domain"
	"github.com/opena2a/wot/internal/store"
)

// recomputeOwner recomputes the full trust tree for one OwnIdentity and
// reconciles it against the stored Score rows: inserts/updates rows whose
// value differs, deletes rows that fell out of the tree (NotInTrustTree),
// and applies the capacity-transition refetch rule (spec §4.3 step 4)
// whenever a trustee's capacity crosses 0 -> >0. Returns the number of
// Score rows that were inserted, updated, or deleted.
func (e *Engine) recomputeOwner(tx store.Tx, ownerID string) (int, error) {
	g, err := buildGraph(tx)
	if err != nil {
		return 0, err
	}
	ranks := rankAndCapacity(g, ownerID)

	existing, err := tx.ScoresOfOwner(ownerID)
	if err != nil {
		return 0, err
	}
	existingByTarget := make(map[string]*domain.Score, len(existing))
	for _, s := range existing {
		existingByTarget[s.TargetID] = s
	}

	changed := 0
	seen := make(map[string]bool, len(ranks))

	for target, r := range ranks {
		seen[target] = true
		var newScore domain.Score
		if target == ownerID {
			newScore = *domain.NewSelfScore(ownerID)
		} else {
			newScore = domain.Score{
				OwnerID:  ownerID,
				TargetID: target,
				Rank:     r.rank,
				Capacity: r.capacity,
				Value:    value(g, ranks, target),
			}
		}

		old, existed := existingByTarget[target]
		if existed && *old == newScore {
			continue
		}

		if existed && old.Capacity == 0 && newScore.Capacity > 0 {
			if err := e.triggerRefetch(tx, target); err != nil {
				return changed, err
			}
		}

		if err := tx.StoreScore(&newScore); err != nil {
			return changed, err
		}
		changed++
	}

	for target, old := range existingByTarget {
		if seen[target] {
			continue
		}
		_ = old
		if err := tx.DeleteScore(ownerID, target); err != nil {
			return changed, err
		}
		changed++
	}

	if changed > 0 && e.rankCache != nil {
		e.rankCache.Invalidate()
	}

	return changed, nil
}

// triggerRefetch implements spec §4.3 step 4: when a trustee's capacity
// transitions from 0 to positive, its current edition must be re-parsed
// because its outbound trusts were not imported while capacity was 0.
func (e *Engine) triggerRefetch(tx store.Tx, trusteeID string) error {
	ident, err := tx.GetIdentityByID(trusteeID)
	if err != nil {
		if err == domain.ErrUnknownIdentity {
			return nil
		}
		return err
	}
	ident.MarkForRefetch(e.clock.Now())
	e.metrics.RefetchTriggered()
	return tx.StoreIdentity(ident)
}
