package engine

import (
	"github.com/opena2a/wot/internal/domain"
	"github.com/opena2a/wot/internal/store"
)

// FetchEligibleIdentities implements the fetch-eligibility policy (spec §1,
// §4.3): an Identity is worth fetching only while it carries positive
// capacity in at least one OwnIdentity's trust tree and its current edition
// has not already been retrieved. An Identity visible only at capacity 0
// (or not reachable at all) is never fetched — the anti-Sybil property
// depends on never spending fetch work on zero-capacity nodes.
func (e *Engine) FetchEligibleIdentities(tx store.Tx) ([]*domain.Identity, error) {
	identities, err := tx.AllIdentities()
	if err != nil {
		return nil, err
	}
	scores, err := tx.AllScores()
	if err != nil {
		return nil, err
	}
	hasCapacity := make(map[string]bool, len(scores))
	for _, s := range scores {
		if s.Capacity > 0 {
			hasCapacity[s.TargetID] = true
		}
	}

	var eligible []*domain.Identity
	for _, ident := range identities {
		if ident.FetchState != domain.FetchStateNotFetched {
			continue
		}
		if hasCapacity[ident.ID] {
			eligible = append(eligible, ident)
		}
	}
	return eligible, nil
}
