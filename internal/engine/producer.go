package engine

import (
	"sort"

	"github.com/opena2a/wot/internal/domain"
	"github.com/opena2a/wot/internal/store"
)

// DefaultProducer implements domain.IdentityFileProducer the way this
// engine's own identity-file format needs it: a bounded, deterministic
// export of one OwnIdentity's public state plus whichever trust-list
// entries the caller selected (the full list via ExportContexts(nil), or a
// context-filtered subset). Wire encoding and signing are the network
// layer's concern (spec §6, §1 Non-goals); this only decides which fields
// belong in the export and enforces the size bound.
type DefaultProducer struct{}

// Produce builds the export for own, with contexts sorted and trusts
// sorted by trustee request URI, truncating trusts to
// limits.MaxTrustListEntries so the lowest-sorting entries are kept
// (spec §6). If own publishes no trust list,
// Trusts is always empty regardless of what the caller passed in.
func (DefaultProducer) Produce(own *domain.OwnIdentity, trusts []domain.TrustListEntry, limits domain.Limits) (domain.IdentityFileExport, error) {
	export := domain.IdentityFileExport{
		PublishesTrustList: own.PublishesTrustList,
		Properties:         own.Properties,
	}
	if own.Nickname != nil {
		export.Nickname = *own.Nickname
	}
	for ctx := range own.Contexts {
		export.Contexts = append(export.Contexts, ctx)
	}
	sort.Strings(export.Contexts)
	if !own.PublishesTrustList {
		return export, nil
	}
	trusts = append([]domain.TrustListEntry(nil), trusts...)
	sort.Slice(trusts, func(i, j int) bool { return trusts[i].TrusteeRequestURI < trusts[j].TrusteeRequestURI })
	if len(trusts) > limits.MaxTrustListEntries {
		trusts = trusts[:limits.MaxTrustListEntries]
	}
	export.Trusts = trusts
	return export, nil
}

// ExportContexts filters own's outbound trust list down to the entries
// whose trustee shares at least one context with the given context set
// (SPEC_FULL.md §C "context-scoped trust list export"), matching the
// original WoT "publish trust list restricted by context" behavior: an
// operator publishing, say, a "dev" edition of their trust list can exclude
// trustees tagged only "personal" even though the full list trusts them
// too. A nil or empty contexts selects the full outbound list. Trusts whose
// trustee Identity row can't be resolved (a dangling trust awaiting
// cleanup) are dropped rather than erroring the export.
func ExportContexts(tx store.Tx, own *domain.OwnIdentity, contexts []string) ([]domain.TrustListEntry, error) {
	trusts, err := tx.GivenBy(own.ID)
	if err != nil {
		return nil, err
	}

	var wanted map[string]struct{}
	if len(contexts) > 0 {
		wanted = make(map[string]struct{}, len(contexts))
		for _, c := range contexts {
			wanted[c] = struct{}{}
		}
	}

	entries := make([]domain.TrustListEntry, 0, len(trusts))
	for _, t := range trusts {
		trustee, err := tx.GetIdentityByID(t.TrusteeID)
		if err != nil {
			continue
		}
		if wanted != nil {
			shared := false
			for ctx := range trustee.Contexts {
				if _, ok := wanted[ctx]; ok {
					shared = true
					break
				}
			}
			if !shared {
				continue
			}
		}
		entries = append(entries, domain.TrustListEntry{
			TrusteeRequestURI: trustee.RequestURI.String(),
			Value:             t.Value,
			Comment:           t.Comment,
		})
	}
	return entries, nil
}
