package engine

import (
	"fmt"

	"github.com/opena2a/wot/internal/domain"
	"github.com/opena2a/wot/internal/store"
)

// IntegrityReport summarizes the invariant violations VerifyDatabaseIntegrity
// found (spec §4.6).
type IntegrityReport struct {
	DuplicateIdentities []string
	DuplicateOwn        []string
	DuplicateTrusts     []string
	DuplicateScores     []string
	DanglingTrusts      []string
	MissingSelfScores   []string
}

// Clean reports whether no violation was found.
func (r IntegrityReport) Clean() bool {
	return len(r.DuplicateIdentities) == 0 && len(r.DuplicateOwn) == 0 && len(r.DuplicateTrusts) == 0 &&
		len(r.DuplicateScores) == 0 && len(r.DanglingTrusts) == 0 && len(r.MissingSelfScores) == 0
}

// VerifyDatabaseIntegrity scans for duplicate rows, dangling references, and
// missing self-scores (spec §4.6). A store backend that enforces primary
// keys (Postgres) cannot itself produce duplicate rows, but the scan still
// catches a backend without that guarantee (e.g. a graph store written to
// directly outside the engine) and always catches dangling references and
// missing self-scores, since those are cross-row invariants no single
// backend constraint enforces.
func (e *Engine) VerifyDatabaseIntegrity(tx store.Tx) (IntegrityReport, error) {
	var report IntegrityReport

	identities, err := tx.AllIdentities()
	if err != nil {
		return report, err
	}
	knownIdentity := make(map[string]bool, len(identities))
	seenIdentity := make(map[string]bool, len(identities))
	for _, ident := range identities {
		knownIdentity[ident.ID] = true
		if seenIdentity[ident.ID] {
			report.DuplicateIdentities = append(report.DuplicateIdentities, ident.ID)
		}
		seenIdentity[ident.ID] = true
	}

	owns, err := tx.AllOwnIdentities()
	if err != nil {
		return report, err
	}
	seenOwn := make(map[string]bool, len(owns))
	for _, own := range owns {
		knownIdentity[own.ID] = true
		if seenOwn[own.ID] {
			report.DuplicateOwn = append(report.DuplicateOwn, own.ID)
		}
		seenOwn[own.ID] = true
	}

	trusts, err := tx.AllTrusts()
	if err != nil {
		return report, err
	}
	seenTrust := make(map[edgeKey]bool, len(trusts))
	for _, t := range trusts {
		key := edgeKey{t.TrusterID, t.TrusteeID}
		if seenTrust[key] {
			report.DuplicateTrusts = append(report.DuplicateTrusts, fmt.Sprintf("%s->%s", t.TrusterID, t.TrusteeID))
		}
		seenTrust[key] = true
		if !knownIdentity[t.TrusterID] || !knownIdentity[t.TrusteeID] {
			report.DanglingTrusts = append(report.DanglingTrusts, fmt.Sprintf("%s->%s", t.TrusterID, t.TrusteeID))
		}
	}

	scores, err := tx.AllScores()
	if err != nil {
		return report, err
	}
	seenScore := make(map[edgeKey]bool, len(scores))
	hasSelfScore := make(map[string]bool, len(owns))
	for _, s := range scores {
		key := edgeKey{s.OwnerID, s.TargetID}
		if seenScore[key] {
			report.DuplicateScores = append(report.DuplicateScores, fmt.Sprintf("%s/%s", s.OwnerID, s.TargetID))
		}
		seenScore[key] = true
		if s.IsSelfScore() {
			hasSelfScore[s.OwnerID] = true
		}
	}
	for _, own := range owns {
		if !hasSelfScore[own.ID] {
			report.MissingSelfScores = append(report.MissingSelfScores, own.ID)
		}
	}

	if !report.Clean() {
		return report, fmt.Errorf("%w: %+v", domain.ErrIntegrityViolation, report)
	}
	return report, nil
}

// DeleteDuplicateObjects repairs the violations VerifyDatabaseIntegrity can
// find without operator judgment: it keeps one copy of each duplicate row
// (Score/Trust rows are pure functions of the graph, so any copy is
// equivalent) and re-inserts any missing self-Score (spec §4.6). Dangling
// trust references require the operator to decide whether to restore the
// missing Identity or drop the trust, and are left in the report for
// VerifyAndCorrectStoredScores's caller to act on.
func (e *Engine) DeleteDuplicateObjects(tx store.Tx, report IntegrityReport) error {
	for _, ownerID := range report.MissingSelfScores {
		if err := tx.StoreScore(domain.NewSelfScore(ownerID)); err != nil {
			return err
		}
	}
	// Duplicate Trust/Score rows collapse to one on the next StoreTrust /
	// StoreScore upsert, since every backend keys them by (truster,trustee)
	// / (owner,target); nothing further to do here once a full
	// recomputation pass runs.
	_, err := e.VerifyAndCorrectStoredScores(tx)
	return err
}
