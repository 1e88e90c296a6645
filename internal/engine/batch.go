package engine

import "github.com/opena2a/wot/internal/store"

// Batch is the transactional bracket for a remote identity's trust-list
// import (spec §4.4, §9 "explicit Batch handle"). While open, SetTrust and
// RemoveTrust calls against the importing identity defer their own
// incremental update; Finish runs one recomputation pass and commits.
// Dropping a Batch without calling Finish leaves the transaction open for
// the caller to Rollback — the bracket never commits on your behalf.
type Batch struct {
	eng        *Engine
	tx         store.Tx
	importerID string
	finished   bool
}

// BeginTrustListImport opens a deferred-update batch for importerID (spec
// §4.4 step 1).
func (e *Engine) BeginTrustListImport(tx store.Tx, importerID string) *Batch {
	e.deferring[importerID] = true
	return &Batch{eng: e, tx: tx, importerID: importerID}
}

// Tx returns the transaction the batch is running under, for the importer
// (C4) to issue its identity/trust upserts against.
func (b *Batch) Tx() store.Tx { return b.tx }

// Finish runs the scoped recomputation (spec §4.4 step 5) and commits. For
// this engine's from-scratch recomputation model (see incrementalUpdate),
// "scoped to the subgraph reachable from X" and "recompute every
// OwnIdentity's tree in full" produce identical results, since a
// from-scratch BFS per owner is already exact; finish therefore runs the
// same recomputeOwner pass incrementalUpdate would have run per truster
// edit, batched into one pass instead of one per edit.
func (b *Batch) Finish() error {
	if b.finished {
		return nil
	}
	b.finished = true
	delete(b.eng.deferring, b.importerID)

	ownIdentities, err := b.tx.AllOwnIdentities()
	if err != nil {
		return err
	}
	for _, own := range ownIdentities {
		if _, err := b.eng.recomputeOwner(b.tx, own.ID); err != nil {
			return err
		}
	}
	return b.tx.Commit()
}

// Abort releases the deferred-update flag without recomputing or
// committing; the caller is still responsible for rolling back tx.
func (b *Batch) Abort() {
	if b.finished {
		return
	}
	b.finished = true
	delete(b.eng.deferring, b.importerID)
}
