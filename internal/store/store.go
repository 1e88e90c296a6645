// Package store defines the transactional facade the engine consumes (C2).
// Concrete backends (Postgres, Neo4j) live under
// internal/infrastructure/repository and implement this package's
// interfaces; the engine and application services depend only on these.
package store

import (
	"context"

	"github.com/opena2a/wot/internal/domain"
)

// Tx is a single active transaction exposing indexed CRUD over the four
// entity repositories plus commit/rollback (spec §4.2). All engine
// mutations take an implicit active Tx.
type Tx interface {
	domain.IdentityRepository
	domain.OwnIdentityRepository
	domain.TrustRepository
	domain.ScoreRepository

	// Commit atomically persists every Store/Delete call issued against
	// this Tx. On failure the caller must treat the transaction as rolled
	// back (spec §7 TransactionAborted).
	Commit() error

	// Rollback discards every Store/Delete call issued against this Tx.
	Rollback() error
}

// Store opens transactions against the durable object store (spec §1, §6).
// Exactly one engine instance may hold a given store open at a time
// (spec §4.6 database lock); acquiring that lock is the Store
// implementation's responsibility, not the caller's.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
	Close() error
}

// ErrAlreadyLocked is returned by a Store implementation's Open/New
// constructor when another process already holds the store's lock
// (spec §4.6).
var ErrAlreadyLocked = errAlreadyLocked{}

type errAlreadyLocked struct{}

func (errAlreadyLocked) Error() string { return "store: already locked by another engine instance" }
