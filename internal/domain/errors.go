package domain

import "errors"

// Error kinds returned by the engine. Callers discriminate with errors.Is;
// a kind never carries more than the one meaning documented here.
var (
	// ErrInvalidParameter is returned when caller-supplied input violates a
	// documented constraint: range, length, charset, duplicate creation,
	// self-trust.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrMalformedURI is returned when a URI cannot be parsed or carries the
	// wrong key type for the operation.
	ErrMalformedURI = errors.New("malformed uri")

	// ErrUnknownIdentity is returned when a lookup by id or uri finds no row.
	ErrUnknownIdentity = errors.New("unknown identity")

	// ErrNotTrusted is returned when no Trust row exists for a queried pair.
	ErrNotTrusted = errors.New("not trusted")

	// ErrNotInTrustTree is returned when no Score row exists for a queried
	// pair.
	ErrNotInTrustTree = errors.New("not in trust tree")

	// ErrDuplicateIdentity signals an invariant-1 violation on Identity.id.
	ErrDuplicateIdentity = errors.New("duplicate identity")

	// ErrDuplicateTrust signals an invariant-1 violation on
	// (truster_id, trustee_id).
	ErrDuplicateTrust = errors.New("duplicate trust")

	// ErrDuplicateScore signals an invariant-1 violation on
	// (owner_id, trustee_id).
	ErrDuplicateScore = errors.New("duplicate score")

	// ErrIntegrityViolation is any other invariant failing during a verify
	// pass.
	ErrIntegrityViolation = errors.New("integrity violation")

	// ErrTransactionAborted is returned when a commit fails; the caller must
	// retry or surface the failure.
	ErrTransactionAborted = errors.New("transaction aborted")
)
