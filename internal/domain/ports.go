package domain

import "time"

// Clock is the narrow time source the engine consumes; production wires
// time.Now, tests wire a fixed or steppable clock (spec §1, §6).
type Clock interface {
	Now() time.Time
}

// SystemClock implements Clock with the real wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// RandomSource is the narrow random-source port of spec §1. No component in
// this module takes one: there is no random padding, and the fetch worker
// runs on a fixed ticker without jitter.
type RandomSource interface {
	Read(p []byte) (n int, err error)
}

// TrustListEntry is one outbound trust assertion as carried in a fetched
// or produced identity file (spec §6).
type TrustListEntry struct {
	TrusteeRequestURI string
	Value             int
	Comment           string
}

// IdentityFileExport is what an IdentityFileProducer yields for an
// OwnIdentity (spec §6).
type IdentityFileExport struct {
	Nickname           string
	PublishesTrustList bool
	Contexts           []string
	Properties         map[string]string
	Trusts             []TrustListEntry
}

// IdentityFileProducer serializes an OwnIdentity's public state into the
// bounded, deterministic export the network layer inserts. trusts is
// already the exact set of outbound trusts to publish (the full list, or a
// context-filtered subset from ExportContexts); truncation and wire
// encoding are the producer's concern, not the engine's (spec §6).
type IdentityFileProducer interface {
	Produce(own *OwnIdentity, trusts []TrustListEntry, limits Limits) (IdentityFileExport, error)
}

// IdentityFileImport is what an IdentityFileConsumer hands to the engine
// after parsing a fetched document (spec §6).
type IdentityFileImport struct {
	IdentityID         string
	Edition            int64
	Nickname           string
	PublishesTrustList bool
	Contexts           []string
	Properties         map[string]string
	Trusts             []TrustListEntry
}

// IdentityFileConsumer parses a fetched signed document into an
// IdentityFileImport and calls into trust-list import (spec §6, C4).
type IdentityFileConsumer interface {
	Consume(raw []byte, limits Limits) (IdentityFileImport, error)
}

// ChangeKind discriminates the entity kind of a Changed event.
type ChangeKind string

const (
	ChangeKindIdentity ChangeKind = "identity"
	ChangeKindTrust    ChangeKind = "trust"
	ChangeKindScore    ChangeKind = "score"
)

// ChangeEvent describes a committed change (spec §6). The publishers in this
// module (cmd/wotd's CLI dispatch and worker.FetchWorker) emit one event per
// committed operation, not one per changed row: Before is left nil and After
// carries the subcommand name or the fetched identity's ID, not a row
// snapshot.
type ChangeEvent struct {
	Kind   ChangeKind
	Before any
	After  any
}

// Subscriber receives committed change events in commit order (spec §5,
// §6). A subscriber that falls behind a bounded queue is disconnected by
// the publishing side; Subscriber implementations must not block Notify
// for longer than their own queue allows.
type Subscriber interface {
	Notify(event ChangeEvent)
	Disconnect()
}
