package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// FetchState describes whether the current edition of an Identity's signed
// document has been retrieved and parsed.
type FetchState string

const (
	FetchStateNotFetched    FetchState = "not_fetched"
	FetchStateFetched       FetchState = "fetched"
	FetchStateParsingFailed FetchState = "parsing_failed"
)

// Identity is a remote pseudonym addressed by a content-hash of its public
// key (spec §3).
type Identity struct {
	ID                 string
	RequestURI         RequestURI
	FetchState         FetchState
	Nickname           *string
	PublishesTrustList bool
	Contexts           map[string]struct{}
	Properties         map[string]string

	Created     time.Time
	LastFetched *time.Time
	LastChanged time.Time
}

// NewIdentity constructs an Identity with fetch_state=NotFetched, the
// edition and edition hint carried by uri, and no nickname, as created by
// add_identity (which passes edition 0) or as a trust-list import stub
// (spec §4.5).
func NewIdentity(id string, uri RequestURI, now time.Time) (*Identity, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: identity id must not be empty", ErrInvalidParameter)
	}
	return &Identity{
		ID:         id,
		RequestURI: uri,
		FetchState: FetchStateNotFetched,
		Contexts:   make(map[string]struct{}),
		Properties: make(map[string]string),
		Created:    now,
		LastChanged: now,
	}, nil
}

// SetNickname validates and assigns a nickname (1-50 chars, restricted
// charset: letters, digits, space, and a small set of punctuation).
func (i *Identity) SetNickname(nickname string, limits Limits) error {
	if len(nickname) == 0 || len(nickname) > limits.NicknameMaxLength {
		return fmt.Errorf("%w: nickname length must be in [1,%d]", ErrInvalidParameter, limits.NicknameMaxLength)
	}
	for _, r := range nickname {
		if !validNicknameRune(r) {
			return fmt.Errorf("%w: nickname contains disallowed character %q", ErrInvalidParameter, r)
		}
	}
	i.Nickname = &nickname
	return nil
}

func validNicknameRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune(" _-.", r)
}

// AddContext validates and adds a short tag to the identity's context set.
func (i *Identity) AddContext(ctx string, limits Limits) error {
	if len(ctx) == 0 || len(ctx) > limits.ContextMaxLength {
		return fmt.Errorf("%w: context length must be in [1,%d]", ErrInvalidParameter, limits.ContextMaxLength)
	}
	if i.Contexts == nil {
		i.Contexts = make(map[string]struct{})
	}
	i.Contexts[ctx] = struct{}{}
	return nil
}

// HasContext reports whether the identity carries the given context tag.
func (i *Identity) HasContext(ctx string) bool {
	_, ok := i.Contexts[ctx]
	return ok
}

// SetProperty validates and assigns a property-name/property-value pair.
func (i *Identity) SetProperty(name, value string, limits Limits) error {
	if len(name) == 0 || len(name) > limits.PropertyNameMaxLength {
		return fmt.Errorf("%w: property name length must be in [1,%d]", ErrInvalidParameter, limits.PropertyNameMaxLength)
	}
	if len(value) > limits.PropertyValueMaxLength {
		return fmt.Errorf("%w: property value length must be <= %d", ErrInvalidParameter, limits.PropertyValueMaxLength)
	}
	if i.Properties == nil {
		i.Properties = make(map[string]string)
	}
	i.Properties[name] = value
	return nil
}

// SetEdition assigns a new edition to the identity's request URI. An
// edition lower than the current one is rejected; an equal-or-greater
// edition is accepted and resets fetch_state to NotFetched (spec §4.1).
func (i *Identity) SetEdition(edition int64, now time.Time) error {
	if edition < i.RequestURI.Edition {
		return fmt.Errorf("%w: edition %d is older than current edition %d", ErrInvalidParameter, edition, i.RequestURI.Edition)
	}
	i.RequestURI.Edition = edition
	if edition > i.RequestURI.LatestEditionHint {
		i.RequestURI.LatestEditionHint = edition
	}
	i.FetchState = FetchStateNotFetched
	i.LastChanged = now
	return nil
}

// OnFetched marks the identity's current edition as successfully retrieved
// and parsed (spec §4.1).
func (i *Identity) OnFetched(now time.Time) {
	i.FetchState = FetchStateFetched
	i.LastFetched = &now
	i.LastChanged = now
}

// OnParsingFailed marks the current edition's document as unparsable.
func (i *Identity) OnParsingFailed(now time.Time) {
	i.FetchState = FetchStateParsingFailed
	i.LastChanged = now
}

// MarkForRefetch clears fetch_state and decrements the current edition by
// one (floored at zero) so the same document edition is re-downloaded
// (spec §4.1). This is invoked by the score engine's capacity-transition
// refetch rule (spec §4.3 step 4).
func (i *Identity) MarkForRefetch(now time.Time) {
	i.FetchState = FetchStateNotFetched
	if i.RequestURI.Edition > 0 {
		i.RequestURI.Edition--
	}
	i.LastChanged = now
}

// IdentityRepository is the narrow persistence contract for Identity rows,
// scoped to a single active transaction (spec §4.2).
type IdentityRepository interface {
	GetIdentityByID(id string) (*Identity, error)
	GetIdentityByURI(uri RequestURI) (*Identity, error)
	AllIdentities() ([]*Identity, error)
	StoreIdentity(identity *Identity) error
	DeleteIdentity(id string) error
}
