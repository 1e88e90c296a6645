package domain

import "time"

// OwnIdentity extends Identity with the signing-key half of its URI pair
// and local insert bookkeeping (spec §3). It is never equal-compared to a
// remote Identity by embedding: conversion between the two (delete_own /
// restore_own) is an explicit variant transition, not an inheritance cast
// (spec §9).
type OwnIdentity struct {
	Identity

	InsertURI            InsertURI
	LastInsertedEdition  int64
	LastInsertDate       *time.Time
	NextEditionToInsert  int64
}

// NewOwnIdentity constructs an OwnIdentity with a fresh self-Score root
// (spec §4.5 create_own). The self-Score itself is materialized by the
// caller (identity lifecycle service) via NewSelfScore, since Score rows
// live in a separate repository.
func NewOwnIdentity(id string, requestURI RequestURI, insertURI InsertURI, nickname string, publishesTrustList bool, limits Limits, now time.Time) (*OwnIdentity, error) {
	base, err := NewIdentity(id, requestURI, now)
	if err != nil {
		return nil, err
	}
	base.PublishesTrustList = publishesTrustList
	own := &OwnIdentity{
		Identity:            *base,
		InsertURI:           insertURI,
		NextEditionToInsert: 0,
	}
	if nickname != "" {
		if err := own.SetNickname(nickname, limits); err != nil {
			return nil, err
		}
	}
	return own, nil
}

// ToIdentity returns the Identity-shaped projection used when converting
// an OwnIdentity to a remote Identity on delete_own (spec §4.5). Given
// trusts and received trusts are untouched by this conversion; the caller
// is responsible for persisting the projected row in place of the
// OwnIdentity row.
func (o *OwnIdentity) ToIdentity() Identity {
	return o.Identity
}

// OwnIdentityRepository is the narrow persistence contract for OwnIdentity
// rows, scoped to a single active transaction (spec §4.2).
type OwnIdentityRepository interface {
	GetOwnByID(id string) (*OwnIdentity, error)
	AllOwnIdentities() ([]*OwnIdentity, error)
	StoreOwn(own *OwnIdentity) error
	DeleteOwn(id string) error
}
