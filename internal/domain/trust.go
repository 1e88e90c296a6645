package domain

import (
	"fmt"
	"time"
)

// Trust is a directed, signed edge (truster -> trustee) with a value in
// [-100, +100] (spec §3).
type Trust struct {
	TrusterID   string
	TrusteeID   string
	Value       int
	Comment     string
	Created     time.Time
	LastChanged time.Time
}

// NewTrust validates and constructs a Trust. Self-trust and out-of-range
// values are rejected (spec §4.1); value 0 ("no opinion") is accepted here
// but the engine never materializes a Score row for it (spec §4.7).
func NewTrust(truster, trustee string, value int, comment string, limits Limits, now time.Time) (*Trust, error) {
	if truster == trustee {
		return nil, fmt.Errorf("%w: self-trust is forbidden for %q", ErrInvalidParameter, truster)
	}
	if value < -100 || value > 100 {
		return nil, fmt.Errorf("%w: trust value %d out of range [-100,100]", ErrInvalidParameter, value)
	}
	if len(comment) > limits.CommentMaxLength {
		return nil, fmt.Errorf("%w: comment length %d exceeds %d", ErrInvalidParameter, len(comment), limits.CommentMaxLength)
	}
	return &Trust{
		TrusterID:   truster,
		TrusteeID:   trustee,
		Value:       value,
		Comment:     comment,
		Created:     now,
		LastChanged: now,
	}, nil
}

// SetValue updates the trust value and comment under the same validation
// rules as NewTrust.
func (t *Trust) SetValue(value int, comment string, limits Limits, now time.Time) error {
	if value < -100 || value > 100 {
		return fmt.Errorf("%w: trust value %d out of range [-100,100]", ErrInvalidParameter, value)
	}
	if len(comment) > limits.CommentMaxLength {
		return fmt.Errorf("%w: comment length %d exceeds %d", ErrInvalidParameter, len(comment), limits.CommentMaxLength)
	}
	t.Value = value
	t.Comment = comment
	t.LastChanged = now
	return nil
}

// IsPositive reports whether the trust is a positive opinion (value > 0).
func (t *Trust) IsPositive() bool { return t.Value > 0 }

// IsNegative reports whether the trust is a distrust opinion (value < 0).
func (t *Trust) IsNegative() bool { return t.Value < 0 }

// TrustRepository is the narrow persistence contract for Trust rows,
// scoped to a single active transaction (spec §4.2).
type TrustRepository interface {
	GetTrust(truster, trustee string) (*Trust, error)
	GivenBy(truster string) ([]*Trust, error)
	ReceivedBy(trustee string) ([]*Trust, error)
	AllTrusts() ([]*Trust, error)
	StoreTrust(trust *Trust) error
	DeleteTrust(truster, trustee string) error
}
