package quota

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidIdentity = errors.New("quota: invalid identity")
	ErrUnknownAccount  = errors.New("quota: unknown account")
)

// Kind distinguishes guest trial identities from registered accounts.
type Kind string

const (
	KindGuest   Kind = "guest"
	KindAccount Kind = "account"
)

// Identity is who a generation is charged to. Guests are identified by a
// client-supplied opaque id, accounts by their authenticated id.
type Identity struct {
	Kind Kind   `json:"kind"`
	ID   string `json:"id"`
}

func Guest(id string) Identity {
	return Identity{Kind: KindGuest, ID: id}
}

func Account(id uuid.UUID) Identity {
	return Identity{Kind: KindAccount, ID: id.String()}
}

func (i Identity) String() string {
	return string(i.Kind) + ":" + i.ID
}

// Valid reports whether the identity can be charged.
func (i Identity) Valid() bool {
	switch i.Kind {
	case KindGuest:
		return i.ID != "" && len(i.ID) <= 128
	case KindAccount:
		_, err := uuid.Parse(i.ID)
		return err == nil
	default:
		return false
	}
}

// Decision is the outcome of a gate check.
type Decision struct {
	Allowed   bool `json:"allowed"`
	Remaining int  `json:"remaining"`
}

// Status is the API view of an identity's remaining allowance.
type Status struct {
	Kind      Kind       `json:"kind"`
	Remaining int        `json:"remaining"`
	Limit     int        `json:"limit,omitempty"`
	Used      int        `json:"used,omitempty"`
	ResetsAt  *time.Time `json:"resets_at,omitempty"`
}

// GuestEntry is a guest's trial usage within the current window.
type GuestEntry struct {
	Used       int       `json:"used"`
	LastUsedAt time.Time `json:"last_used_at"`
}
