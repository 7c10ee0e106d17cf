package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreditLedger is the account credit balance. DeductCredit must be atomic
// and must never take the balance below zero.
type CreditLedger interface {
	Credits(ctx context.Context, accountID uuid.UUID) (int, error)
	DeductCredit(ctx context.Context, accountID uuid.UUID) (bool, error)
}

// Service gates generations on guest trial usage or account credits.
type Service struct {
	guests     GuestLedger
	credits    CreditLedger
	guestLimit int
	window     time.Duration
}

// NewService creates a quota Service.
func NewService(guests GuestLedger, credits CreditLedger, guestLimit int, window time.Duration) *Service {
	return &Service{
		guests:     guests,
		credits:    credits,
		guestLimit: guestLimit,
		window:     window,
	}
}

// Check reports whether identity may start a generation. It does not mutate
// any ledger.
func (s *Service) Check(ctx context.Context, id Identity) (Decision, error) {
	if !id.Valid() {
		return Decision{}, ErrInvalidIdentity
	}

	switch id.Kind {
	case KindGuest:
		entry, err := s.guests.Get(ctx, id.ID)
		if err != nil {
			return Decision{}, fmt.Errorf("checking guest quota: %w", err)
		}
		remaining := s.guestLimit - entry.Used
		if remaining < 0 {
			remaining = 0
		}
		return Decision{Allowed: remaining > 0, Remaining: remaining}, nil
	default:
		credits, err := s.credits.Credits(ctx, uuid.MustParse(id.ID))
		if err != nil {
			return Decision{}, fmt.Errorf("checking account credits: %w", err)
		}
		return Decision{Allowed: credits > 0, Remaining: credits}, nil
	}
}

// Commit consumes one generation for identity. It must only follow an
// allowed Check and is not reversible. It returns false when the allowance
// ran out in between, in which case nothing was consumed.
func (s *Service) Commit(ctx context.Context, id Identity) (bool, error) {
	if !id.Valid() {
		return false, ErrInvalidIdentity
	}

	switch id.Kind {
	case KindGuest:
		ok, err := s.guests.Increment(ctx, id.ID, s.guestLimit)
		if err != nil {
			return false, fmt.Errorf("committing guest quota: %w", err)
		}
		return ok, nil
	default:
		ok, err := s.credits.DeductCredit(ctx, uuid.MustParse(id.ID))
		if err != nil {
			return false, fmt.Errorf("deducting credit: %w", err)
		}
		return ok, nil
	}
}

// Status returns the identity's allowance for API display.
func (s *Service) Status(ctx context.Context, id Identity) (*Status, error) {
	if !id.Valid() {
		return nil, ErrInvalidIdentity
	}

	if id.Kind == KindAccount {
		credits, err := s.credits.Credits(ctx, uuid.MustParse(id.ID))
		if err != nil {
			return nil, fmt.Errorf("getting account credits: %w", err)
		}
		return &Status{Kind: KindAccount, Remaining: credits}, nil
	}

	entry, err := s.guests.Get(ctx, id.ID)
	if err != nil {
		return nil, fmt.Errorf("getting guest quota: %w", err)
	}
	st := &Status{
		Kind:      KindGuest,
		Remaining: max(s.guestLimit-entry.Used, 0),
		Limit:     s.guestLimit,
		Used:      entry.Used,
	}
	if entry.Used > 0 {
		reset := entry.LastUsedAt.Add(s.window)
		st.ResetsAt = &reset
	}
	return st, nil
}
