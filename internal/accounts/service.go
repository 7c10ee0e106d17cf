package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aiox-platform/genstudio/internal/auth"
	"github.com/aiox-platform/genstudio/internal/quota"
)

type Service struct {
	repo          Repository
	signupCredits int
}

func NewService(repo Repository, signupCredits int) *Service {
	return &Service{repo: repo, signupCredits: signupCredits}
}

// Create registers an account with the signup credit grant.
func (s *Service) Create(ctx context.Context, email, passwordHash string) (*Account, error) {
	now := time.Now().UTC()
	a := &Account{
		ID:           uuid.New(),
		Email:        strings.ToLower(strings.TrimSpace(email)),
		PasswordHash: passwordHash,
		Credits:      s.signupCredits,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Service) GetByEmail(ctx context.Context, email string) (*Account, error) {
	return s.repo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
}

func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return s.repo.ExistsByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
}

// Credits implements quota.CreditLedger.
func (s *Service) Credits(ctx context.Context, id uuid.UUID) (int, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return 0, err
	}
	if a == nil {
		return 0, quota.ErrUnknownAccount
	}
	return a.Credits, nil
}

// DeductCredit implements quota.CreditLedger.
func (s *Service) DeductCredit(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.repo.DeductCredit(ctx, id)
}

// AddCredits grants n credits and returns the new balance.
func (s *Service) AddCredits(ctx context.Context, id uuid.UUID, n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("credit grant must be positive, got %d", n)
	}
	return s.repo.AddCredits(ctx, id, n)
}

// Register implements auth.AccountStore.
func (s *Service) Register(ctx context.Context, email, passwordHash string) (*auth.Principal, error) {
	a, err := s.Create(ctx, email, passwordHash)
	if errors.Is(err, ErrEmailTaken) {
		return nil, auth.ErrEmailTaken
	}
	if err != nil {
		return nil, err
	}
	return principal(a), nil
}

// Lookup implements auth.AccountStore.
func (s *Service) Lookup(ctx context.Context, email string) (*auth.Principal, error) {
	a, err := s.GetByEmail(ctx, email)
	if err != nil || a == nil {
		return nil, err
	}
	return principal(a), nil
}

// LookupID implements auth.AccountStore.
func (s *Service) LookupID(ctx context.Context, id uuid.UUID) (*auth.Principal, error) {
	a, err := s.GetByID(ctx, id)
	if err != nil || a == nil {
		return nil, err
	}
	return principal(a), nil
}

func principal(a *Account) *auth.Principal {
	return &auth.Principal{ID: a.ID, Email: a.Email, PasswordHash: a.PasswordHash}
}
