package accounts

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository stores accounts and their credit balances. Lookups return
// nil, nil when the account does not exist.
type Repository interface {
	Create(ctx context.Context, account *Account) error
	GetByID(ctx context.Context, id uuid.UUID) (*Account, error)
	GetByEmail(ctx context.Context, email string) (*Account, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	// DeductCredit atomically takes one credit. It returns false when the
	// balance is already zero or the account is unknown.
	DeductCredit(ctx context.Context, id uuid.UUID) (bool, error)
	AddCredits(ctx context.Context, id uuid.UUID, n int) (int, error)
}

const uniqueViolation = "23505"

type postgresRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &postgresRepository{pool: pool}
}

func (r *postgresRepository) Create(ctx context.Context, a *Account) error {
	query := `
		INSERT INTO accounts (id, email, password_hash, credits, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.pool.Exec(ctx, query,
		a.ID, a.Email, a.PasswordHash, a.Credits, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrEmailTaken
		}
		return fmt.Errorf("inserting account: %w", err)
	}
	return nil
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	query := `SELECT id, email, password_hash, credits, created_at, updated_at FROM accounts WHERE id = $1`
	return r.scanOne(ctx, query, id)
}

func (r *postgresRepository) GetByEmail(ctx context.Context, email string) (*Account, error) {
	query := `SELECT id, email, password_hash, credits, created_at, updated_at FROM accounts WHERE email = $1`
	return r.scanOne(ctx, query, email)
}

func (r *postgresRepository) scanOne(ctx context.Context, query string, arg any) (*Account, error) {
	a := &Account{}
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&a.ID, &a.Email, &a.PasswordHash, &a.Credits, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying account: %w", err)
	}
	return a, nil
}

func (r *postgresRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM accounts WHERE email = $1)`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, email).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking email existence: %w", err)
	}
	return exists, nil
}

func (r *postgresRepository) DeductCredit(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `UPDATE accounts SET credits = credits - 1, updated_at = NOW() WHERE id = $1 AND credits > 0`

	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("deducting credit: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *postgresRepository) AddCredits(ctx context.Context, id uuid.UUID, n int) (int, error) {
	query := `UPDATE accounts SET credits = credits + $2, updated_at = NOW() WHERE id = $1 RETURNING credits`

	var credits int
	err := r.pool.QueryRow(ctx, query, id, n).Scan(&credits)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("adding credits: %w", err)
	}
	return credits, nil
}
