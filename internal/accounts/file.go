package accounts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// fileRecord is the on-disk shape; Account hides the password hash from JSON.
type fileRecord struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash"`
	Credits      int       `json:"credits"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// FileRepository keeps accounts in a single JSON file, rewritten atomically
// on every change. It serves single-instance deployments without Postgres.
type FileRepository struct {
	mu       sync.Mutex
	path     string
	accounts map[uuid.UUID]*fileRecord
	now      func() time.Time
}

// NewFileRepository loads path, creating an empty store if it is missing.
func NewFileRepository(path string) (*FileRepository, error) {
	r := &FileRepository{
		path:     path,
		accounts: make(map[uuid.UUID]*fileRecord),
		now:      time.Now,
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading accounts file: %w", err)
	}

	var records []*fileRecord
	if len(data) > 0 {
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("decoding accounts file: %w", err)
		}
	}
	for _, rec := range records {
		r.accounts[rec.ID] = rec
	}
	return r, nil
}

func (r *FileRepository) Create(_ context.Context, a *Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.findByEmailLocked(a.Email) != nil {
		return ErrEmailTaken
	}
	r.accounts[a.ID] = &fileRecord{
		ID:           a.ID,
		Email:        a.Email,
		PasswordHash: a.PasswordHash,
		Credits:      a.Credits,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
	if err := r.flushLocked(); err != nil {
		delete(r.accounts, a.ID)
		return err
	}
	return nil
}

func (r *FileRepository) GetByID(_ context.Context, id uuid.UUID) (*Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.accounts[id]; ok {
		return rec.account(), nil
	}
	return nil, nil
}

func (r *FileRepository) GetByEmail(_ context.Context, email string) (*Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec := r.findByEmailLocked(email); rec != nil {
		return rec.account(), nil
	}
	return nil, nil
}

func (r *FileRepository) ExistsByEmail(_ context.Context, email string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findByEmailLocked(email) != nil, nil
}

func (r *FileRepository) DeductCredit(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.accounts[id]
	if !ok || rec.Credits <= 0 {
		return false, nil
	}
	rec.Credits--
	rec.UpdatedAt = r.now().UTC()
	if err := r.flushLocked(); err != nil {
		rec.Credits++
		return false, err
	}
	return true, nil
}

func (r *FileRepository) AddCredits(_ context.Context, id uuid.UUID, n int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.accounts[id]
	if !ok {
		return 0, ErrNotFound
	}
	rec.Credits += n
	rec.UpdatedAt = r.now().UTC()
	if err := r.flushLocked(); err != nil {
		rec.Credits -= n
		return 0, err
	}
	return rec.Credits, nil
}

func (r *FileRepository) findByEmailLocked(email string) *fileRecord {
	for _, rec := range r.accounts {
		if strings.EqualFold(rec.Email, email) {
			return rec
		}
	}
	return nil
}

func (r *FileRepository) flushLocked() error {
	records := make([]*fileRecord, 0, len(r.accounts))
	for _, rec := range r.accounts {
		records = append(records, rec)
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding accounts: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("creating accounts dir: %w", err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing accounts file: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("replacing accounts file: %w", err)
	}
	return nil
}

func (rec *fileRecord) account() *Account {
	return &Account{
		ID:           rec.ID,
		Email:        rec.Email,
		PasswordHash: rec.PasswordHash,
		Credits:      rec.Credits,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}
}
