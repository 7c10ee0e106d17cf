package quota

import (
	"context"
	"sync"
	"time"
)

// GuestLedger tracks guest trial usage. Entries expire one window after
// their last use.
type GuestLedger interface {
	// Get returns the guest's usage, zero if unknown or expired.
	Get(ctx context.Context, guestID string) (GuestEntry, error)
	// Increment records one use if the guest is below limit and reports
	// whether it did.
	Increment(ctx context.Context, guestID string, limit int) (bool, error)
}

// MemoryGuestLedger is a process-local GuestLedger. State is not shared
// between instances, so the trial limit is enforced per process only.
type MemoryGuestLedger struct {
	mu      sync.Mutex
	entries map[string]GuestEntry
	window  time.Duration
	now     func() time.Time
}

// NewMemoryGuestLedger creates a ledger whose entries expire window after last use.
func NewMemoryGuestLedger(window time.Duration) *MemoryGuestLedger {
	return &MemoryGuestLedger{
		entries: make(map[string]GuestEntry),
		window:  window,
		now:     time.Now,
	}
}

func (l *MemoryGuestLedger) Get(_ context.Context, guestID string) (GuestEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.purgeLocked()
	return l.entries[guestID], nil
}

func (l *MemoryGuestLedger) Increment(_ context.Context, guestID string, limit int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.purgeLocked()
	entry := l.entries[guestID]
	if entry.Used >= limit {
		return false, nil
	}
	entry.Used++
	entry.LastUsedAt = l.now()
	l.entries[guestID] = entry
	return true, nil
}

// Len returns the number of live entries.
func (l *MemoryGuestLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// purgeLocked drops every entry whose last use is older than the window.
func (l *MemoryGuestLedger) purgeLocked() {
	cutoff := l.now().Add(-l.window)
	for id, e := range l.entries {
		if e.LastUsedAt.Before(cutoff) {
			delete(l.entries, id)
		}
	}
}
