// Package history keeps each identity's most recent successful generations
// in a capped Redis list, newest first.
package history

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aiox-platform/genstudio/internal/quota"
)

// Record is one successful generation.
type Record struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	Prompt    string    `json:"prompt"`
	Mode      string    `json:"mode"`
	ModelID   string    `json:"model_id"`
	Images    []string  `json:"images"`
	CreatedAt time.Time `json:"created_at"`
}

// NewID returns a unique, time-ordered record id.
func NewID(now time.Time) string {
	b := make([]byte, 6)
	_, _ = rand.Read(b)
	return fmt.Sprintf("%d-%s", now.UnixMilli(), hex.EncodeToString(b))
}

// Store manages history lists in Redis.
type Store struct {
	client   redis.Cmdable
	limit    int
	guestTTL time.Duration
}

// NewStore creates a history store capped at limit records per identity.
// Guest lists expire guestTTL after their last write; zero disables expiry.
func NewStore(client redis.Cmdable, limit int, guestTTL time.Duration) *Store {
	return &Store{client: client, limit: limit, guestTTL: guestTTL}
}

func historyKey(owner quota.Identity) string {
	return fmt.Sprintf("history:%s:%s", owner.Kind, owner.ID)
}

// Prepend inserts rec at the head of the owner's history and drops
// everything past the limit.
func (s *Store) Prepend(ctx context.Context, owner quota.Identity, rec Record) error {
	key := historyKey(owner)

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling record: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, string(data))
	pipe.LTrim(ctx, key, 0, int64(s.limit-1))
	if owner.Kind == quota.KindGuest && s.guestTTL > 0 {
		pipe.Expire(ctx, key, s.guestTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pipeline exec for %s: %w", key, err)
	}
	return nil
}

// List returns up to limit records, newest first. A non-positive limit
// returns the whole list.
func (s *Store) List(ctx context.Context, owner quota.Identity, limit int) ([]Record, error) {
	key := historyKey(owner)

	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	vals, err := s.client.LRange(ctx, key, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", key, err)
	}

	records := make([]Record, 0, len(vals))
	for _, v := range vals {
		var rec Record
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			continue // skip malformed entries
		}
		records = append(records, rec)
	}
	return records, nil
}

// Delete removes the record with the given id. It reports whether a record
// was removed.
func (s *Store) Delete(ctx context.Context, owner quota.Identity, recordID string) (bool, error) {
	key := historyKey(owner)

	vals, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return false, fmt.Errorf("lrange %s: %w", key, err)
	}
	for _, v := range vals {
		var rec Record
		if err := json.Unmarshal([]byte(v), &rec); err != nil || rec.ID != recordID {
			continue
		}
		n, err := s.client.LRem(ctx, key, 1, v).Result()
		if err != nil {
			return false, fmt.Errorf("lrem %s: %w", key, err)
		}
		return n > 0, nil
	}
	return false, nil
}

// Clear deletes the owner's whole history.
func (s *Store) Clear(ctx context.Context, owner quota.Identity) error {
	return s.client.Del(ctx, historyKey(owner)).Err()
}
