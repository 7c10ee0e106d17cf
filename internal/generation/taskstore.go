package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	taskKeyPrefix     = "gen:task:"
	maxAdvanceRetries = 5
)

var errTaskContended = errors.New("task record kept changing")

// TaskStore keeps task records in Redis for the lifetime of a generation.
type TaskStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewTaskStore(client redis.UniversalClient, ttl time.Duration) *TaskStore {
	return &TaskStore{client: client, ttl: ttl}
}

func taskKey(id string) string {
	return taskKeyPrefix + id
}

func sourceKey(id string) string {
	return taskKey(id) + ":source"
}

// Save writes t unconditionally. It is meant for new records; updates go
// through Advance.
func (s *TaskStore) Save(ctx context.Context, t *Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshaling task: %w", err)
	}
	if err := s.client.Set(ctx, taskKey(t.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("saving task %s: %w", t.ID, err)
	}
	return nil
}

// Advance writes t unless the stored record is terminal or further along
// than t. It returns the record stored afterwards and whether t was the
// one written. Concurrent writers are resolved with WATCH, retrying when
// the record changes between the read and the write.
func (s *TaskStore) Advance(ctx context.Context, t *Task) (*Task, bool, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, false, fmt.Errorf("marshaling task: %w", err)
	}
	key := taskKey(t.ID)

	for range maxAdvanceRetries {
		var kept *Task
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			stored, err := s.read(ctx, tx, t.ID)
			if err != nil {
				return err
			}
			if stored.State.Terminal() || stored.State.rank() > t.State.rank() {
				kept = stored
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, data, s.ttl)
				return nil
			})
			return err
		}, key)

		switch {
		case errors.Is(err, redis.TxFailedErr):
			continue
		case err != nil:
			return nil, false, err
		case kept != nil:
			return kept, false, nil
		default:
			return t, true, nil
		}
	}
	return nil, false, fmt.Errorf("saving task %s: %w", t.ID, errTaskContended)
}

func (s *TaskStore) Get(ctx context.Context, id string) (*Task, error) {
	return s.read(ctx, s.client, id)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *TaskStore) read(ctx context.Context, c getter, id string) (*Task, error) {
	data, err := c.Get(ctx, taskKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("loading task %s: %w", id, err)
	}
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decoding task %s: %w", id, err)
	}
	return &t, nil
}

// SaveSource stores the outpaint source image for task id. It is written
// once at submission and expires with the task.
func (s *TaskStore) SaveSource(ctx context.Context, id string, data []byte) error {
	if err := s.client.Set(ctx, sourceKey(id), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("saving source for %s: %w", id, err)
	}
	return nil
}

// Source returns the outpaint source image stored for task id.
func (s *TaskStore) Source(ctx context.Context, id string) ([]byte, error) {
	data, err := s.client.Get(ctx, sourceKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("loading source for %s: %w", id, err)
	}
	return data, nil
}

// ClaimMaterialization returns true for exactly one caller per task while
// the claim lives, so a task produces at most one history record. The
// claim expires after ttl so a crashed winner does not strand the task.
func (s *TaskStore) ClaimMaterialization(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, taskKey(id)+":materialized", "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claiming materialization for %s: %w", id, err)
	}
	return ok, nil
}
