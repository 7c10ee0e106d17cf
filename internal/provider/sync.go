package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/aiox-platform/genstudio/internal/generation"
)

const syncPrefix = "sync-"

// SyncAdapter exposes a SyncGenerator as an asynchronous provider. Each
// submission runs to completion and its result is parked in Redis under a
// synthetic task id, so the poll path is identical for both provider kinds.
type SyncAdapter struct {
	gen SyncGenerator
	rdb redis.Cmdable
	ttl time.Duration
}

func NewSyncAdapter(gen SyncGenerator, rdb redis.Cmdable, ttl time.Duration) *SyncAdapter {
	return &SyncAdapter{gen: gen, rdb: rdb, ttl: ttl}
}

func (a *SyncAdapter) Submit(ctx context.Context, sub generation.Submission) (string, error) {
	images, err := a.gen.Generate(ctx, sub)
	if err != nil {
		return "", err
	}

	result := generation.PollResult{State: generation.StateSucceeded, Images: images}
	if len(images) == 0 {
		result = generation.PollResult{State: generation.StateFailed, Error: "provider returned no images"}
	}

	data, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("encoding result: %w", err)
	}

	taskID := syncPrefix + uuid.NewString()
	if err := a.rdb.Set(ctx, resultKey(taskID), data, a.ttl).Err(); err != nil {
		return "", fmt.Errorf("storing result: %w", err)
	}
	return taskID, nil
}

func (a *SyncAdapter) Query(ctx context.Context, taskID string) (*generation.PollResult, error) {
	if !strings.HasPrefix(taskID, syncPrefix) {
		return nil, errUnknownTask
	}

	data, err := a.rdb.Get(ctx, resultKey(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errUnknownTask
	}
	if err != nil {
		return nil, fmt.Errorf("loading result: %w", err)
	}

	var result generation.PollResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decoding result: %w", err)
	}
	return &result, nil
}

var errUnknownTask = &generation.ProviderError{StatusCode: http.StatusNotFound, Message: "task not found", Permanent: true}

func resultKey(taskID string) string {
	return "provider:result:" + taskID
}
