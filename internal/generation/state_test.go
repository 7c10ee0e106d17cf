package generation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNext(t *testing.T) {
	img := []string{"https://cdn.test/1.png"}
	cases := []struct {
		name    string
		current State
		result  PollResult
		want    State
	}{
		{"pending to processing", StatePending, PollResult{State: StateProcessing}, StateProcessing},
		{"pending stays pending", StatePending, PollResult{State: StatePending}, StatePending},
		{"processing to succeeded", StateProcessing, PollResult{State: StateSucceeded, Images: img}, StateSucceeded},
		{"pending straight to succeeded", StatePending, PollResult{State: StateSucceeded, Images: img}, StateSucceeded},
		{"processing to failed", StateProcessing, PollResult{State: StateFailed, Error: "nsfw"}, StateFailed},
		{"success without images fails", StateProcessing, PollResult{State: StateSucceeded}, StateFailed},
		{"no backward transition", StateProcessing, PollResult{State: StatePending}, StateProcessing},
		{"succeeded is sticky", StateSucceeded, PollResult{State: StateFailed}, StateSucceeded},
		{"failed is sticky", StateFailed, PollResult{State: StateSucceeded, Images: img}, StateFailed},
		{"timed out is sticky", StateTimedOut, PollResult{State: StateSucceeded, Images: img}, StateTimedOut},
		{"unknown state ignored", StatePending, PollResult{State: "exploded"}, StatePending},
		{"provider cannot time out a task", StateProcessing, PollResult{State: StateTimedOut}, StateProcessing},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Next(tc.current, tc.result))
		})
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, PollResult{State: StateProcessing}, Normalize(PollResult{State: StateProcessing, Images: []string{"x"}, Error: "y"}))
	assert.Equal(t, PollResult{State: StateFailed, Error: noImagesMessage}, Normalize(PollResult{State: StateSucceeded}))
	assert.Equal(t, "generation failed", Normalize(PollResult{State: StateFailed}).Error)
}

func TestTracker_TimesOutAfterMaxAttempts(t *testing.T) {
	tr := NewTracker(3)
	assert.Equal(t, StateProcessing, tr.Observe(PollResult{State: StateProcessing}))
	assert.Equal(t, StateProcessing, tr.Observe(PollResult{State: StateProcessing}))
	assert.Equal(t, StateTimedOut, tr.Observe(PollResult{State: StateProcessing}))
	assert.Equal(t, 3, tr.Attempts())

	// Further observations are ignored.
	assert.Equal(t, StateTimedOut, tr.Observe(PollResult{State: StateSucceeded, Images: []string{"x"}}))
	assert.Equal(t, 3, tr.Attempts())
}

func TestTracker_SucceedsOnLastAttempt(t *testing.T) {
	tr := NewTracker(2)
	tr.Observe(PollResult{State: StatePending})
	state := tr.Observe(PollResult{State: StateSucceeded, Images: []string{"a", "b"}})

	assert.Equal(t, StateSucceeded, state)
	assert.Equal(t, []string{"a", "b"}, tr.Result().Images)
}

type scriptedQuerier struct {
	mu      sync.Mutex
	results []PollResult
	calls   int
	active  int
	overlap bool
}

func (q *scriptedQuerier) Query(_ context.Context, _ string) (*PollResult, error) {
	q.mu.Lock()
	q.active++
	if q.active > 1 {
		q.overlap = true
	}
	idx := q.calls
	if idx >= len(q.results) {
		idx = len(q.results) - 1
	}
	q.calls++
	r := q.results[idx]
	q.mu.Unlock()

	time.Sleep(time.Millisecond)

	q.mu.Lock()
	q.active--
	q.mu.Unlock()
	return &r, nil
}

func TestWait_Succeeds(t *testing.T) {
	q := &scriptedQuerier{results: []PollResult{
		{State: StatePending},
		{State: StateProcessing},
		{State: StateSucceeded, Images: []string{"https://cdn.test/out.png"}},
	}}

	res, err := Wait(context.Background(), q, "t1", PollPolicy{Interval: time.Millisecond, MaxAttempts: 10})
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, res.State)
	assert.Equal(t, []string{"https://cdn.test/out.png"}, res.Images)
	assert.Equal(t, 3, q.calls)
	assert.False(t, q.overlap)
}

func TestWait_ProviderFailure(t *testing.T) {
	q := &scriptedQuerier{results: []PollResult{
		{State: StateProcessing},
		{State: StateFailed, Error: "content policy violation"},
	}}

	res, err := Wait(context.Background(), q, "t1", PollPolicy{Interval: time.Millisecond, MaxAttempts: 10})
	require.NoError(t, err)
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, "content policy violation", res.Error)
}

func TestWait_TimesOut(t *testing.T) {
	q := &scriptedQuerier{results: []PollResult{{State: StateProcessing}}}

	res, err := Wait(context.Background(), q, "t1", PollPolicy{Interval: time.Millisecond, MaxAttempts: 4})
	require.ErrorIs(t, err, ErrPollTimeout)
	assert.Equal(t, StateTimedOut, res.State)
	assert.Equal(t, 4, q.calls)
}

func TestWait_ContextCancelled(t *testing.T) {
	q := &scriptedQuerier{results: []PollResult{{State: StateProcessing}}}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := Wait(ctx, q, "t1", PollPolicy{Interval: 5 * time.Millisecond})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

type failingQuerier struct{}

func (failingQuerier) Query(context.Context, string) (*PollResult, error) {
	return nil, &ProviderError{StatusCode: 404, Message: "task not found", Permanent: true}
}

func TestWait_QueryError(t *testing.T) {
	_, err := Wait(context.Background(), failingQuerier{}, "t1", PollPolicy{Interval: time.Millisecond, MaxAttempts: 3})
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "task not found", pe.Message)
}
