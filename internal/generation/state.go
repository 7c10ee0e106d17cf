package generation

import (
	"context"
	"fmt"
	"time"
)

// State is the lifecycle state of a generation task.
type State string

const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
	// StateTimedOut is reached on the client side only, when the poll
	// budget runs out before the provider finishes.
	StateTimedOut State = "timed_out"
)

const noImagesMessage = "provider returned no images"

func (s State) rank() int {
	switch s {
	case StatePending:
		return 0
	case StateProcessing:
		return 1
	case StateSucceeded, StateFailed, StateTimedOut:
		return 2
	default:
		return -1
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s.rank() == 2
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	return s.rank() >= 0
}

// Next returns the state after observing r in state current. Transitions
// only move forward: terminal states are sticky and an observation older
// than current is ignored. A success without images counts as a failure.
func Next(current State, r PollResult) State {
	if current.Terminal() || !r.State.Valid() || r.State == StateTimedOut {
		return current
	}
	if r.State == StateSucceeded && len(r.Images) == 0 {
		return StateFailed
	}
	if r.State.rank() < current.rank() {
		return current
	}
	return r.State
}

// Normalize rewrites a raw observation into the form clients see:
// non-terminal results carry no payload and an empty success becomes a
// failure.
func Normalize(r PollResult) PollResult {
	switch r.State {
	case StatePending, StateProcessing:
		return PollResult{State: r.State}
	case StateSucceeded:
		if len(r.Images) == 0 {
			return PollResult{State: StateFailed, Error: noImagesMessage}
		}
		return PollResult{State: StateSucceeded, Images: r.Images}
	case StateFailed:
		msg := r.Error
		if msg == "" {
			msg = "generation failed"
		}
		return PollResult{State: StateFailed, Error: msg}
	default:
		return r
	}
}

// Tracker follows one task through successive observations and enforces
// a cap on the number of polls.
type Tracker struct {
	state       State
	attempts    int
	maxAttempts int
	last        PollResult
}

// NewTracker creates a Tracker in Pending. A non-positive maxAttempts
// disables the cap.
func NewTracker(maxAttempts int) *Tracker {
	return &Tracker{state: StatePending, maxAttempts: maxAttempts}
}

// Observe records one poll and returns the resulting state.
func (t *Tracker) Observe(r PollResult) State {
	if t.state.Terminal() {
		return t.state
	}
	t.attempts++
	t.state = Next(t.state, r)
	t.last = Normalize(r)
	if !t.state.Terminal() && t.maxAttempts > 0 && t.attempts >= t.maxAttempts {
		t.state = StateTimedOut
	}
	return t.state
}

func (t *Tracker) State() State { return t.state }

func (t *Tracker) Attempts() int { return t.attempts }

// Result is the last observation, normalized.
func (t *Tracker) Result() PollResult {
	r := t.last
	r.State = t.state
	if t.state == StateFailed && r.Error == "" {
		r.Error = noImagesMessage
	}
	return r
}

// Querier is anything that can report a task status.
type Querier interface {
	Query(ctx context.Context, taskID string) (*PollResult, error)
}

// PollPolicy is the caller-owned polling cadence.
type PollPolicy struct {
	Interval    time.Duration
	MaxAttempts int
}

// Wait polls q until the task reaches a terminal state. Polls never overlap:
// the next one is scheduled Interval after the previous one returns. When
// the attempt budget runs out it returns the last result with state
// TimedOut and ErrPollTimeout.
func Wait(ctx context.Context, q Querier, taskID string, policy PollPolicy) (*PollResult, error) {
	tracker := NewTracker(policy.MaxAttempts)
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}

		r, err := q.Query(ctx, taskID)
		if err != nil {
			return nil, fmt.Errorf("polling task %s: %w", taskID, err)
		}

		state := tracker.Observe(*r)
		if state.Terminal() {
			res := tracker.Result()
			if state == StateTimedOut {
				return &res, ErrPollTimeout
			}
			return &res, nil
		}
		timer.Reset(policy.Interval)
	}
}
