package generation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aiox-platform/genstudio/internal/history"
	"github.com/aiox-platform/genstudio/internal/metrics"
	inats "github.com/aiox-platform/genstudio/internal/nats"
	"github.com/aiox-platform/genstudio/internal/outpaint"
	"github.com/aiox-platform/genstudio/internal/quota"
)

// Gate decides whether an identity may generate.
type Gate interface {
	Check(ctx context.Context, id quota.Identity) (quota.Decision, error)
	Commit(ctx context.Context, id quota.Identity) (bool, error)
}

// EventPublisher receives generation lifecycle events.
type EventPublisher interface {
	PublishGenerationEvent(ctx context.Context, event inats.GenerationEvent) error
}

// Service runs the generation flow: gate, submit, poll, materialize.
type Service struct {
	submitter    *Submitter
	poller       *Poller
	materializer *Materializer
	tasks        *TaskStore
	gate         Gate
	events       EventPublisher

	// materializeTimeout bounds result copying, which outlives the
	// client request that triggered it.
	materializeTimeout time.Duration
	now                func() time.Time
}

// NewService creates a generation Service. events may be nil.
func NewService(submitter *Submitter, poller *Poller, materializer *Materializer, tasks *TaskStore, gate Gate, events EventPublisher) *Service {
	return &Service{
		submitter:          submitter,
		poller:             poller,
		materializer:       materializer,
		tasks:              tasks,
		gate:               gate,
		events:             events,
		materializeTimeout: 2 * time.Minute,
		now:                time.Now,
	}
}

// Begin validates req, charges owner and submits the task. The charge
// happens before the provider call and is not refunded if the submission
// fails.
func (s *Service) Begin(ctx context.Context, owner quota.Identity, req Request) (*Accepted, error) {
	sub, err := s.submitter.Prepare(req)
	if err != nil {
		return nil, err
	}

	decision, err := s.gate.Check(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("checking quota: %w", err)
	}
	if !decision.Allowed {
		return nil, s.deny(ctx, owner, req)
	}

	ok, err := s.gate.Commit(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("committing quota: %w", err)
	}
	if !ok {
		return nil, s.deny(ctx, owner, req)
	}

	taskID, err := s.submitter.Send(ctx, sub)
	if err != nil {
		s.publish(ctx, owner, inats.EventSubmissionFailed, "", req.Mode, req.ModelID, 0, err.Error())
		return nil, err
	}

	now := s.now().UTC()
	task := &Task{
		ID:        taskID,
		Owner:     owner,
		Mode:      req.Mode,
		ModelID:   req.ModelID,
		Prompt:    req.Prompt,
		State:     StatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.Mode == ModeOutpaint {
		task.Outpaint = &OutpaintSource{MimeType: req.Images[0].MimeType, Placement: *req.Outpaint}
		if err := s.tasks.SaveSource(ctx, taskID, req.Images[0].Data); err != nil {
			slog.Error("generation: saving outpaint source failed", "error", err, "task_id", taskID)
		}
	}
	// The credit is spent and the provider holds the task, so the client
	// gets the task id even if the record cannot be written.
	if err := s.tasks.Save(ctx, task); err != nil {
		slog.Error("generation: recording task failed", "error", err, "task_id", taskID, "owner", owner.String())
	}

	s.publish(ctx, owner, inats.EventSubmitted, taskID, req.Mode, req.ModelID, 0, "")
	slog.Info("generation submitted", "task_id", taskID, "owner", owner.String(), "mode", req.Mode, "model", req.ModelID)

	return &Accepted{
		TaskID:    taskID,
		State:     StatePending,
		Remaining: max(decision.Remaining-1, 0),
	}, nil
}

// Status returns the task's current state, querying the provider once if
// the task is still running. The first caller to observe success
// materializes the result.
func (s *Service) Status(ctx context.Context, owner quota.Identity, taskID string) (*Status, error) {
	task, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Owner != owner {
		return nil, ErrNotOwner
	}
	if task.State.Terminal() {
		return statusOf(task), nil
	}

	r, err := s.poller.Query(ctx, taskID)
	if err != nil {
		return nil, err
	}

	task.Polls++
	next := Next(task.State, *r)
	var rec *history.Record

	switch next {
	case StateSucceeded:
		claimed, err := s.tasks.ClaimMaterialization(ctx, taskID, s.materializeTimeout+time.Minute)
		if err != nil {
			slog.Warn("generation: materialization claim failed", "error", err, "task_id", taskID)
		}
		if !claimed {
			return s.materializingElsewhere(ctx, task)
		}
		rec = s.materialize(ctx, task, r.Images)
		task.Images = rec.Images
		task.HistoryID = rec.ID
		s.publish(ctx, owner, inats.EventSucceeded, taskID, task.Mode, task.ModelID, len(rec.Images), "")
	case StateFailed:
		task.Error = r.Error
		s.publish(ctx, owner, inats.EventFailed, taskID, task.Mode, task.ModelID, 0, r.Error)
	}

	task.State = next
	task.UpdatedAt = s.now().UTC()
	stored, written, err := s.tasks.Advance(ctx, task)
	if err != nil {
		slog.Warn("generation: saving task state failed", "error", err, "task_id", taskID)
	} else if !written {
		// A concurrent request already moved the task further.
		return statusOf(stored), nil
	}

	st := statusOf(task)
	st.Record = rec
	return st, nil
}

// materializingElsewhere answers a poll that observed success while
// another request holds the materialization claim. Raw provider URLs are
// never returned: the client sees the stored result once it is written and
// processing until then.
func (s *Service) materializingElsewhere(ctx context.Context, task *Task) (*Status, error) {
	stored, err := s.tasks.Get(ctx, task.ID)
	if err != nil {
		return nil, err
	}
	if stored.State.Terminal() {
		return statusOf(stored), nil
	}
	return &Status{TaskID: task.ID, State: StateProcessing, Polls: task.Polls}, nil
}

func (s *Service) materialize(ctx context.Context, task *Task, images []string) *history.Record {
	meta := Meta{TaskID: task.ID, Prompt: task.Prompt, Mode: task.Mode, ModelID: task.ModelID}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.materializeTimeout)
	defer cancel()

	rec, result := s.materializer.Materialize(ctx, task.Owner, meta, images, s.transformFor(ctx, task))
	if err := result.Err(); err != nil {
		slog.Warn("generation: result partially persisted", "error", err, "task_id", task.ID)
	}
	return &rec
}

// transformFor returns the outpaint reconstruction for task, nil for other
// modes or when the composite cannot be rebuilt.
func (s *Service) transformFor(ctx context.Context, task *Task) Transform {
	if task.Outpaint == nil {
		return nil
	}
	src, err := s.tasks.Source(ctx, task.ID)
	if err != nil {
		metrics.ReconstructionFailuresTotal.Inc()
		slog.Warn("generation: outpaint source unavailable", "error", err, "task_id", task.ID)
		return nil
	}
	c, err := s.submitter.limits.BuildFromBytes(src, task.Outpaint.Placement)
	if err != nil {
		metrics.ReconstructionFailuresTotal.Inc()
		slog.Warn("generation: cannot rebuild outpaint composite", "error", err, "task_id", task.ID)
		return nil
	}
	return func(data []byte, _ string) ([]byte, string, error) {
		out, err := outpaint.ReconstructPNG(data, c)
		if err != nil {
			metrics.ReconstructionFailuresTotal.Inc()
			return nil, "", err
		}
		return out, "image/png", nil
	}
}

func (s *Service) deny(ctx context.Context, owner quota.Identity, req Request) error {
	metrics.QuotaDenialsTotal.WithLabelValues(string(owner.Kind)).Inc()
	s.publish(ctx, owner, inats.EventQuotaDenied, "", req.Mode, req.ModelID, 0, "")
	if owner.Kind == quota.KindAccount {
		return ErrInsufficientCredits
	}
	return ErrQuotaExceeded
}

func (s *Service) publish(ctx context.Context, owner quota.Identity, eventType, taskID string, mode Mode, modelID string, images int, details string) {
	if s.events == nil {
		return
	}
	event := inats.GenerationEvent{
		TaskID:     taskID,
		OwnerKind:  string(owner.Kind),
		OwnerID:    owner.ID,
		EventType:  eventType,
		Mode:       string(mode),
		ModelID:    modelID,
		ImageCount: images,
		Details:    details,
		Timestamp:  s.now().UTC(),
	}
	if err := s.events.PublishGenerationEvent(ctx, event); err != nil {
		slog.Warn("generation: publishing event failed", "error", err, "event_type", eventType)
	}
}

func statusOf(t *Task) *Status {
	return &Status{
		TaskID:    t.ID,
		State:     t.State,
		Images:    t.Images,
		Error:     t.Error,
		HistoryID: t.HistoryID,
		Polls:     t.Polls,
	}
}
