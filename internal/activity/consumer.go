package activity

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	inats "github.com/aiox-platform/genstudio/internal/nats"
)

const consumerName = "activity-persister"

// Writer persists events. *Repository satisfies it.
type Writer interface {
	Insert(ctx context.Context, e *Event) error
}

// Consumer listens on the generation event subject and persists events.
type Consumer struct {
	repo        Writer
	consumerMgr *inats.ConsumerManager
}

func NewConsumer(repo Writer, consumerMgr *inats.ConsumerManager) *Consumer {
	return &Consumer{
		repo:        repo,
		consumerMgr: consumerMgr,
	}
}

// Start begins the consume loop. Blocks until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	consumer, err := c.consumerMgr.EnsureConsumer(ctx, inats.StreamEvents, consumerName, inats.SubjectGenerationEvent, 30*time.Second, 5)
	if err != nil {
		return err
	}

	slog.Info("activity consumer started", "consumer", consumerName)

	for {
		msgs, err := consumer.Fetch(10, jetstream.FetchMaxWait(inats.FetchTimeout))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Debug("activity consumer: fetching events", "error", err)
			continue
		}

		for msg := range msgs.Messages() {
			c.handle(ctx, msg)
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

// Message is the part of jetstream.Msg the consumer uses.
type Message interface {
	Data() []byte
	Ack() error
	Nak() error
	Term() error
}

func (c *Consumer) handle(ctx context.Context, msg Message) {
	var event inats.GenerationEvent
	if err := json.Unmarshal(msg.Data(), &event); err != nil {
		slog.Error("activity consumer: unmarshaling event", "error", err)
		_ = msg.Term()
		return
	}

	if err := c.repo.Insert(ctx, FromMessage(event)); err != nil {
		slog.Error("activity consumer: persisting event", "error", err, "event_type", event.EventType)
		_ = msg.Nak()
		return
	}

	_ = msg.Ack()

	slog.Debug("activity consumer: persisted event",
		"event_type", event.EventType,
		"owner", event.OwnerKind+":"+event.OwnerID,
		"task_id", event.TaskID,
	)
}
