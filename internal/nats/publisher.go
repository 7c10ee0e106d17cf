package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Publisher publishes generation events to JetStream.
type Publisher struct {
	js jetstream.JetStream
}

func NewPublisher(js jetstream.JetStream) *Publisher {
	return &Publisher{js: js}
}

// PublishGenerationEvent publishes a generation lifecycle event. The task id
// and event type form the message id so redelivered publishes are deduplicated.
func (p *Publisher) PublishGenerationEvent(ctx context.Context, event GenerationEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	var opts []jetstream.PublishOpt
	if event.TaskID != "" {
		opts = append(opts, jetstream.WithMsgID(event.TaskID+":"+event.EventType))
	}
	return p.publish(ctx, SubjectGenerationEvent, event, opts...)
}

func (p *Publisher) publish(ctx context.Context, subject string, data any, opts ...jetstream.PublishOpt) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling event for %s: %w", subject, err)
	}
	ack, err := p.js.Publish(ctx, subject, payload, opts...)
	if err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	if ack.Duplicate {
		slog.Debug("duplicate event ignored by stream", "subject", subject, "seq", ack.Sequence)
	}
	return nil
}
