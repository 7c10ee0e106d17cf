package activity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	inats "github.com/aiox-platform/genstudio/internal/nats"
)

// Event matches the generation_events table schema.
type Event struct {
	ID         uuid.UUID       `json:"id"`
	TaskID     string          `json:"task_id,omitempty"`
	OwnerKind  string          `json:"owner_kind"`
	OwnerID    string          `json:"owner_id"`
	EventType  string          `json:"event_type"`
	Mode       string          `json:"mode,omitempty"`
	ModelID    string          `json:"model_id,omitempty"`
	ImageCount int             `json:"image_count"`
	Details    json.RawMessage `json:"details,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// ListParams holds pagination and filtering parameters for event queries.
type ListParams struct {
	EventType string
	Mode      string
	From      *time.Time
	To        *time.Time
	Page      int
	PageSize  int
}

func DefaultListParams() ListParams {
	return ListParams{
		Page:     1,
		PageSize: 20,
	}
}

// FromMessage converts a published generation event into a table row.
// Details are stored as {"message": ...}.
func FromMessage(e inats.GenerationEvent) *Event {
	ev := &Event{
		ID:         uuid.New(),
		TaskID:     e.TaskID,
		OwnerKind:  e.OwnerKind,
		OwnerID:    e.OwnerID,
		EventType:  e.EventType,
		Mode:       e.Mode,
		ModelID:    e.ModelID,
		ImageCount: e.ImageCount,
		CreatedAt:  e.Timestamp,
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	if e.Details != "" {
		if data, err := json.Marshal(map[string]string{"message": e.Details}); err == nil {
			ev.Details = data
		}
	}
	return ev
}
