package nats

import "time"

// FetchTimeout is the default timeout for batch fetching messages from consumers.
const FetchTimeout = 2 * time.Second

// Stream names.
const (
	StreamEvents = "GENSTUDIO_EVENTS"
)

// Subject constants.
const (
	SubjectEventsAll       = "genstudio.events.>"
	SubjectGenerationEvent = "genstudio.events.generation"
)

// Generation event types.
const (
	EventSubmitted        = "submitted"
	EventSubmissionFailed = "submission_failed"
	EventQuotaDenied      = "quota_denied"
	EventSucceeded        = "succeeded"
	EventFailed           = "failed"
)

// GenerationEvent is published at each step of a generation's lifecycle.
type GenerationEvent struct {
	TaskID     string    `json:"task_id,omitempty"`
	OwnerKind  string    `json:"owner_kind"`
	OwnerID    string    `json:"owner_id"`
	EventType  string    `json:"event_type"`
	Mode       string    `json:"mode"`
	ModelID    string    `json:"model_id"`
	ImageCount int       `json:"image_count,omitempty"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
