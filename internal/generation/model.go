// Package generation orchestrates image generation tasks: validation, quota
// gating, submission to the provider, status polling and materialization of
// finished results.
package generation

import (
	"context"
	"time"

	"github.com/aiox-platform/genstudio/internal/history"
	"github.com/aiox-platform/genstudio/internal/outpaint"
	"github.com/aiox-platform/genstudio/internal/quota"
)

// Mode is the kind of generation requested.
type Mode string

const (
	ModeTextToImage  Mode = "text2img"
	ModeImageToImage Mode = "img2img"
	ModeOutpaint     Mode = "outpaint"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeTextToImage, ModeImageToImage, ModeOutpaint:
		return true
	}
	return false
}

// ImageRef is an uploaded image. Data is raw bytes (base64 in JSON).
type ImageRef struct {
	Data     []byte `json:"data"`
	MimeType string `json:"mime_type"`
}

// Request is a generation request as received from a client.
type Request struct {
	Prompt      string              `json:"prompt"`
	ModelID     string              `json:"model_id"`
	Mode        Mode                `json:"mode"`
	Images      []ImageRef          `json:"reference_images,omitempty"`
	AspectRatio string              `json:"aspect_ratio,omitempty"`
	Resolution  string              `json:"resolution,omitempty"`
	Outpaint    *outpaint.Placement `json:"outpaint,omitempty"`
}

// Submission is the provider-facing shape of a request.
type Submission struct {
	ModelID     string
	Prompt      string
	Mode        Mode
	Images      []ImageRef
	AspectRatio string
	Resolution  string
}

// PollResult is one observation of a provider task.
type PollResult struct {
	State  State    `json:"state"`
	Images []string `json:"images,omitempty"`
	Error  string   `json:"error,omitempty"`
}

// Provider is the remote generation backend.
type Provider interface {
	// Submit hands the submission to the provider and returns its task id.
	Submit(ctx context.Context, sub Submission) (string, error)
	// Query fetches the task status in a single round trip.
	Query(ctx context.Context, taskID string) (*PollResult, error)
}

// Task is the server-side record of a submitted generation.
type Task struct {
	ID        string          `json:"id"`
	Owner     quota.Identity  `json:"owner"`
	Mode      Mode            `json:"mode"`
	ModelID   string          `json:"model_id"`
	Prompt    string          `json:"prompt"`
	State     State           `json:"state"`
	Images    []string        `json:"images,omitempty"`
	Error     string          `json:"error,omitempty"`
	HistoryID string          `json:"history_id,omitempty"`
	Outpaint  *OutpaintSource `json:"outpaint,omitempty"`
	Polls     int             `json:"polls"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// OutpaintSource keeps what is needed to rebuild the composite for
// reconstruction once the provider finishes. The source bytes are stored
// once under their own key, not in the task record.
type OutpaintSource struct {
	MimeType  string             `json:"mime_type"`
	Placement outpaint.Placement `json:"placement"`
}

// Status is the discriminated status payload returned to clients.
type Status struct {
	TaskID    string          `json:"task_id"`
	State     State           `json:"state"`
	Images    []string        `json:"images,omitempty"`
	Error     string          `json:"error,omitempty"`
	HistoryID string          `json:"history_id,omitempty"`
	Record    *history.Record `json:"record,omitempty"`
	Polls     int             `json:"polls"`
}

// Accepted is returned when a generation has been submitted.
type Accepted struct {
	TaskID    string `json:"task_id"`
	State     State  `json:"state"`
	Remaining int    `json:"remaining"`
}
