package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aiox-platform/genstudio/internal/metrics"
	"github.com/aiox-platform/genstudio/internal/outpaint"
)

var allowedMimeTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/webp": true,
	"image/gif":  true,
}

// Submitter validates requests and hands them to the provider.
type Submitter struct {
	provider Provider
	catalog  *Catalog
	maxRefs  int
	limits   outpaint.Limits
}

func NewSubmitter(provider Provider, catalog *Catalog, maxRefs int) *Submitter {
	return &Submitter{provider: provider, catalog: catalog, maxRefs: maxRefs, limits: outpaint.DefaultLimits}
}

// WithOutpaintLimits bounds the canvas and source sizes accepted in
// outpaint mode.
func (s *Submitter) WithOutpaintLimits(l outpaint.Limits) *Submitter {
	s.limits = l
	return s
}

// Validate checks the fields common to every mode.
func (s *Submitter) Validate(req Request) error {
	if strings.TrimSpace(req.Prompt) == "" {
		return invalid("prompt", "must not be empty")
	}
	if req.ModelID == "" {
		return invalid("model_id", "is required")
	}
	if !s.catalog.Known(req.ModelID) {
		return invalid("model_id", "unknown model %q", req.ModelID)
	}
	if !req.Mode.Valid() {
		return invalid("mode", "unknown mode %q", req.Mode)
	}
	if len(req.Images) > s.maxRefs {
		return invalid("reference_images", "at most %d images allowed, got %d", s.maxRefs, len(req.Images))
	}
	for i, img := range req.Images {
		if len(img.Data) == 0 {
			return invalid("reference_images", "image %d is empty", i)
		}
		if !allowedMimeTypes[strings.ToLower(img.MimeType)] {
			return invalid("reference_images", "image %d has unsupported type %q", i, img.MimeType)
		}
	}
	return nil
}

// Prepare validates req and builds its provider submission. It makes no
// network call.
func (s *Submitter) Prepare(req Request) (Submission, error) {
	if err := s.Validate(req); err != nil {
		return Submission{}, err
	}
	payload, err := NewPayload(req)
	if err != nil {
		return Submission{}, err
	}
	if op, ok := payload.(Outpaint); ok {
		op.Limits = s.limits
		payload = op
	}
	return payload.Build(req.ModelID)
}

// Send submits a prepared submission. Provider errors are returned as is
// and never retried.
func (s *Submitter) Send(ctx context.Context, sub Submission) (string, error) {
	taskID, err := s.provider.Submit(ctx, sub)
	if err != nil {
		metrics.SubmissionFailuresTotal.WithLabelValues(string(sub.Mode)).Inc()
		var pe *ProviderError
		if errors.As(err, &pe) {
			return "", err
		}
		return "", fmt.Errorf("submitting to provider: %w", err)
	}
	if taskID == "" {
		metrics.SubmissionFailuresTotal.WithLabelValues(string(sub.Mode)).Inc()
		return "", &ProviderError{Message: "provider returned an empty task id", Permanent: true}
	}
	metrics.GenerationsSubmittedTotal.WithLabelValues(string(sub.Mode)).Inc()
	return taskID, nil
}

// Submit is Prepare followed by Send.
func (s *Submitter) Submit(ctx context.Context, req Request) (string, error) {
	sub, err := s.Prepare(req)
	if err != nil {
		return "", err
	}
	return s.Send(ctx, sub)
}
