package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/aiox-platform/genstudio/internal/generation"
)

// SyncGenerator produces images within a single call.
type SyncGenerator interface {
	Generate(ctx context.Context, sub generation.Submission) ([]string, error)
}

// OpenAIGenerator generates images with the OpenAI images API. Only text
// prompts are supported; results come back as base64 data URLs.
type OpenAIGenerator struct {
	client *openai.Client
}

// NewOpenAIGenerator creates a generator. An empty baseURL uses the OpenAI
// default endpoint.
func NewOpenAIGenerator(apiKey, baseURL string, timeout time.Duration) (*OpenAIGenerator, error) {
	if apiKey == "" {
		return nil, errors.New("provider: OpenAI API key is required")
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}

	return &OpenAIGenerator{client: openai.NewClientWithConfig(cfg)}, nil
}

func (g *OpenAIGenerator) Generate(ctx context.Context, sub generation.Submission) ([]string, error) {
	if sub.Mode != generation.ModeTextToImage {
		return nil, &generation.ProviderError{
			StatusCode: http.StatusBadRequest,
			Message:    fmt.Sprintf("mode %s is not supported by this provider", sub.Mode),
			Permanent:  true,
		}
	}

	req := openai.ImageRequest{
		Prompt:         sub.Prompt,
		Model:          sub.ModelID,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
		N:              1,
	}
	if sub.Resolution != "" {
		req.Size = sub.Resolution
	}

	resp, err := g.client.CreateImage(ctx, req)
	if err != nil {
		return nil, mapOpenAIError(err)
	}

	images := make([]string, 0, len(resp.Data))
	for _, d := range resp.Data {
		switch {
		case d.B64JSON != "":
			images = append(images, "data:image/png;base64,"+d.B64JSON)
		case d.URL != "":
			images = append(images, d.URL)
		}
	}
	return images, nil
}

func mapOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &generation.ProviderError{
			StatusCode: apiErr.HTTPStatusCode,
			Message:    apiErr.Message,
			Permanent:  permanent(apiErr.HTTPStatusCode),
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &generation.ProviderError{
			StatusCode: reqErr.HTTPStatusCode,
			Message:    fmt.Sprintf("provider returned status %d", reqErr.HTTPStatusCode),
			Permanent:  permanent(reqErr.HTTPStatusCode),
		}
	}
	return fmt.Errorf("calling OpenAI: %w", err)
}
