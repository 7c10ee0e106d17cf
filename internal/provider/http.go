package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aiox-platform/genstudio/internal/generation"
)

const maxErrorBody = 64 << 10

// HTTPClient talks to an asynchronous task API: submissions return a task
// id that is polled until it reaches a terminal state.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type wireImage struct {
	Data     []byte `json:"data"`
	MimeType string `json:"mime_type"`
}

type submitRequest struct {
	Model       string      `json:"model"`
	Prompt      string      `json:"prompt"`
	Mode        string      `json:"mode"`
	Images      []wireImage `json:"images,omitempty"`
	AspectRatio string      `json:"aspect_ratio,omitempty"`
	Resolution  string      `json:"resolution,omitempty"`
}

type submitResponse struct {
	TaskID string `json:"task_id"`
}

type taskResponse struct {
	Status string   `json:"status"`
	Images []string `json:"images"`
	Error  string   `json:"error"`
}

func (c *HTTPClient) Submit(ctx context.Context, sub generation.Submission) (string, error) {
	body := submitRequest{
		Model:       sub.ModelID,
		Prompt:      sub.Prompt,
		Mode:        string(sub.Mode),
		AspectRatio: sub.AspectRatio,
		Resolution:  sub.Resolution,
	}
	for _, img := range sub.Images {
		body.Images = append(body.Images, wireImage{Data: img.Data, MimeType: img.MimeType})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encoding submission: %w", err)
	}

	var out submitResponse
	if err := c.do(ctx, http.MethodPost, "/v1/images/generations", bytes.NewReader(payload), &out); err != nil {
		return "", err
	}
	return out.TaskID, nil
}

func (c *HTTPClient) Query(ctx context.Context, taskID string) (*generation.PollResult, error) {
	var out taskResponse
	if err := c.do(ctx, http.MethodGet, "/v1/tasks/"+url.PathEscape(taskID), nil, &out); err != nil {
		return nil, err
	}
	return &generation.PollResult{
		State:  mapStatus(out.Status),
		Images: out.Images,
		Error:  out.Error,
	}, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &generation.ProviderError{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(resp.StatusCode, raw),
			Permanent:  permanent(resp.StatusCode),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding provider response: %w", err)
	}
	return nil
}

// mapStatus folds the provider's status vocabulary into task states.
// Unknown values pass through so the poller can reject them.
func mapStatus(s string) generation.State {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending", "queued", "submitted":
		return generation.StatePending
	case "processing", "running", "in_progress":
		return generation.StateProcessing
	case "succeeded", "success", "completed":
		return generation.StateSucceeded
	case "failed", "failure", "error", "cancelled", "canceled":
		return generation.StateFailed
	default:
		return generation.State(s)
	}
}

// errorMessage extracts a human readable message from the common error
// body shapes: {"error":{"message":...}}, {"error":"..."} and {"message":...}.
func errorMessage(status int, raw []byte) string {
	var body struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if json.Unmarshal(raw, &body) == nil {
		var nested struct {
			Message string `json:"message"`
		}
		var flat string
		switch {
		case json.Unmarshal(body.Error, &nested) == nil && nested.Message != "":
			return nested.Message
		case json.Unmarshal(body.Error, &flat) == nil && flat != "":
			return flat
		case body.Message != "":
			return body.Message
		}
	}
	if text := strings.TrimSpace(string(raw)); text != "" && len(text) < 512 {
		return text
	}
	return fmt.Sprintf("provider returned status %d", status)
}

// permanent reports whether resubmitting the same request cannot succeed.
func permanent(status int) bool {
	return status >= 400 && status < 500 && status != http.StatusTooManyRequests && status != http.StatusRequestTimeout
}
