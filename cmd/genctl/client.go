package main

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

	"github.com/aiox-platform/genstudio/internal/auth"
	"github.com/aiox-platform/genstudio/internal/generation"
)

// apiClient talks to the genstudio HTTP API as either a guest or an account.
type apiClient struct {
	baseURL string
	token   string
	guestID string
	http    *http.Client
}

func newAPIClient(baseURL, token, guestID string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		guestID: guestID,
		http:    &http.Client{Timeout: 3 * time.Minute},
	}
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
}

// apiError is a non-2xx answer from the server.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

func (c *apiClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	} else if c.guestID != "" {
		req.Header.Set(auth.GuestHeader, c.guestID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<20)).Decode(&env); err != nil && err != io.EOF {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	if resp.StatusCode >= 300 {
		msg := env.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &apiError{Status: resp.StatusCode, Message: msg}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decoding %s payload: %w", path, err)
		}
	}
	return nil
}

func (c *apiClient) Create(ctx context.Context, req generation.Request) (*generation.Accepted, error) {
	var acc generation.Accepted
	if err := c.do(ctx, http.MethodPost, "/api/v1/generations", req, &acc); err != nil {
		return nil, err
	}
	return &acc, nil
}

// Status returns the full status payload, including the history record
// once the task has been materialized.
func (c *apiClient) Status(ctx context.Context, taskID string) (*generation.Status, error) {
	var st generation.Status
	if err := c.do(ctx, http.MethodGet, "/api/v1/generations/"+url.PathEscape(taskID), nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Query satisfies generation.Querier so generation.Wait can drive polling.
func (c *apiClient) Query(ctx context.Context, taskID string) (*generation.PollResult, error) {
	st, err := c.Status(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return &generation.PollResult{State: st.State, Images: st.Images, Error: st.Error}, nil
}

func (c *apiClient) Login(ctx context.Context, email, password string) (string, error) {
	var tokens struct {
		AccessToken string `json:"access_token"`
	}
	in := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/login", in, &tokens); err != nil {
		return "", err
	}
	return tokens.AccessToken, nil
}
