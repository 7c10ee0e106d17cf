package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiox-platform/genstudio/internal/generation"
)

func TestHTTPClient_Submit(t *testing.T) {
	var got submitRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/images/generations", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]string{"task_id": "t1"})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL+"/", "secret", 5*time.Second)
	id, err := c.Submit(context.Background(), generation.Submission{
		ModelID: "demo-model",
		Prompt:  "a red circle",
		Mode:    generation.ModeImageToImage,
		Images: []generation.ImageRef{
			{Data: []byte("one"), MimeType: "image/png"},
			{Data: []byte("two"), MimeType: "image/jpeg"},
		},
		AspectRatio: "16:9",
	})
	require.NoError(t, err)
	assert.Equal(t, "t1", id)

	assert.Equal(t, "demo-model", got.Model)
	assert.Equal(t, "img2img", got.Mode)
	assert.Equal(t, "16:9", got.AspectRatio)
	require.Len(t, got.Images, 2)
	assert.Equal(t, "one", string(got.Images[0].Data))
	assert.Equal(t, "image/jpeg", got.Images[1].MimeType)
}

func TestHTTPClient_SubmitErrors(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		body      string
		message   string
		permanent bool
	}{
		{"nested message", http.StatusUnauthorized, `{"error":{"message":"invalid api key"}}`, "invalid api key", true},
		{"flat error", http.StatusBadRequest, `{"error":"prompt rejected"}`, "prompt rejected", true},
		{"message field", http.StatusUnprocessableEntity, `{"message":"bad size"}`, "bad size", true},
		{"plain text", http.StatusServiceUnavailable, "overloaded", "overloaded", false},
		{"rate limited", http.StatusTooManyRequests, `{"error":"slow down"}`, "slow down", false},
		{"empty body", http.StatusBadGateway, "", "provider returned status 502", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := NewHTTPClient(srv.URL, "", time.Second).Submit(context.Background(), generation.Submission{Prompt: "x"})
			var pe *generation.ProviderError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tc.status, pe.StatusCode)
			assert.Equal(t, tc.message, pe.Message)
			assert.Equal(t, tc.permanent, pe.Permanent)
		})
	}
}

func TestHTTPClient_Query(t *testing.T) {
	responses := map[string]taskResponse{
		"queued":  {Status: "queued"},
		"running": {Status: "RUNNING"},
		"done":    {Status: "completed", Images: []string{"https://cdn.test/a.png"}},
		"broken":  {Status: "failed", Error: "nsfw"},
		"weird":   {Status: "melting"},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Path[len("/v1/tasks/"):]
		resp, ok := responses[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"task not found"}`))
			return
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", time.Second)
	ctx := context.Background()

	want := map[string]generation.State{
		"queued":  generation.StatePending,
		"running": generation.StateProcessing,
		"done":    generation.StateSucceeded,
		"broken":  generation.StateFailed,
		"weird":   generation.State("melting"),
	}
	for id, state := range want {
		r, err := c.Query(ctx, id)
		require.NoError(t, err, id)
		assert.Equal(t, state, r.State, id)
	}

	r, err := c.Query(ctx, "done")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://cdn.test/a.png"}, r.Images)

	r, err = c.Query(ctx, "broken")
	require.NoError(t, err)
	assert.Equal(t, "nsfw", r.Error)

	_, err = c.Query(ctx, "missing")
	var pe *generation.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusNotFound, pe.StatusCode)
}

func TestHTTPClient_UnknownStateRejectedByPoller(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(taskResponse{Status: "melting"})
	}))
	defer srv.Close()

	_, err := generation.NewPoller(NewHTTPClient(srv.URL, "", time.Second)).Query(context.Background(), "t")
	var pe *generation.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, pe.Message, "melting")
}

func newOpenAIServer(t *testing.T, handler http.HandlerFunc) *OpenAIGenerator {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	gen, err := NewOpenAIGenerator("sk-test", srv.URL+"/v1", 5*time.Second)
	require.NoError(t, err)
	return gen
}

func TestOpenAIGenerator_TextToImage(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte("png-bytes"))
	var got map[string]any
	gen := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/images/generations", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"created": 1,
			"data":    []map[string]string{{"b64_json": payload}},
		})
	})

	images, err := gen.Generate(context.Background(), generation.Submission{
		ModelID: "dall-e-3", Prompt: "a red circle", Mode: generation.ModeTextToImage, Resolution: "1024x1024",
	})
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Equal(t, "data:image/png;base64,"+payload, images[0])

	assert.Equal(t, "a red circle", got["prompt"])
	assert.Equal(t, "dall-e-3", got["model"])
	assert.Equal(t, "b64_json", got["response_format"])
	assert.Equal(t, "1024x1024", got["size"])
}

func TestOpenAIGenerator_APIError(t *testing.T) {
	gen := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"Your request was rejected by the safety system.","type":"invalid_request_error"}}`))
	})

	_, err := gen.Generate(context.Background(), generation.Submission{Prompt: "x", Mode: generation.ModeTextToImage})
	var pe *generation.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusBadRequest, pe.StatusCode)
	assert.Contains(t, pe.Message, "safety system")
	assert.True(t, pe.Permanent)
}

func TestOpenAIGenerator_RejectsImageModes(t *testing.T) {
	gen, err := NewOpenAIGenerator("sk-test", "http://127.0.0.1:1", time.Second)
	require.NoError(t, err)

	_, err = gen.Generate(context.Background(), generation.Submission{Prompt: "x", Mode: generation.ModeOutpaint})
	var pe *generation.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.True(t, pe.Permanent)
}

func TestNewOpenAIGenerator_RequiresKey(t *testing.T) {
	_, err := NewOpenAIGenerator("", "", time.Second)
	assert.Error(t, err)
}

type stubGenerator struct {
	images []string
	err    error
}

func (s stubGenerator) Generate(context.Context, generation.Submission) ([]string, error) {
	return s.images, s.err
}

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

func TestSyncAdapter_ParksResult(t *testing.T) {
	mr, rdb := setupRedis(t)
	a := NewSyncAdapter(stubGenerator{images: []string{"data:image/png;base64,AA=="}}, rdb, time.Hour)
	ctx := context.Background()

	id, err := a.Submit(ctx, generation.Submission{Prompt: "x"})
	require.NoError(t, err)
	assert.Contains(t, id, syncPrefix)

	r, err := a.Query(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, generation.StateSucceeded, r.State)
	assert.Equal(t, []string{"data:image/png;base64,AA=="}, r.Images)

	mr.FastForward(2 * time.Hour)
	_, err = a.Query(ctx, id)
	var pe *generation.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusNotFound, pe.StatusCode)
}

func TestSyncAdapter_NoImagesIsFailure(t *testing.T) {
	_, rdb := setupRedis(t)
	a := NewSyncAdapter(stubGenerator{}, rdb, time.Hour)

	id, err := a.Submit(context.Background(), generation.Submission{Prompt: "x"})
	require.NoError(t, err)

	r, err := a.Query(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, generation.StateFailed, r.State)
	assert.NotEmpty(t, r.Error)
}

func TestSyncAdapter_GeneratorErrorPassesThrough(t *testing.T) {
	_, rdb := setupRedis(t)
	perr := &generation.ProviderError{StatusCode: 400, Message: "rejected", Permanent: true}
	a := NewSyncAdapter(stubGenerator{err: perr}, rdb, time.Hour)

	_, err := a.Submit(context.Background(), generation.Submission{Prompt: "x"})
	assert.Same(t, perr, err)
}

func TestSyncAdapter_ForeignTaskID(t *testing.T) {
	_, rdb := setupRedis(t)
	a := NewSyncAdapter(stubGenerator{}, rdb, time.Hour)

	_, err := a.Query(context.Background(), "t-from-elsewhere")
	assert.True(t, errors.Is(err, errUnknownTask))
}
