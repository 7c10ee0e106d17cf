package generation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/aiox-platform/genstudio/internal/history"
	"github.com/aiox-platform/genstudio/internal/metrics"
	"github.com/aiox-platform/genstudio/internal/quota"
	"github.com/aiox-platform/genstudio/internal/storage"
)

const defaultMaxImageBytes = 32 << 20

// BlobStore is where fetched images are copied to.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// HistoryWriter records successful generations.
type HistoryWriter interface {
	Prepend(ctx context.Context, owner quota.Identity, rec history.Record) error
}

// Transform rewrites a fetched image before it is stored. On error the
// untransformed bytes are stored instead.
type Transform func(data []byte, contentType string) ([]byte, string, error)

// Meta describes the generation being materialized.
type Meta struct {
	TaskID  string
	Prompt  string
	Mode    Mode
	ModelID string
}

// ImageFailure is one image that could not be copied to storage. Its
// original URL is used in the record instead.
type ImageFailure struct {
	Index int
	URL   string
	Err   error
}

// PersistResult reports the best-effort parts of a materialization. It is
// meant to be logged by the caller; none of it fails the generation.
type PersistResult struct {
	Failures   []ImageFailure
	HistoryErr error
}

// Err joins every failure into one error, nil when everything persisted.
func (r PersistResult) Err() error {
	errs := make([]error, 0, len(r.Failures)+1)
	for _, f := range r.Failures {
		errs = append(errs, fmt.Errorf("image %d: %w", f.Index, f.Err))
	}
	if r.HistoryErr != nil {
		errs = append(errs, fmt.Errorf("history: %w", r.HistoryErr))
	}
	return errors.Join(errs...)
}

// Materializer copies provider results to blob storage and records them in
// the owner's history.
type Materializer struct {
	client      *http.Client
	store       BlobStore
	history     HistoryWriter
	concurrency int
	maxBytes    int64
	now         func() time.Time
}

func NewMaterializer(client *http.Client, store BlobStore, hist HistoryWriter, concurrency int) *Materializer {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Materializer{
		client:      client,
		store:       store,
		history:     hist,
		concurrency: concurrency,
		maxBytes:    defaultMaxImageBytes,
		now:         time.Now,
	}
}

// Materialize fetches and stores every image in parallel, keeping the
// provider's order, then prepends the record to the owner's history.
// Failures never abort the operation: an image that cannot be fetched or
// stored keeps its original URL and a history write error is reported in
// the PersistResult.
func (m *Materializer) Materialize(ctx context.Context, owner quota.Identity, meta Meta, imageURLs []string, transform Transform) (history.Record, PersistResult) {
	images := make([]string, len(imageURLs))
	errs := make([]error, len(imageURLs))

	var g errgroup.Group
	g.SetLimit(m.concurrency)
	for i, u := range imageURLs {
		g.Go(func() error {
			images[i], errs[i] = m.persistOne(ctx, owner, u, transform)
			return nil
		})
	}
	_ = g.Wait()

	var result PersistResult
	for i, err := range errs {
		if err != nil {
			result.Failures = append(result.Failures, ImageFailure{Index: i, URL: imageURLs[i], Err: err})
			metrics.ImagesMaterializedTotal.WithLabelValues("fallback").Inc()
		} else {
			metrics.ImagesMaterializedTotal.WithLabelValues("stored").Inc()
		}
	}

	now := m.now().UTC()
	rec := history.Record{
		ID:        history.NewID(now),
		TaskID:    meta.TaskID,
		Prompt:    meta.Prompt,
		Mode:      string(meta.Mode),
		ModelID:   meta.ModelID,
		Images:    images,
		CreatedAt: now,
	}
	if err := m.history.Prepend(ctx, owner, rec); err != nil {
		result.HistoryErr = err
	}
	return rec, result
}

// persistOne returns the stored URL, or the original URL with the error
// that prevented storing it.
func (m *Materializer) persistOne(ctx context.Context, owner quota.Identity, rawURL string, transform Transform) (string, error) {
	data, contentType, err := m.fetch(ctx, rawURL)
	if err != nil {
		return rawURL, fmt.Errorf("fetching: %w", err)
	}

	if transform != nil {
		out, outType, err := transform(data, contentType)
		if err != nil {
			slog.Warn("materializer: transform failed, storing original", "error", err)
		} else {
			data, contentType = out, outType
		}
	}

	key := fmt.Sprintf("%s/%s/%s%s", owner.Kind, owner.ID, uuid.NewString(), storage.ExtensionFor(contentType))
	stored, err := m.store.Put(ctx, key, data, contentType)
	if err != nil {
		return rawURL, fmt.Errorf("uploading %s: %w", key, err)
	}
	return stored, nil
}

func (m *Materializer) fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	if strings.HasPrefix(rawURL, "data:") {
		return storage.ParseDataURL(rawURL)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, "", fmt.Errorf("parsing url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("creating request: %w", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("downloading: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, m.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("reading body: %w", err)
	}
	if int64(len(data)) > m.maxBytes {
		return nil, "", fmt.Errorf("image exceeds %d bytes", m.maxBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(strings.ToLower(contentType), "image/") {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}
