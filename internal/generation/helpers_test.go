package generation

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/aiox-platform/genstudio/internal/history"
	inats "github.com/aiox-platform/genstudio/internal/nats"
	"github.com/aiox-platform/genstudio/internal/quota"
)

// fakeProvider returns a fixed task id and replays scripted poll results;
// the last result repeats. The hooks run outside the lock.
type fakeProvider struct {
	mu          sync.Mutex
	taskID      string
	submitErr   error
	results     []PollResult
	submissions []Submission
	queries     int

	afterSubmit func()
	beforeReply func(call int)
}

func (p *fakeProvider) Submit(_ context.Context, sub Submission) (string, error) {
	p.mu.Lock()
	p.submissions = append(p.submissions, sub)
	err, hook := p.submitErr, p.afterSubmit
	p.mu.Unlock()
	if err != nil {
		return "", err
	}
	if hook != nil {
		hook()
	}
	return p.taskID, nil
}

func (p *fakeProvider) Query(_ context.Context, _ string) (*PollResult, error) {
	p.mu.Lock()
	if len(p.results) == 0 {
		p.mu.Unlock()
		return &PollResult{State: StatePending}, nil
	}
	call := p.queries
	p.queries++
	r := p.results[min(call, len(p.results)-1)]
	hook := p.beforeReply
	p.mu.Unlock()
	if hook != nil {
		hook(call)
	}
	return &r, nil
}

func (p *fakeProvider) submitCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.submissions)
}

func (p *fakeProvider) queryCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queries
}

type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	failFor string
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: make(map[string][]byte)}
}

func (b *memBlobs) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failFor != "" && strings.Contains(string(data), b.failFor) {
		return "", fmt.Errorf("bucket unavailable")
	}
	b.objects[key] = data
	return "https://blobs.test/" + key, nil
}

func (b *memBlobs) get(url string) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.objects[strings.TrimPrefix(url, "https://blobs.test/")]
}

type fakeCredits struct {
	mu      sync.Mutex
	credits map[uuid.UUID]int
}

func (f *fakeCredits) Credits(_ context.Context, id uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.credits[id]
	if !ok {
		return 0, quota.ErrUnknownAccount
	}
	return c, nil
}

func (f *fakeCredits) DeductCredit(_ context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.credits[id] <= 0 {
		return false, nil
	}
	f.credits[id]--
	return true, nil
}

func (f *fakeCredits) balance(id uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.credits[id]
}

type recordedEvents struct {
	mu     sync.Mutex
	events []inats.GenerationEvent
}

func (r *recordedEvents) PublishGenerationEvent(_ context.Context, e inats.GenerationEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordedEvents) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.EventType
	}
	return out
}

type fixture struct {
	svc      *Service
	provider *fakeProvider
	blobs    *memBlobs
	history  *history.Store
	tasks    *TaskStore
	quota    *quota.Service
	credits  *fakeCredits
	events   *recordedEvents
	mr       *miniredis.Miniredis
}

func newFixture(t *testing.T, provider *fakeProvider) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	blobs := newMemBlobs()
	hist := history.NewStore(rdb, 100, 0)
	tasks := NewTaskStore(rdb, 24*time.Hour)
	credits := &fakeCredits{credits: make(map[uuid.UUID]int)}
	quotaSvc := quota.NewService(quota.NewMemoryGuestLedger(24*time.Hour), credits, 3, 24*time.Hour)
	events := &recordedEvents{}

	catalog := NewCatalog([]string{"demo-model", "flux-pro"})
	svc := NewService(
		NewSubmitter(provider, catalog, 4),
		NewPoller(provider),
		NewMaterializer(nil, blobs, hist, 4),
		tasks,
		quotaSvc,
		events,
	)

	return &fixture{
		svc:      svc,
		provider: provider,
		blobs:    blobs,
		history:  hist,
		tasks:    tasks,
		quota:    quotaSvc,
		credits:  credits,
		events:   events,
		mr:       mr,
	}
}

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x * 2), G: uint8(y * 2), B: uint8(x + y), A: 255})
		}
	}
	return img
}

func pngBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func decodePNG(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img
}

// imageServer serves fixed bodies by path and 404s everything else.
func imageServer(t *testing.T, files map[string][]byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(data)
	}))
	t.Cleanup(srv.Close)
	return srv
}
