package generation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiox-platform/genstudio/internal/history"
	"github.com/aiox-platform/genstudio/internal/quota"
	"github.com/aiox-platform/genstudio/internal/storage"
)

type memHistory struct {
	records []history.Record
	err     error
}

func (m *memHistory) Prepend(_ context.Context, _ quota.Identity, rec history.Record) error {
	if m.err != nil {
		return m.err
	}
	m.records = append([]history.Record{rec}, m.records...)
	return nil
}

func TestMaterializer_PreservesProviderOrder(t *testing.T) {
	// Later images respond faster so completion order is reversed.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var n int
		fmt.Sscanf(r.URL.Path, "/img/%d.png", &n)
		time.Sleep(time.Duration(5-n) * 10 * time.Millisecond)
		w.Header().Set("Content-Type", "image/png")
		fmt.Fprintf(w, "image-%d", n)
	}))
	defer srv.Close()

	blobs := newMemBlobs()
	hist := &memHistory{}
	m := NewMaterializer(srv.Client(), blobs, hist, 5)

	urls := make([]string, 5)
	for i := range urls {
		urls[i] = fmt.Sprintf("%s/img/%d.png", srv.URL, i)
	}

	owner := quota.Guest("g1")
	rec, result := m.Materialize(context.Background(), owner, Meta{TaskID: "t1", Prompt: "p", Mode: ModeTextToImage, ModelID: "demo-model"}, urls, nil)
	require.NoError(t, result.Err())

	require.Len(t, rec.Images, 5)
	for i, u := range rec.Images {
		assert.True(t, strings.HasPrefix(u, "https://blobs.test/guest/g1/"), "image %d stored under owner prefix: %s", i, u)
		assert.True(t, strings.HasSuffix(u, ".png"))
		assert.Equal(t, fmt.Sprintf("image-%d", i), string(blobs.get(u)))
	}
	require.Len(t, hist.records, 1)
	assert.Equal(t, rec.ID, hist.records[0].ID)
	assert.Equal(t, "t1", rec.TaskID)
	assert.Equal(t, "text2img", rec.Mode)
}

func TestMaterializer_FetchFailureKeepsOriginalURL(t *testing.T) {
	srv := imageServer(t, map[string][]byte{"/ok.png": []byte("ok")})
	blobs := newMemBlobs()
	m := NewMaterializer(srv.Client(), blobs, &memHistory{}, 2)

	missing := srv.URL + "/missing.png"
	rec, result := m.Materialize(context.Background(), quota.Guest("g"), Meta{Mode: ModeTextToImage},
		[]string{srv.URL + "/ok.png", missing}, nil)

	require.Len(t, rec.Images, 2)
	assert.True(t, strings.HasPrefix(rec.Images[0], "https://blobs.test/"))
	assert.Equal(t, missing, rec.Images[1])

	require.Len(t, result.Failures, 1)
	assert.Equal(t, 1, result.Failures[0].Index)
	assert.Contains(t, result.Err().Error(), "status 404")
}

func TestMaterializer_UploadFailureKeepsOriginalURL(t *testing.T) {
	srv := imageServer(t, map[string][]byte{"/a.png": []byte("poison")})
	blobs := newMemBlobs()
	blobs.failFor = "poison"
	m := NewMaterializer(srv.Client(), blobs, &memHistory{}, 1)

	rec, result := m.Materialize(context.Background(), quota.Guest("g"), Meta{}, []string{srv.URL + "/a.png"}, nil)
	assert.Equal(t, srv.URL+"/a.png", rec.Images[0])
	assert.Error(t, result.Err())
}

func TestMaterializer_DataURL(t *testing.T) {
	blobs := newMemBlobs()
	m := NewMaterializer(nil, blobs, &memHistory{}, 1)

	rec, result := m.Materialize(context.Background(), quota.Guest("g"), Meta{},
		[]string{storage.DataURL([]byte("inline"), "image/webp")}, nil)
	require.NoError(t, result.Err())
	assert.True(t, strings.HasSuffix(rec.Images[0], ".webp"))
	assert.Equal(t, "inline", string(blobs.get(rec.Images[0])))
}

func TestMaterializer_RejectsUnsupportedScheme(t *testing.T) {
	m := NewMaterializer(nil, newMemBlobs(), &memHistory{}, 1)

	rec, result := m.Materialize(context.Background(), quota.Guest("g"), Meta{}, []string{"file:///etc/passwd"}, nil)
	assert.Equal(t, "file:///etc/passwd", rec.Images[0])
	assert.Error(t, result.Err())
}

func TestMaterializer_HistoryErrorIsReportedNotReturned(t *testing.T) {
	srv := imageServer(t, map[string][]byte{"/a.png": []byte("a")})
	m := NewMaterializer(srv.Client(), newMemBlobs(), &memHistory{err: errors.New("redis down")}, 1)

	rec, result := m.Materialize(context.Background(), quota.Guest("g"), Meta{}, []string{srv.URL + "/a.png"}, nil)
	assert.Len(t, rec.Images, 1)
	assert.Empty(t, result.Failures)
	require.Error(t, result.HistoryErr)
	assert.Contains(t, result.Err().Error(), "redis down")
}

func TestMaterializer_Transform(t *testing.T) {
	srv := imageServer(t, map[string][]byte{"/a.png": []byte("raw"), "/b.png": []byte("bad")})
	blobs := newMemBlobs()
	m := NewMaterializer(srv.Client(), blobs, &memHistory{}, 2)

	var calls atomic.Int32
	transform := func(data []byte, _ string) ([]byte, string, error) {
		calls.Add(1)
		if string(data) == "bad" {
			return nil, "", errors.New("cannot decode")
		}
		return []byte("fixed-" + string(data)), "image/png", nil
	}

	rec, result := m.Materialize(context.Background(), quota.Guest("g"), Meta{},
		[]string{srv.URL + "/a.png", srv.URL + "/b.png"}, transform)
	require.NoError(t, result.Err())
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "fixed-raw", string(blobs.get(rec.Images[0])))
	assert.Equal(t, "bad", string(blobs.get(rec.Images[1])), "transform failure stores the original bytes")
}

func TestMaterializer_RespectsConcurrencyLimit(t *testing.T) {
	var active, peak atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		active.Add(-1)
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	m := NewMaterializer(srv.Client(), newMemBlobs(), &memHistory{}, 2)
	urls := make([]string, 8)
	for i := range urls {
		urls[i] = fmt.Sprintf("%s/%d", srv.URL, i)
	}

	_, result := m.Materialize(context.Background(), quota.Guest("g"), Meta{}, urls, nil)
	require.NoError(t, result.Err())
	assert.LessOrEqual(t, peak.Load(), int32(2))
}
