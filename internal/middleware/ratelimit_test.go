package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRateLimiter(t *testing.T, prefix string, maxReqs, windowSec int) (*RateLimiter, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRateLimiter(client, prefix, maxReqs, windowSec), mr, client
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func hit(h http.Handler, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/generations", nil)
	req.RemoteAddr = remote
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimiter_BlocksOverLimit(t *testing.T) {
	rl, _, _ := setupRateLimiter(t, "generate", 3, 60)
	handler := rl.Middleware(okHandler)

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, hit(handler, "10.0.0.1:12345").Code, "request %d", i+1)
	}

	rec := hit(handler, "10.0.0.1:12345")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"too many requests"}`, rec.Body.String())
}

func TestRateLimiter_DifferentIPsIndependent(t *testing.T) {
	rl, _, _ := setupRateLimiter(t, "generate", 2, 60)
	handler := rl.Middleware(okHandler)

	hit(handler, "1.1.1.1:1")
	hit(handler, "1.1.1.1:1")
	assert.Equal(t, http.StatusTooManyRequests, hit(handler, "1.1.1.1:1").Code)
	assert.Equal(t, http.StatusOK, hit(handler, "2.2.2.2:1").Code)
}

func TestRateLimiter_PrefixesAreIndependent(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	auth := NewRateLimiter(client, "auth", 1, 60).Middleware(okHandler)
	gen := NewRateLimiter(client, "generate", 1, 60).Middleware(okHandler)

	assert.Equal(t, http.StatusOK, hit(auth, "5.5.5.5:1").Code)
	assert.Equal(t, http.StatusOK, hit(gen, "5.5.5.5:1").Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(auth, "5.5.5.5:1").Code)
	assert.True(t, mr.Exists("ratelimit:auth:5.5.5.5"))
	assert.True(t, mr.Exists("ratelimit:generate:5.5.5.5"))
}

func TestRateLimiter_FailsOpenOnRedisError(t *testing.T) {
	rl, mr, _ := setupRateLimiter(t, "auth", 1, 60)
	mr.Close()

	assert.Equal(t, http.StatusOK, hit(rl.Middleware(okHandler), "3.3.3.3:1").Code)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded first hop", map[string]string{"X-Forwarded-For": "9.9.9.9, 10.0.0.1"}, "127.0.0.1:80", "9.9.9.9"},
		{"real ip", map[string]string{"X-Real-IP": "8.8.8.8"}, "127.0.0.1:80", "8.8.8.8"},
		{"remote addr", nil, "7.7.7.7:4321", "7.7.7.7"},
		{"remote without port", nil, "7.7.7.7", "7.7.7.7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, clientIP(req))
		})
	}
}
