package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/permitdesk/pkg/contextkeys"
	"github.com/platinummonkey/permitdesk/pkg/rbac"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func newTestLimiter(config *RateLimitConfig) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
	limiter := NewRateLimiter(config)
	limiter.now = clock.Now
	return limiter, clock
}

func TestRateLimiter_Allow(t *testing.T) {
	config := &RateLimitConfig{
		RequestsPerWindow: 10,
		WindowDuration:    time.Second,
		BurstSize:         2,
	}
	limiter, clock := newTestLimiter(config)
	ctx := context.Background()

	allowed := 0
	for i := 0; i < 20; i++ {
		d, err := limiter.Allow(ctx, "ip:1")
		require.NoError(t, err)
		if d.Allowed {
			allowed++
		}
	}
	assert.Equal(t, 12, allowed)

	d, err := limiter.Allow(ctx, "ip:1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 100*time.Millisecond, d.RetryAfter)

	// Other keys have their own bucket
	d, err = limiter.Allow(ctx, "ip:2")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	clock.now = clock.now.Add(time.Second)
	d, err = limiter.Allow(ctx, "ip:1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 9, d.Remaining)
}

func TestRateLimiter_Remaining(t *testing.T) {
	limiter, _ := newTestLimiter(&RateLimitConfig{RequestsPerWindow: 10, WindowDuration: time.Second, BurstSize: 2})

	assert.Equal(t, 12, limiter.Remaining("user:1"))
	_, err := limiter.Allow(context.Background(), "user:1")
	require.NoError(t, err)
	assert.Equal(t, 11, limiter.Remaining("user:1"))
}

func TestRateLimiter_Cleanup(t *testing.T) {
	limiter, clock := newTestLimiter(&RateLimitConfig{RequestsPerWindow: 10, WindowDuration: time.Minute})
	for _, key := range []string{"a", "b", "c"} {
		_, err := limiter.Allow(context.Background(), key)
		require.NoError(t, err)
	}
	assert.Len(t, limiter.buckets, 3)

	clock.now = clock.now.Add(time.Minute)
	limiter.Cleanup()
	assert.Len(t, limiter.buckets, 3)

	clock.now = clock.now.Add(2 * time.Minute)
	limiter.Cleanup()
	assert.Empty(t, limiter.buckets)
}

func TestRateLimiter_Concurrency(t *testing.T) {
	limiter := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 100, WindowDuration: time.Hour, BurstSize: 10})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				d, _ := limiter.Allow(context.Background(), "shared")
				if d.Allowed {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 110, allowed)
}

func TestDistributedRateLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	limiter := NewDistributedRateLimiter(client, &RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute, BurstSize: 1}, "")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := limiter.Allow(ctx, "ip:1")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d", i)
	}
	d, err := limiter.Allow(ctx, "ip:1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, time.Minute, d.RetryAfter)
	assert.Equal(t, time.Minute, mr.TTL("permitdesk:ratelimit:ip:1"))

	mr.FastForward(time.Minute)
	d, err = limiter.Allow(ctx, "ip:1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	require.NoError(t, limiter.Reset(ctx, "ip:1"))
	assert.False(t, mr.Exists("permitdesk:ratelimit:ip:1"))

	mr.Close()
	_, err = limiter.Allow(ctx, "ip:1")
	assert.Error(t, err)
}

func TestRateLimitMiddleware(t *testing.T) {
	anon, _ := newTestLimiter(&RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute})
	users, _ := newTestLimiter(&RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute})
	handler := NewRateLimitMiddleware(users, anon).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(user *rbac.User, ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", "/permits/lookup?vehicle_number=LHR-1", nil)
		req.RemoteAddr = ip + ":5555"
		if user != nil {
			req = req.WithContext(contextkeys.WithUser(req.Context(), user))
		}
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	w := send(nil, "10.0.0.1")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	w = send(nil, "10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, send(nil, "10.0.0.2").Code)

	clerk := &rbac.User{ID: 7, Username: "clerk", IsActive: true}
	assert.Equal(t, http.StatusOK, send(clerk, "10.0.0.1").Code)
	assert.Equal(t, http.StatusOK, send(clerk, "10.0.0.1").Code)
	assert.Equal(t, http.StatusTooManyRequests, send(clerk, "10.0.0.1").Code)
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (Decision, error) {
	return Decision{}, assert.AnError
}

func TestRateLimitMiddleware_BackendFailure(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	m := NewRateLimitMiddleware(nil, failingLimiter{})

	w := httptest.NewRecorder()
	m.Handler(ok).ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	m.SetFailOpen(false)
	w = httptest.NewRecorder()
	m.Handler(ok).ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		expectedIP string
	}{
		{"X-Forwarded-For header", map[string]string{"X-Forwarded-For": "192.168.1.1"}, "10.0.0.1:12345", "192.168.1.1"},
		{"X-Forwarded-For chain", map[string]string{"X-Forwarded-For": "192.168.1.1, 10.1.1.1"}, "10.0.0.1:12345", "192.168.1.1"},
		{"X-Real-IP header", map[string]string{"X-Real-IP": "192.168.1.2"}, "10.0.0.1:12345", "192.168.1.2"},
		{"RemoteAddr fallback", map[string]string{}, "10.0.0.1:12345", "10.0.0.1"},
		{"RemoteAddr without port", map[string]string{}, "10.0.0.1", "10.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.expectedIP, getClientIP(req))
		})
	}
}
