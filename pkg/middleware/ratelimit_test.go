package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grigta/webportal/pkg/cache"
)

type failingCounter struct{}

func (failingCounter) IncrementWindow(context.Context, string, time.Duration) (int64, error) {
	return 0, errors.New("redis down")
}

func hit(router *gin.Engine) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/user/login", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	router.ServeHTTP(w, req)
	return w
}

func limitedRouter(t *testing.T, counter WindowCounter, rate int) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	rl, err := NewRateLimiter(counter, rate, time.Minute)
	require.NoError(t, err)
	r := gin.New()
	r.GET("/user/login", rl.Middleware(), func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestRateLimiter_Memory(t *testing.T) {
	router := limitedRouter(t, nil, 2)

	assert.Equal(t, http.StatusOK, hit(router).Code)
	w := hit(router)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	w = hit(router)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
}

func TestRateLimiter_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	router := limitedRouter(t, cache.NewRedisCacheWithClient(client), 1)

	assert.Equal(t, http.StatusOK, hit(router).Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(router).Code)
	assert.True(t, mr.Exists("ratelimit:ip:10.0.0.1"))

	mr.FastForward(time.Minute + time.Second)
	assert.Equal(t, http.StatusOK, hit(router).Code)
}

func TestRateLimiter_FailsOpen(t *testing.T) {
	router := limitedRouter(t, failingCounter{}, 1)

	assert.Equal(t, http.StatusOK, hit(router).Code)
	assert.Equal(t, http.StatusOK, hit(router).Code)
}

func TestMemoryCounter_WindowReset(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mc := &memoryCounter{requests: make(map[string]*bucket), window: time.Minute, now: func() time.Time { return now }}

	n, _ := mc.IncrementWindow(context.Background(), "k", time.Minute)
	assert.Equal(t, int64(1), n)
	n, _ = mc.IncrementWindow(context.Background(), "k", time.Minute)
	assert.Equal(t, int64(2), n)

	now = now.Add(time.Minute)
	n, _ = mc.IncrementWindow(context.Background(), "k", time.Minute)
	assert.Equal(t, int64(1), n)
}

func TestNewRateLimiter_RejectsNonPositiveWindow(t *testing.T) {
	for _, window := range []time.Duration{0, -time.Second} {
		rl, err := NewRateLimiter(nil, 10, window)
		assert.ErrorIs(t, err, ErrInvalidWindow)
		assert.Nil(t, rl)
	}
}

func TestMemoryCounter_SweepsStaleKeys(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mc := newMemoryCounter(time.Minute)
	mc.now = func() time.Time { return now }

	ctx := context.Background()
	_, _ = mc.IncrementWindow(ctx, "stale", time.Minute)

	now = now.Add(90 * time.Second)
	_, _ = mc.IncrementWindow(ctx, "fresh", time.Minute)
	assert.Len(t, mc.requests, 2)

	now = now.Add(2 * time.Minute)
	_, _ = mc.IncrementWindow(ctx, "fresh", time.Minute)
	assert.NotContains(t, mc.requests, "stale")
	assert.Contains(t, mc.requests, "fresh")
}
