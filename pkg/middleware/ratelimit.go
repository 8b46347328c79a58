package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/grigta/webportal/pkg/logger"
)

// WindowCounter counts hits per key inside a fixed window. *cache.RedisCache
// satisfies it, which lets several replicas share one limit.
type WindowCounter interface {
	IncrementWindow(ctx context.Context, key string, window time.Duration) (int64, error)
}

var ErrInvalidWindow = errors.New("rate limit window must be positive")

type RateLimiter struct {
	counter WindowCounter
	rate    int
	window  time.Duration
	prefix  string
}

func NewRateLimiter(counter WindowCounter, rate int, window time.Duration) (*RateLimiter, error) {
	if window <= 0 {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidWindow, window)
	}
	if counter == nil {
		counter = newMemoryCounter(window)
	}
	return &RateLimiter{
		counter: counter,
		rate:    rate,
		window:  window,
		prefix:  "ratelimit:",
	}, nil
}

func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := rl.prefix + rl.getKey(c)

		n, err := rl.counter.IncrementWindow(c.Request.Context(), key, rl.window)
		if err != nil {
			// fail open
			logger.WithContext(c.Request.Context()).Warn("Rate limiter unavailable", logger.Err(err))
			c.Next()
			return
		}

		remaining := int64(rl.rate) - n
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.rate))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if n > int64(rl.rate) {
			c.Header("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"retry_after": rl.window.Seconds(),
			})
			return
		}

		c.Next()
	}
}

func (rl *RateLimiter) getKey(c *gin.Context) string {
	if user, ok := CurrentUser(c); ok {
		return fmt.Sprintf("user:%s", user.ID.Hex())
	}
	return fmt.Sprintf("ip:%s", c.ClientIP())
}

type bucket struct {
	count     int64
	lastReset time.Time
}

// memoryCounter keeps windows in process. Stale buckets are swept on the first
// hit after each window elapses.
type memoryCounter struct {
	mu        sync.Mutex
	requests  map[string]*bucket
	window    time.Duration
	lastSweep time.Time
	now       func() time.Time
}

func newMemoryCounter(window time.Duration) *memoryCounter {
	return &memoryCounter{
		requests: make(map[string]*bucket),
		window:   window,
		now:      time.Now,
	}
}

func (mc *memoryCounter) IncrementWindow(_ context.Context, key string, window time.Duration) (int64, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	now := mc.now()
	mc.sweep(now)

	b, exists := mc.requests[key]
	if !exists || now.Sub(b.lastReset) >= window {
		mc.requests[key] = &bucket{count: 1, lastReset: now}
		return 1, nil
	}

	b.count++
	return b.count, nil
}

func (mc *memoryCounter) sweep(now time.Time) {
	if mc.lastSweep.IsZero() {
		mc.lastSweep = now
		return
	}
	if now.Sub(mc.lastSweep) < mc.window {
		return
	}
	mc.lastSweep = now

	for key, b := range mc.requests {
		if now.Sub(b.lastReset) > mc.window*2 {
			delete(mc.requests, key)
		}
	}
}
