package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestRateLimiter_Allow(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	rl := newRateLimiter(2, time.Second, clock.Now)

	assert.True(t, rl.Allow())
	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow())

	clock.Advance(1500 * time.Millisecond)
	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow())

	// The half second left over counts towards the next token.
	clock.Advance(500 * time.Millisecond)
	assert.True(t, rl.Allow())

	clock.Advance(time.Hour)
	assert.True(t, rl.Allow())
	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow())
}

func TestRateLimitMiddleware(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	m := NewRateLimitMiddleware(RateLimitConfig{Burst: 1, RefillRate: time.Minute})
	m.now = clock.Now

	r := gin.New()
	r.Use(ErrorHandler(), func(c *gin.Context) {
		if actor := c.GetHeader("X-Test-Actor"); actor != "" {
			c.Set(ActorKey, actor)
		}
		c.Next()
	}, m.Middleware())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	do := func(actor string) int {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		if actor != "" {
			req.Header.Set("X-Test-Actor", actor)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusNoContent, do("a"))
	assert.Equal(t, http.StatusTooManyRequests, do("a"))
	assert.Equal(t, http.StatusNoContent, do("b"))
	assert.Equal(t, http.StatusNoContent, do(""))
	assert.Equal(t, http.StatusTooManyRequests, do(""))

	clock.Advance(time.Minute)
	assert.Equal(t, http.StatusNoContent, do("a"))
}

func TestNewRateLimitMiddleware_Defaults(t *testing.T) {
	m := NewRateLimitMiddleware(RateLimitConfig{})
	assert.Equal(t, 20, m.maxTokens)
	assert.Equal(t, time.Second, m.refillRate)
}
