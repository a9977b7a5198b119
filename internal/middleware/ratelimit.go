package middleware

import (
	"fmt"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/meetsmatch/roommates/internal/errors"
	"github.com/meetsmatch/roommates/internal/telemetry"
)

// RateLimiter represents a simple token bucket rate limiter
type RateLimiter struct {
	tokens     int
	maxTokens  int
	lastRefill time.Time
	refillRate time.Duration
	now        func() time.Time
	mu         sync.Mutex
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(maxTokens int, refillRate time.Duration) *RateLimiter {
	return newRateLimiter(maxTokens, refillRate, time.Now)
}

func newRateLimiter(maxTokens int, refillRate time.Duration, now func() time.Time) *RateLimiter {
	return &RateLimiter{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		lastRefill: now(),
		refillRate: refillRate,
		now:        now,
	}
}

// Allow checks if a request is allowed
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	elapsed := now.Sub(rl.lastRefill)

	if elapsed >= rl.refillRate {
		tokensToAdd := int(elapsed / rl.refillRate)
		rl.tokens = min(rl.maxTokens, rl.tokens+tokensToAdd)
		rl.lastRefill = rl.lastRefill.Add(time.Duration(tokensToAdd) * rl.refillRate)
	}

	if rl.tokens > 0 {
		rl.tokens--
		return true
	}
	return false
}

// RateLimitConfig sizes the per-client buckets.
type RateLimitConfig struct {
	Burst      int           `mapstructure:"burst"`
	RefillRate time.Duration `mapstructure:"refill_rate"`
}

// RateLimitMiddleware keeps one bucket per client. Authenticated requests are
// keyed by actor profile, anonymous ones by client IP.
type RateLimitMiddleware struct {
	limiters   map[string]*RateLimiter
	mu         sync.RWMutex
	maxTokens  int
	refillRate time.Duration
	now        func() time.Time
}

// NewRateLimitMiddleware creates a new rate limiting middleware
func NewRateLimitMiddleware(config RateLimitConfig) *RateLimitMiddleware {
	if config.Burst <= 0 {
		config.Burst = 20
	}
	if config.RefillRate <= 0 {
		config.RefillRate = time.Second
	}
	return &RateLimitMiddleware{
		limiters:   make(map[string]*RateLimiter),
		maxTokens:  config.Burst,
		refillRate: config.RefillRate,
		now:        time.Now,
	}
}

// Middleware returns the rate limiting gin handler.
func (m *RateLimitMiddleware) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if actor, ok := ActorFromContext(c); ok {
			key = "actor:" + actor
		}

		if !m.getLimiter(key).Allow() {
			telemetry.GetContextualLogger(c.Request.Context()).
				WithField("client", key).
				Warn("Rate limit exceeded")
			_ = c.Error(errors.NewRateLimitError(m.maxTokens, fmt.Sprintf("%s per token", m.refillRate)))
			c.Abort()
			return
		}
		c.Next()
	}
}

// getLimiter gets or creates a rate limiter for a client
func (m *RateLimitMiddleware) getLimiter(key string) *RateLimiter {
	m.mu.RLock()
	limiter, exists := m.limiters[key]
	m.mu.RUnlock()

	if !exists {
		m.mu.Lock()
		if limiter, exists = m.limiters[key]; !exists {
			limiter = newRateLimiter(m.maxTokens, m.refillRate, m.now)
			m.limiters[key] = limiter
		}
		m.mu.Unlock()
	}
	return limiter
}
