package middleware

import (
	"bytes"
	"crypto/md5"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/meetsmatch/roommates/internal/interfaces"
	"github.com/meetsmatch/roommates/internal/telemetry"
)

// CacheHeader reports whether a response came from the response cache.
const CacheHeader = "X-Cache"

// CacheConfig holds response caching configuration
type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
	// SkipPatterns are path substrings that are never cached.
	SkipPatterns []string `mapstructure:"skip_patterns"`
}

// CachedResponse represents a cached HTTP response
type CachedResponse struct {
	Status      int       `json:"status"`
	ContentType string    `json:"content_type"`
	Body        []byte    `json:"body"`
	Timestamp   time.Time `json:"timestamp"`
}

// CacheMiddleware caches successful GET responses. Only routes whose output is
// a pure function of the request belong behind it.
type CacheMiddleware struct {
	cache  interfaces.Cache
	config CacheConfig
}

// NewCacheMiddleware creates a new cache middleware
func NewCacheMiddleware(c interfaces.Cache, config CacheConfig) *CacheMiddleware {
	if config.TTL <= 0 {
		config.TTL = 30 * time.Minute
	}
	return &CacheMiddleware{cache: c, config: config}
}

// Handler returns the gin handler.
func (m *CacheMiddleware) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.cache == nil || !m.config.Enabled || c.Request.Method != http.MethodGet ||
			m.shouldSkipCaching(c.Request.URL.Path) {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		key := m.generateCacheKey(c)
		logger := telemetry.GetContextualLogger(ctx).WithFields(map[string]interface{}{
			"operation": "cache_lookup",
			"cache_key": key,
		})

		var cached CachedResponse
		if err := m.cache.GetCache(ctx, key, &cached); err == nil && cached.Status != 0 {
			logger.WithField("result", "hit").Debug("Response cache hit")
			c.Header(CacheHeader, "HIT")
			c.Data(cached.Status, cached.ContentType, cached.Body)
			c.Abort()
			return
		}
		logger.WithField("result", "miss").Debug("Response cache miss")

		writer := &bodyRecorder{ResponseWriter: c.Writer, body: &bytes.Buffer{}}
		c.Writer = writer
		c.Header(CacheHeader, "MISS")
		c.Next()

		if writer.Status() != http.StatusOK || len(c.Errors) > 0 {
			return
		}
		response := CachedResponse{
			Status:      writer.Status(),
			ContentType: writer.Header().Get("Content-Type"),
			Body:        writer.body.Bytes(),
			Timestamp:   time.Now().UTC(),
		}
		if err := m.cache.SetCache(ctx, key, response, m.config.TTL); err != nil {
			logger.WithError(err).Warn("Failed to cache response")
		}
	}
}

// shouldSkipCaching reports whether path matches one of the skip patterns.
func (m *CacheMiddleware) shouldSkipCaching(path string) bool {
	for _, pattern := range m.config.SkipPatterns {
		if strings.Contains(path, pattern) {
			return true
		}
	}
	return false
}

// generateCacheKey hashes the route, query and actor into a cache key.
func (m *CacheMiddleware) generateCacheKey(c *gin.Context) string {
	actor, _ := ActorFromContext(c)
	hash := md5.Sum([]byte(fmt.Sprintf("%s?%s#%s", c.Request.URL.Path, c.Request.URL.Query().Encode(), actor)))
	return fmt.Sprintf("http_response:%x", hash)
}

// bodyRecorder copies the response body while it is written.
type bodyRecorder struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *bodyRecorder) Write(data []byte) (int, error) {
	w.body.Write(data)
	return w.ResponseWriter.Write(data)
}

func (w *bodyRecorder) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}
