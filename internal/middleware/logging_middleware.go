package middleware

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/meetsmatch/roommates/internal/telemetry"
)

// LoggingConfig holds the configuration for logging middleware
type LoggingConfig struct {
	SkipPaths     []string      `json:"skip_paths"`
	LogBody       bool          `json:"log_body"`
	LogHeaders    bool          `json:"log_headers"`
	MaxBodySize   int           `json:"max_body_size"` // bytes
	SlowThreshold time.Duration `json:"slow_threshold"`
}

// DefaultLoggingConfig returns the default logging middleware configuration
func DefaultLoggingConfig() *LoggingConfig {
	return &LoggingConfig{
		SkipPaths:     []string{"/health", "/health/live"},
		LogHeaders:    true,
		MaxBodySize:   1024,
		SlowThreshold: 2 * time.Second,
	}
}

// CorrelationHeader carries the request correlation id in both directions.
const CorrelationHeader = "X-Correlation-ID"

var sensitiveHeaders = map[string]bool{
	"Authorization": true,
	"Cookie":        true,
	"X-Api-Key":     true,
}

// CorrelationID reuses the caller's correlation id or creates one, stores it in
// the request context and echoes it in the response.
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader(CorrelationHeader)
		if correlationID == "" {
			correlationID = telemetry.NewCorrelationID()
		}
		c.Header(CorrelationHeader, correlationID)
		c.Request = c.Request.WithContext(telemetry.WithCorrelationID(c.Request.Context(), correlationID))
		c.Next()
	}
}

// LoggingMiddleware writes one access log entry per request, plus a debug
// entry when the request starts.
func LoggingMiddleware(config *LoggingConfig) gin.HandlerFunc {
	if config == nil {
		config = DefaultLoggingConfig()
	}
	skip := make(map[string]bool, len(config.SkipPaths))
	for _, path := range config.SkipPaths {
		skip[path] = true
	}

	return func(c *gin.Context) {
		if skip[c.Request.URL.Path] {
			c.Next()
			return
		}

		start := time.Now()
		fields := requestFields(c, config)
		if config.LogBody {
			if body, ok := peekBody(c.Request, config.MaxBodySize); ok {
				fields["body"] = body
			}
		}
		logger := telemetry.LogFromContext(c.Request.Context()).WithFields(fields)
		logger.Debug("HTTP request started")

		capture := &bodyCapture{ResponseWriter: c.Writer, limit: config.MaxBodySize}
		if config.LogBody {
			c.Writer = capture
		}

		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()
		done := logrus.Fields{
			"status":      status,
			"duration_ms": float64(duration.Microseconds()) / 1000,
			"size":        c.Writer.Size(),
		}
		if capture.buf.Len() > 0 {
			done["response_body"] = capture.buf.String()
		}
		if actor, ok := ActorFromContext(c); ok {
			done["actor_id"] = actor
		}
		if errs := c.Errors.Errors(); len(errs) > 0 {
			done["errors"] = errs
		}

		entry := logger.WithFields(done)
		switch {
		case status >= http.StatusInternalServerError:
			entry.Error("HTTP request completed with server error")
		case status >= http.StatusBadRequest:
			entry.Warn("HTTP request completed with client error")
		case config.SlowThreshold > 0 && duration > config.SlowThreshold:
			entry.Warn("HTTP request completed (slow)")
		default:
			entry.Info("HTTP request completed")
		}
	}
}

func requestFields(c *gin.Context, config *LoggingConfig) logrus.Fields {
	fields := logrus.Fields{
		"method":    c.Request.Method,
		"path":      c.Request.URL.Path,
		"route":     c.FullPath(),
		"remote_ip": c.ClientIP(),
	}
	if q := c.Request.URL.RawQuery; q != "" {
		fields["query"] = q
	}
	if ua := c.Request.UserAgent(); ua != "" {
		fields["user_agent"] = ua
	}
	// Route params such as the profile or match id.
	for _, p := range c.Params {
		fields["param_"+p.Key] = p.Value
	}
	if config.LogHeaders {
		fields["headers"] = redactHeaders(c.Request.Header)
	}
	return fields
}

func redactHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		switch {
		case sensitiveHeaders[name]:
			out[name] = "[REDACTED]"
		case len(values) > 0:
			out[name] = values[0]
		}
	}
	return out
}

// peekBody reads up to limit bytes of the request body and puts them back in
// front of the unread remainder.
func peekBody(r *http.Request, limit int) (string, bool) {
	if r.Body == nil || r.Body == http.NoBody {
		return "", false
	}
	head, err := io.ReadAll(io.LimitReader(r.Body, int64(limit)))
	if err != nil {
		return "", false
	}
	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(head), r.Body), r.Body}
	return string(head), true
}

// bodyCapture keeps the first limit bytes written to the response.
type bodyCapture struct {
	gin.ResponseWriter
	buf   bytes.Buffer
	limit int
}

func (w *bodyCapture) Write(data []byte) (int, error) {
	if room := w.limit - w.buf.Len(); room > 0 {
		if len(data) < room {
			room = len(data)
		}
		w.buf.Write(data[:room])
	}
	return w.ResponseWriter.Write(data)
}

func (w *bodyCapture) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}
