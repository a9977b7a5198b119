package monitoring

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// latencyBuckets are the histogram bounds, in seconds, shared by the HTTP and
// store duration instruments.
var latencyBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// HTTPInstrumentation records request metrics for the gin router. Spans come
// from otelgin, so this only covers the meter side.
type HTTPInstrumentation struct {
	requests metric.Int64Counter
	duration metric.Float64Histogram
	size     metric.Int64Histogram
	inFlight metric.Int64UpDownCounter
}

func NewHTTPInstrumentation() (*HTTPInstrumentation, error) {
	return NewHTTPInstrumentationWithMeter(
		otel.Meter(instrumentationName, metric.WithInstrumentationVersion(instrumentationVersion)),
	)
}

func NewHTTPInstrumentationWithMeter(meter metric.Meter) (*HTTPInstrumentation, error) {
	var (
		m   HTTPInstrumentation
		err error
	)
	if m.requests, err = meter.Int64Counter("http_requests_total",
		metric.WithDescription("Handled HTTP requests by route and status"),
		metric.WithUnit("1")); err != nil {
		return nil, fmt.Errorf("http_requests_total: %w", err)
	}
	if m.duration, err = meter.Float64Histogram("http_request_duration_seconds",
		metric.WithDescription("Time to handle an HTTP request"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...)); err != nil {
		return nil, fmt.Errorf("http_request_duration_seconds: %w", err)
	}
	if m.size, err = meter.Int64Histogram("http_response_size_bytes",
		metric.WithDescription("Bytes written in HTTP response bodies"),
		metric.WithUnit("By")); err != nil {
		return nil, fmt.Errorf("http_response_size_bytes: %w", err)
	}
	if m.inFlight, err = meter.Int64UpDownCounter("http_active_requests",
		metric.WithDescription("HTTP requests currently being handled"),
		metric.WithUnit("1")); err != nil {
		return nil, fmt.Errorf("http_active_requests: %w", err)
	}
	return &m, nil
}

// GinMiddleware records one data point per request, labelled by route
// template rather than raw path.
func (m *HTTPInstrumentation) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := attribute.String("method", c.Request.Method)
		routeAttr := attribute.String("route", route)

		m.inFlight.Add(ctx, 1, metric.WithAttributes(method, routeAttr))
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)
		m.inFlight.Add(ctx, -1, metric.WithAttributes(method, routeAttr))

		status := c.Writer.Status()
		attrs := metric.WithAttributes(method, routeAttr,
			attribute.String("status_code", strconv.Itoa(status)),
			attribute.String("status_class", getStatusClass(status)),
		)
		m.requests.Add(ctx, 1, attrs)
		m.duration.Record(ctx, elapsed.Seconds(), attrs)
		if written := c.Writer.Size(); written > 0 {
			m.size.Record(ctx, int64(written), attrs)
		}
	}
}

// getStatusClass maps 204 to "2xx". Codes outside 100-599 are "unknown".
func getStatusClass(statusCode int) string {
	if statusCode < 100 || statusCode > 599 {
		return "unknown"
	}
	return strconv.Itoa(statusCode/100) + "xx"
}
