package http

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/watershed/internal/http"

// Submission formats, used as the "format" attribute.
const (
	formatGeoJSON = "geojson"
	formatJSON    = "json"
)

// HTTPMetrics records request and batch submission metrics.
type HTTPMetrics struct {
	meter  metric.Meter
	logger *zap.Logger

	requests  metric.Int64Counter
	duration  metric.Float64Histogram
	size      metric.Int64Histogram
	active    metric.Int64UpDownCounter
	submitted metric.Int64Counter
	points    metric.Int64Histogram
}

// NewHTTPMetrics creates the instruments on the global meter provider.
func NewHTTPMetrics(logger *zap.Logger) *HTTPMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &HTTPMetrics{
		meter:  otel.Meter(httpInstrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

// init creates each instrument. A failed instrument stays nil and is skipped
// when recording.
func (m *HTTPMetrics) init() {
	var err error
	warn := func(name string) {
		if err != nil {
			m.logger.Warn("failed to create instrument", zap.String("instrument", name), zap.Error(err))
		}
	}

	m.requests, err = m.meter.Int64Counter("watershed.http.requests_total",
		metric.WithDescription("HTTP requests by method, route and status."),
		metric.WithUnit("{request}"))
	warn("requests_total")

	m.duration, err = m.meter.Float64Histogram("watershed.http.request_duration_seconds",
		metric.WithDescription("HTTP request latency by method, route and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10))
	warn("request_duration_seconds")

	// Merged GeoJSON responses grow with batch size and polygon detail.
	m.size, err = m.meter.Int64Histogram("watershed.http.response_size_bytes",
		metric.WithDescription("HTTP response body size by method, route and status."),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(1e3, 1e4, 1e5, 1e6, 1e7, 5e7))
	warn("response_size_bytes")

	m.active, err = m.meter.Int64UpDownCounter("watershed.http.active_requests",
		metric.WithDescription("HTTP requests in progress."),
		metric.WithUnit("{request}"))
	warn("active_requests")

	m.submitted, err = m.meter.Int64Counter("watershed.http.batches_submitted_total",
		metric.WithDescription("Accepted batch submissions by body format."),
		metric.WithUnit("{batch}"))
	warn("batches_submitted_total")

	m.points, err = m.meter.Int64Histogram("watershed.http.batch_points",
		metric.WithDescription("Points per accepted batch."),
		metric.WithUnit("{point}"),
		metric.WithExplicitBucketBoundaries(1, 10, 50, 100, 500, 1000, 5000))
	warn("batch_points")
}

// MetricsMiddleware returns an Echo middleware that records request metrics
// labelled by route template.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			ctx := c.Request().Context()
			if m.active != nil {
				m.active.Add(ctx, 1)
				defer m.active.Add(ctx, -1)
			}

			err := next(c)

			attrs := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("endpoint", normalizePath(c.Path())),
				attribute.Int("status", c.Response().Status),
			)
			if m.requests != nil {
				m.requests.Add(ctx, 1, attrs)
			}
			if m.duration != nil {
				m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			if m.size != nil {
				m.size.Record(ctx, c.Response().Size, attrs)
			}
			return err
		}
	}
}

// RecordSubmit counts an accepted batch of n points.
func (m *HTTPMetrics) RecordSubmit(ctx context.Context, format string, n int) {
	attrs := metric.WithAttributes(attribute.String("format", format))
	if m.submitted != nil {
		m.submitted.Add(ctx, 1, attrs)
	}
	if m.points != nil {
		m.points.Record(ctx, int64(n), attrs)
	}
}

// normalizePath returns the route template for metric labels. Echo reports
// registered routes as templates (/api/v1/batches/:id), so only unmatched
// requests need mapping.
func normalizePath(path string) string {
	if path == "" {
		return "/"
	}
	return path
}
