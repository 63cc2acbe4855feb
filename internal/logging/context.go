package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type batchCtxKey struct{}
type pointCtxKey struct{}
type requestCtxKey struct{}
type loggerCtxKey struct{}

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 5)

	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if id := BatchFromContext(ctx); id != "" {
		fields = append(fields, zap.String("batch.id", id))
	}
	if id := PointFromContext(ctx); id != "" {
		fields = append(fields, zap.String("point.id", id))
	}
	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request.id", id))
	}
	return fields
}

// WithBatch tags ctx with a batch id.
func WithBatch(ctx context.Context, batchID string) context.Context {
	return context.WithValue(ctx, batchCtxKey{}, batchID)
}

// BatchFromContext returns the batch id set by WithBatch.
func BatchFromContext(ctx context.Context) string {
	id, _ := ctx.Value(batchCtxKey{}).(string)
	return id
}

// WithPoint tags ctx with a point id.
func WithPoint(ctx context.Context, pointID string) context.Context {
	return context.WithValue(ctx, pointCtxKey{}, pointID)
}

// PointFromContext returns the point id set by WithPoint.
func PointFromContext(ctx context.Context) string {
	id, _ := ctx.Value(pointCtxKey{}).(string)
	return id
}

// WithRequestID tags ctx with an HTTP request id.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

// RequestIDFromContext returns the request id set by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestCtxKey{}).(string)
	return id
}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context.
// Returns a nop logger if not found.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return Wrap(zap.NewNop())
}
