package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// TestTelemetry records spans and metrics in memory. Call Install to make it
// the global provider that the pipeline stages trace through.
type TestTelemetry struct {
	*Telemetry

	recorder *tracetest.SpanRecorder
	reader   *sdkmetric.ManualReader
}

// NewTestTelemetry creates enabled telemetry backed by in-memory recorders.
func NewTestTelemetry() *TestTelemetry {
	cfg := NewDefaultConfig()
	cfg.Enabled = true

	recorder := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()

	return &TestTelemetry{
		Telemetry: &Telemetry{
			config:         cfg,
			tracerProvider: trace.NewTracerProvider(trace.WithSpanProcessor(recorder)),
			meterProvider:  sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
		},
		recorder: recorder,
		reader:   reader,
	}
}

// Install sets the test providers as the otel globals and restores the
// previous ones when tb finishes.
func (t *TestTelemetry) Install(tb testing.TB) {
	tb.Helper()
	prevTP := otel.GetTracerProvider()
	prevMP := otel.GetMeterProvider()
	otel.SetTracerProvider(t.tracerProvider)
	otel.SetMeterProvider(t.meterProvider)
	tb.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetMeterProvider(prevMP)
	})
}

// Spans returns the ended spans named name, or every ended span when name is
// empty.
func (t *TestTelemetry) Spans(name string) []trace.ReadOnlySpan {
	var out []trace.ReadOnlySpan
	for _, s := range t.recorder.Ended() {
		if name == "" || s.Name() == name {
			out = append(out, s)
		}
	}
	return out
}

// PointSpan returns the span named name that carries point.id = pointID.
func (t *TestTelemetry) PointSpan(name, pointID string) trace.ReadOnlySpan {
	for _, s := range t.Spans(name) {
		if v, ok := Attr(s, "point.id"); ok && v == pointID {
			return s
		}
	}
	return nil
}

// AssertSpan verifies a span named name was recorded and, when attrs is
// non-empty, that the first such span carries each attribute.
func (t *TestTelemetry) AssertSpan(tb testing.TB, name string, attrs map[string]any) {
	tb.Helper()
	spans := t.Spans(name)
	if len(spans) == 0 {
		tb.Errorf("expected span %q not found, got: %v", name, t.names())
		return
	}
	for key, want := range attrs {
		got, ok := Attr(spans[0], key)
		if !ok {
			tb.Errorf("span %q missing attribute %q", name, key)
			continue
		}
		if got != want {
			tb.Errorf("span %q attribute %q: got %v, want %v", name, key, got, want)
		}
	}
}

// Attr returns the value of attribute key on s.
func Attr(s trace.ReadOnlySpan, key string) (any, bool) {
	for _, kv := range s.Attributes() {
		if string(kv.Key) == key {
			return attrValue(kv.Value), true
		}
	}
	return nil, false
}

func (t *TestTelemetry) names() []string {
	spans := t.Spans("")
	names := make([]string, len(spans))
	for i, s := range spans {
		names[i] = s.Name()
	}
	return names
}

func attrValue(v attribute.Value) any {
	switch v.Type() {
	case attribute.STRING:
		return v.AsString()
	case attribute.INT64:
		return v.AsInt64()
	case attribute.FLOAT64:
		return v.AsFloat64()
	case attribute.BOOL:
		return v.AsBool()
	default:
		return v.AsInterface()
	}
}

// Int64Sum collects metrics and returns the total of the int64 counter name
// across all attribute sets.
func (t *TestTelemetry) Int64Sum(ctx context.Context, name string) (int64, error) {
	var rm metricdata.ResourceMetrics
	if err := t.reader.Collect(ctx, &rm); err != nil {
		return 0, err
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total, nil
}
