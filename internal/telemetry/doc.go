// Package telemetry provides OpenTelemetry tracing and metrics for the
// watershed binaries.
//
// Spans and metrics are exported over OTLP, either gRPC (default) or
// http/protobuf. Pipeline stages start their spans from the global tracer
// provider, which New installs when telemetry is enabled:
//
//	tel, err := telemetry.New(ctx, telemetry.FromConfig(cfg.Observability, version))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//
// Telemetry failures do not stop a batch. If an exporter cannot be created
// the instance is marked degraded and falls back to no-op providers.
//
// Tests use NewTestTelemetry, which records spans and metrics in memory.
package telemetry
