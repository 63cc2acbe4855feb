// Package logging provides the structured logger used by the watershed
// binaries.
//
// Logger wraps Zap with context-aware methods. Every entry automatically
// carries, when present in the context:
//   - trace_id and span_id of the active OpenTelemetry span
//   - batch.id set with WithBatch
//   - point.id set with WithPoint
//   - request.id set by the HTTP API
//
// Usage:
//
//	logger, err := logging.NewLogger(cfg, otelProvider)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithBatch(ctx, batchID)
//	ctx = logging.WithPoint(ctx, "stn-08MF005")
//	logger.Info(ctx, "watershed resolved", zap.Float64("area_ha", area))
//
// Library packages take a plain *zap.Logger (see Underlying). Secrets such
// as the PostGIS DSN or service API keys are redacted by the encoder, and
// levels below Error are sampled.
package logging
