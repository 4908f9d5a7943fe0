// Package logging provides structured logging with OpenTelemetry integration.
//
// The package wraps zap with:
//   - a Trace level (-2, below Debug)
//   - stdout and OpenTelemetry outputs, teed
//   - correlation fields pulled from context (trace_id, quote.ref, request.id)
//   - secret redaction on the stdout encoder
//   - level-aware sampling where errors are never sampled
//
// Usage:
//
//	logger, err := logging.NewLogger(logging.NewDefaultConfig(), nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithQuote(ctx, &logging.Quote{Ref: ref, Channel: "email"})
//	logger.Info(ctx, "quote processed", zap.Float64("quality", q))
package logging
