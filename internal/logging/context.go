// internal/logging/context.go
package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Quote carries intake correlation for one processed input.
type Quote struct {
	Ref     string
	Channel string
	Source  string // filename or message id, whichever identifies the input
}

type (
	quoteCtxKey   struct{}
	requestCtxKey struct{}
	loggerCtxKey  struct{}
)

// ContextFields extracts correlation fields from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	if q := QuoteFromContext(ctx); q != nil {
		if q.Ref != "" {
			fields = append(fields, zap.String("quote.ref", q.Ref))
		}
		if q.Channel != "" {
			fields = append(fields, zap.String("quote.channel", q.Channel))
		}
		if q.Source != "" {
			fields = append(fields, zap.String("quote.source", q.Source))
		}
	}

	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request.id", id))
	}

	return fields
}

// WithQuote attaches intake correlation to ctx. A nil quote is ignored.
func WithQuote(ctx context.Context, q *Quote) context.Context {
	if q == nil {
		return ctx
	}
	return context.WithValue(ctx, quoteCtxKey{}, q)
}

// QuoteFromContext returns the intake correlation, or nil.
func QuoteFromContext(ctx context.Context) *Quote {
	if q, ok := ctx.Value(quoteCtxKey{}).(*Quote); ok {
		return q
	}
	return nil
}

// WithRequestID attaches an HTTP request ID to ctx. Empty IDs are ignored.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestCtxKey{}, id)
}

// RequestIDFromContext returns the request ID, or "".
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestCtxKey{}).(string); ok {
		return id
	}
	return ""
}

// WithLogger stores a logger in ctx.
func WithLogger(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, l)
}

// FromContext returns the logger stored in ctx, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok && l != nil {
		return l
	}
	return NewNop()
}
