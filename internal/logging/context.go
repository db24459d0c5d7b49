package logging

import (
	"context"
	"regexp"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const maxIDLen = 128

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9._:-]+$`)

type (
	requestCtxKey  struct{}
	queryCtxKey    struct{}
	documentCtxKey struct{}
	loggerCtxKey   struct{}
)

// ContextFields extracts correlation data from context: trace and span IDs,
// request ID, query ID and document ID.
func ContextFields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	fields := make([]zap.Field, 0, 6)

	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request.id", id))
	}
	if id := QueryIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("query.id", id))
	}
	if id := DocumentIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("document.id", id))
	}
	return fields
}

// validID keeps log correlation values short and printable. Invalid IDs
// are dropped rather than logged.
func validID(id string) bool {
	return id != "" && len(id) <= maxIDLen && idPattern.MatchString(id)
}

func withID(ctx context.Context, key any, id string) context.Context {
	if !validID(id) {
		return ctx
	}
	return context.WithValue(ctx, key, id)
}

func idFrom(ctx context.Context, key any) string {
	if s, ok := ctx.Value(key).(string); ok {
		return s
	}
	return ""
}

// WithRequestID adds an HTTP request ID to ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return withID(ctx, requestCtxKey{}, id)
}

// RequestIDFromContext returns the request ID or "".
func RequestIDFromContext(ctx context.Context) string { return idFrom(ctx, requestCtxKey{}) }

// WithQueryID adds a retrieval query ID to ctx.
func WithQueryID(ctx context.Context, id string) context.Context {
	return withID(ctx, queryCtxKey{}, id)
}

// QueryIDFromContext returns the query ID or "".
func QueryIDFromContext(ctx context.Context) string { return idFrom(ctx, queryCtxKey{}) }

// WithDocumentID adds the document being ingested to ctx.
func WithDocumentID(ctx context.Context, id string) context.Context {
	return withID(ctx, documentCtxKey{}, id)
}

// DocumentIDFromContext returns the document ID or "".
func DocumentIDFromContext(ctx context.Context) string { return idFrom(ctx, documentCtxKey{}) }

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}

// Ctx returns l with the correlation fields from ctx attached, for
// components that hold a plain *zap.Logger.
func Ctx(ctx context.Context, l *zap.Logger) *zap.Logger {
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return l
	}
	return l.With(fields...)
}
