package logger

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type contextKey string

const traceIDKey contextKey = "trace_id"

// NewTraceID returns a fresh request trace id.
func NewTraceID() string { return uuid.NewString() }

// WithTraceID stores the trace id on the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		return ctx
	}
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID returns the trace id stored on the context, if any.
func TraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(traceIDKey).(string)
	return id
}

// FromContext returns an entry tagged with the request's trace id.
func (l *Logger) FromContext(ctx context.Context) *logrus.Entry {
	entry := l.Entry.WithContext(ctx)
	if id := TraceID(ctx); id != "" {
		entry = entry.WithField("trace_id", id)
	}
	return entry
}
