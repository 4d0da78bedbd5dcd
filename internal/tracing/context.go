package tracing

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type contextKey int

const (
	traceIDKey contextKey = iota
	requestIDKey
	callerIDKey
	threadIDKey
)

// TraceContext is the request metadata carried through a dispatch.
type TraceContext struct {
	TraceID   string
	RequestID string
	CallerID  string
	ThreadID  string
}

// NewTraceID generates a new trace ID.
func NewTraceID() string {
	return uuid.New().String()
}

// NewRequestID generates a new request ID.
func NewRequestID() string {
	return uuid.New().String()
}

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// WithCallerID records the caller for log enrichment. Log it masked.
func WithCallerID(ctx context.Context, callerID string) context.Context {
	return context.WithValue(ctx, callerIDKey, callerID)
}

func WithThreadID(ctx context.Context, threadID string) context.Context {
	return context.WithValue(ctx, threadIDKey, threadID)
}

func value(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}

func GetTraceID(ctx context.Context) string   { return value(ctx, traceIDKey) }
func GetRequestID(ctx context.Context) string { return value(ctx, requestIDKey) }
func GetCallerID(ctx context.Context) string  { return value(ctx, callerIDKey) }
func GetThreadID(ctx context.Context) string  { return value(ctx, threadIDKey) }

// FromContext extracts all tracing information from ctx.
func FromContext(ctx context.Context) TraceContext {
	return TraceContext{
		TraceID:   GetTraceID(ctx),
		RequestID: GetRequestID(ctx),
		CallerID:  GetCallerID(ctx),
		ThreadID:  GetThreadID(ctx),
	}
}

// NewContext stores the non-empty fields of tc in ctx.
func NewContext(ctx context.Context, tc TraceContext) context.Context {
	if tc.TraceID != "" {
		ctx = WithTraceID(ctx, tc.TraceID)
	}
	if tc.RequestID != "" {
		ctx = WithRequestID(ctx, tc.RequestID)
	}
	if tc.CallerID != "" {
		ctx = WithCallerID(ctx, tc.CallerID)
	}
	if tc.ThreadID != "" {
		ctx = WithThreadID(ctx, tc.ThreadID)
	}
	return ctx
}

// NewRequestContext starts a request with a fresh trace ID, keeping
// requestID when given.
func NewRequestContext(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		requestID = NewRequestID()
	}
	ctx = WithTraceID(ctx, NewTraceID())
	return WithRequestID(ctx, requestID)
}

// LoggerFromContext adds trace, request and thread ids to baseLogger.
// The caller id is left out; callers log it masked themselves.
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)
	lc := baseLogger.With()
	if tc.TraceID != "" {
		lc = lc.Str("trace_id", tc.TraceID)
	}
	if tc.RequestID != "" {
		lc = lc.Str("request_id", tc.RequestID)
	}
	if tc.ThreadID != "" {
		lc = lc.Str("thread_id", tc.ThreadID)
	}
	return lc.Logger()
}
