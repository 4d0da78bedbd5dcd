package tracing

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNewIDs(t *testing.T) {
	a, b := NewTraceID(), NewTraceID()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, NewRequestID(), NewRequestID())
}

func TestContextRoundTrip(t *testing.T) {
	tc := TraceContext{TraceID: "t", RequestID: "r", CallerID: "c", ThreadID: "th"}
	ctx := NewContext(context.Background(), tc)
	assert.Equal(t, tc, FromContext(ctx))
}

func TestNewContextPartial(t *testing.T) {
	ctx := WithTraceID(context.Background(), "keep")
	ctx = NewContext(ctx, TraceContext{RequestID: "r"})

	assert.Equal(t, "keep", GetTraceID(ctx))
	assert.Equal(t, "r", GetRequestID(ctx))
	assert.Empty(t, GetThreadID(ctx))
}

func TestGettersOnEmptyContext(t *testing.T) {
	assert.Empty(t, GetTraceID(context.Background()))
	assert.Empty(t, GetRequestID(context.Background()))
}

func TestNewRequestContext(t *testing.T) {
	ctx := NewRequestContext(context.Background(), "req-1")
	assert.Equal(t, "req-1", GetRequestID(ctx))
	assert.NotEmpty(t, GetTraceID(ctx))

	ctx = NewRequestContext(context.Background(), "")
	assert.NotEmpty(t, GetRequestID(ctx))
}

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := NewContext(context.Background(), TraceContext{TraceID: "t1", RequestID: "r1", CallerID: "secret-caller"})
	logger := LoggerFromContext(ctx, base)
	logger.Info().Msg("hello")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "t1", line["trace_id"])
	assert.Equal(t, "r1", line["request_id"])
	assert.NotContains(t, line, "thread_id")
	assert.NotContains(t, buf.String(), "secret-caller")
}

func TestStartSpan(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	ctx, span := StartSpan(context.Background(), "test", "op")
	span.End()

	assert.Equal(t, span.SpanContext().TraceID().String(), GetTraceID(ctx))
	require.Len(t, sr.Ended(), 1)
	assert.Equal(t, "op", sr.Ended()[0].Name())

	ctx = WithTraceID(context.Background(), "preset")
	ctx, span = StartSpan(ctx, "test", "op2")
	span.End()
	assert.Equal(t, "preset", GetTraceID(ctx))
}
