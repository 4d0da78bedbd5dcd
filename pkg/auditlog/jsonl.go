// Package auditlog provides sinks for tool invocation records: a zerolog
// JSON-lines writer, an append-only SQLite table, and an asynchronous
// fan-out wrapper that keeps slow sinks off the dispatch path.
package auditlog

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/harun/toolgate/pkg/toolregistry"
)

// JSONLSink writes one JSON object per record.
type JSONLSink struct {
	mu     sync.Mutex
	logger zerolog.Logger
	file   *os.File
}

// NewJSONLSink writes records to w.
func NewJSONLSink(w io.Writer) *JSONLSink {
	return &JSONLSink{logger: zerolog.New(w)}
}

// OpenJSONL appends records to the file at path, creating it if needed.
func OpenJSONL(path string) (*JSONLSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}
	return &JSONLSink{logger: zerolog.New(file), file: file}, nil
}

// Record writes rec and, when ctx carries a recording span, attaches it as
// a span event.
func (s *JSONLSink) Record(ctx context.Context, rec toolregistry.InvocationRecord) error {
	var traceID string
	span := trace.SpanFromContext(ctx)
	if sc := span.SpanContext(); sc.IsValid() {
		traceID = sc.TraceID().String()
		span.AddEvent("tool.invocation", trace.WithAttributes(
			attribute.String("invocation.id", rec.InvocationID),
			attribute.String("tool.name", rec.ToolName),
			attribute.String("tool.outcome", rec.Outcome),
			attribute.Int("call.depth", rec.Depth),
		))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.logger.Log().
		Time("timestamp", rec.Timestamp).
		Str("invocation_id", rec.InvocationID).
		Str("tool", rec.ToolName).
		Str("version", rec.Version).
		Str("caller", rec.MaskedCallerID).
		Str("args", rec.ArgsSummary).
		Str("outcome", rec.Outcome).
		Str("request_id", rec.RequestID).
		Int("depth", rec.Depth)

	if rec.LatencyMs != nil {
		entry.Int64("latency_ms", *rec.LatencyMs)
	}
	if rec.ErrorMessage != "" {
		entry.Str("error", rec.ErrorMessage)
	}
	if rec.ThreadID != "" {
		entry.Str("thread_id", rec.ThreadID)
	}
	if traceID != "" {
		entry.Str("trace_id", traceID)
	}

	entry.Msg("")
	return nil
}

// Close closes the file opened by OpenJSONL.
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}
