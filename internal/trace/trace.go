// Package trace carries W3C-style trace and span ids through capture ticks,
// OCR jobs and API requests so their log lines can be correlated.
package trace

import (
	"context"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Header and metadata keys used for propagation.
const (
	TraceIDKey      = "x-trace-id"
	SpanIDKey       = "x-span-id"
	ParentSpanIDKey = "x-parent-span-id"
)

type ctxKey struct{}

var traceCtxKey = ctxKey{}

// Context holds trace identifiers for a single span.
type Context struct {
	TraceID      string
	SpanID       string
	ParentSpanID string
}

// New creates a new trace context with fresh IDs.
func New() Context {
	return Context{
		TraceID: generateTraceID(),
		SpanID:  generateSpanID(),
	}
}

// NewChild creates a child context from parent.
func NewChild(parent Context) Context {
	return Context{
		TraceID:      parent.TraceID,
		SpanID:       generateSpanID(),
		ParentSpanID: parent.SpanID,
	}
}

// FromContext extracts trace context from context.Context.
func FromContext(ctx context.Context) (Context, bool) {
	tc, ok := ctx.Value(traceCtxKey).(Context)
	return tc, ok
}

// WithContext injects trace context into context.Context.
func WithContext(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, traceCtxKey, tc)
}

// EnsureContext returns existing trace context or creates a new one.
func EnsureContext(ctx context.Context) (context.Context, Context) {
	if tc, ok := FromContext(ctx); ok {
		return ctx, tc
	}
	tc := New()
	return WithContext(ctx, tc), tc
}

// generateTraceID returns 128 random bits, hex encoded.
func generateTraceID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// generateSpanID returns 64 random bits, hex encoded.
func generateSpanID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:8])
}

// ToMap exports context as string map for gRPC metadata.
func (c Context) ToMap() map[string]string {
	m := map[string]string{
		TraceIDKey: c.TraceID,
		SpanIDKey:  c.SpanID,
	}
	if c.ParentSpanID != "" {
		m[ParentSpanIDKey] = c.ParentSpanID
	}
	return m
}

// FromMap continues a trace received from a caller. The caller's span becomes
// the parent of a fresh span.
func FromMap(m map[string]string) Context {
	tc := Context{
		TraceID:      m[TraceIDKey],
		SpanID:       generateSpanID(),
		ParentSpanID: m[SpanIDKey],
	}
	if tc.TraceID == "" {
		tc.TraceID = generateTraceID()
	}
	return tc
}

// Span represents a timed operation within a trace.
type Span struct {
	Name      string
	Ctx       Context
	StartTime time.Time
	EndTime   time.Time

	mu    sync.Mutex
	attrs map[string]any
}

// StartSpan begins a new span, continuing the trace in ctx if there is one.
func StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	tc := New()
	if parent, ok := FromContext(ctx); ok && parent.TraceID != "" {
		tc = NewChild(parent)
	}

	s := &Span{
		Name:      name,
		Ctx:       tc,
		StartTime: time.Now(),
		attrs:     make(map[string]any),
	}
	return WithContext(ctx, tc), s
}

// End marks the span complete and emits it at debug level.
func (s *Span) End() {
	s.EndTime = time.Now()
	slog.Debug("span ended", "span", s)
}

// SetAttr sets a span attribute.
func (s *Span) SetAttr(key string, val any) {
	s.mu.Lock()
	s.attrs[key] = val
	s.mu.Unlock()
}

// Attr returns a span attribute.
func (s *Span) Attr(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.attrs[key]
	return v, ok
}

// Duration returns span duration.
func (s *Span) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}

// LogValue implements slog.LogValuer.
func (s *Span) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("name", s.Name),
		slog.String("trace_id", s.Ctx.TraceID),
		slog.String("span_id", s.Ctx.SpanID),
		slog.Duration("duration", s.Duration()),
	}
	if s.Ctx.ParentSpanID != "" {
		attrs = append(attrs, slog.String("parent_span_id", s.Ctx.ParentSpanID))
	}
	s.mu.Lock()
	for k, v := range s.attrs {
		attrs = append(attrs, slog.Any(k, v))
	}
	s.mu.Unlock()
	return slog.GroupValue(attrs...)
}

// Logger returns the default logger stamped with the trace in ctx.
func Logger(ctx context.Context) *slog.Logger {
	tc, ok := FromContext(ctx)
	if !ok {
		return slog.Default()
	}
	args := make([]any, 0, 6)
	args = append(args, "trace_id", tc.TraceID, "span_id", tc.SpanID)
	if tc.ParentSpanID != "" {
		args = append(args, "parent_span_id", tc.ParentSpanID)
	}
	return slog.Default().With(args...)
}
