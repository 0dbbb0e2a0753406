package observer

import (
	"context"
	"fmt"
	"time"

	"github.com/nevindra/tideline"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// otelTracer adapts an OTEL tracer to tideline.Tracer.
type otelTracer struct {
	inner trace.Tracer
}

// NewTracer returns a tideline.Tracer backed by the global TracerProvider.
// Without Init, spans go to the no-op provider.
func NewTracer() tideline.Tracer {
	return &otelTracer{inner: otel.Tracer(scopeName)}
}

func (t *otelTracer) Start(ctx context.Context, name string, attrs ...tideline.SpanAttr) (context.Context, tideline.Span) {
	ctx, span := t.inner.Start(ctx, name, trace.WithAttributes(toOTELAttrs(attrs)...))
	return ctx, &otelSpan{inner: span}
}

type otelSpan struct {
	inner trace.Span
}

func (s *otelSpan) SetAttr(attrs ...tideline.SpanAttr) {
	s.inner.SetAttributes(toOTELAttrs(attrs)...)
}

func (s *otelSpan) Event(name string, attrs ...tideline.SpanAttr) {
	s.inner.AddEvent(name, trace.WithAttributes(toOTELAttrs(attrs)...))
}

func (s *otelSpan) Error(err error) {
	s.inner.RecordError(err)
	s.inner.SetStatus(codes.Error, err.Error())
}

func (s *otelSpan) End() {
	s.inner.End()
}

func toOTELAttrs(attrs []tideline.SpanAttr) []attribute.KeyValue {
	out := make([]attribute.KeyValue, len(attrs))
	for i, a := range attrs {
		out[i] = toOTELAttr(a)
	}
	return out
}

// toOTELAttr namespaces the key under "tideline.". Durations are recorded
// in milliseconds with a "_ms" suffix.
func toOTELAttr(a tideline.SpanAttr) attribute.KeyValue {
	key := attribute.Key(sessionPrefix + a.Key)
	switch v := a.Value.(type) {
	case string:
		return key.String(v)
	case int:
		return key.Int(v)
	case int64:
		return key.Int64(v)
	case float64:
		return key.Float64(v)
	case time.Duration:
		return attribute.Int64(string(key)+"_ms", v.Milliseconds())
	case bool:
		return key.Bool(v)
	default:
		return key.String(fmt.Sprint(v))
	}
}

// compile-time checks
var (
	_ tideline.Tracer = (*otelTracer)(nil)
	_ tideline.Span   = (*otelSpan)(nil)
)
