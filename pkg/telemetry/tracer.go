package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Action categories attached to every span of that stage.
const (
	Building  = "building"
	Selection = "target_selection"
	Fuzzing   = "fuzzing"
)

type SpanAttributes struct {
	attrs []attribute.KeyValue
}

func EmptySpanAttributes() *SpanAttributes {
	return &SpanAttributes{}
}

func NewSpanAttributes(action string) *SpanAttributes {
	return &SpanAttributes{
		attrs: []attribute.KeyValue{attribute.String("ci.action.name", action)},
	}
}

func (s *SpanAttributes) WithTarget(name string) *SpanAttributes {
	s.attrs = append(s.attrs, attribute.String("fuzz.target", name))
	return s
}

func (s *SpanAttributes) WithExtraAttribute(key string, value any) *SpanAttributes {
	switch v := value.(type) {
	case string:
		s.attrs = append(s.attrs, attribute.String(key, v))
	case bool:
		s.attrs = append(s.attrs, attribute.Bool(key, v))
	case int:
		s.attrs = append(s.attrs, attribute.Int(key, v))
	case int64:
		s.attrs = append(s.attrs, attribute.Int64(key, v))
	case float64:
		s.attrs = append(s.attrs, attribute.Float64(key, v))
	default:
		s.attrs = append(s.attrs, attribute.String(key, fmt.Sprint(v)))
	}
	return s
}

type EventAttributes map[string]string

func NewEventAttributes(m map[string]string) EventAttributes {
	return EventAttributes(m)
}

type telemetryTracer struct {
	ctx      context.Context
	tracer   trace.Tracer
	spanName string
	span     trace.Span
}

func NewTelemetryTracer(ctx context.Context, tracer trace.Tracer, spanName string) Tracer {
	return &telemetryTracer{ctx: ctx, tracer: tracer, spanName: spanName}
}

func (t *telemetryTracer) Start() {
	t.ctx, t.span = t.tracer.Start(t.ctx, t.spanName)
}

func (t *telemetryTracer) WithAttributes(attributes *SpanAttributes) Tracer {
	if t.span != nil && attributes != nil {
		t.span.SetAttributes(attributes.attrs...)
	}
	return t
}

func (t *telemetryTracer) AddEvent(name string, attributes EventAttributes) {
	if t.span == nil {
		return
	}
	kvs := make([]attribute.KeyValue, 0, len(attributes))
	for k, v := range attributes {
		kvs = append(kvs, attribute.String(k, v))
	}
	t.span.AddEvent(name, trace.WithAttributes(kvs...))
}

func (t *telemetryTracer) SetStatus(code codes.Code, message string) {
	if t.span != nil {
		t.span.SetStatus(code, message)
	}
}

// Spawn returns a child tracer whose span, once started, is parented to this one.
func (t *telemetryTracer) Spawn(spanName string) Tracer {
	return &telemetryTracer{ctx: t.ctx, tracer: t.tracer, spanName: spanName}
}

func (t *telemetryTracer) End() {
	if t.span != nil {
		t.span.End()
	}
}
