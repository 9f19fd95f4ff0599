// Package tracing records boot phases as OpenTelemetry spans.
package tracing

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mkock/bootseq/v3"
)

// InstrumentationName is the name used for OTEL instrumentation.
const InstrumentationName = "github.com/mkock/bootseq/v3/tracing"

// Observer is a bootseq.Observer starting a span for each phase. Spans of initializers are children of the span of
// their directory phase.
type Observer struct {
	tracer trace.Tracer
}

// New returns an Observer using a tracer from tp. If tp is nil, uses the global tracer provider.
func New(tp trace.TracerProvider) *Observer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Observer{tracer: tp.Tracer(InstrumentationName)}
}

// SpanAttributes returns the span attributes for a phase.
func SpanAttributes(info bootseq.PhaseInfo) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("bootseq.run_id", info.RunID),
		attribute.String("bootseq.phase", info.Name),
		attribute.Int("bootseq.index", info.Index),
		attribute.String("bootseq.kind", info.Kind.String()),
		attribute.Int("bootseq.depth", info.Depth),
	}
}

// PhaseStarted implements bootseq.Observer.
func (o *Observer) PhaseStarted(ctx context.Context, info bootseq.PhaseInfo) context.Context {
	ctx, _ = o.tracer.Start(ctx, "bootseq.phase "+info.Name, trace.WithAttributes(SpanAttributes(info)...))
	return ctx
}

// PhaseFinished implements bootseq.Observer.
func (o *Observer) PhaseFinished(ctx context.Context, _ bootseq.PhaseInfo, err error, _ time.Duration) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// Verify interface compliance.
var _ bootseq.Observer = (*Observer)(nil)
