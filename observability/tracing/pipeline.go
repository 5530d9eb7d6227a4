package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/GoCodeAlone/actionpipe/pipeline"
)

// Span attribute keys.
const (
	AttrAction      = attribute.Key("actionpipe.action")
	AttrDispatchID  = attribute.Key("actionpipe.dispatch.id")
	AttrScope       = attribute.Key("actionpipe.scope")
	AttrStatus      = attribute.Key("actionpipe.dispatch.status")
	AttrAbortReason = attribute.Key("actionpipe.dispatch.abort_reason")
	AttrResults     = attribute.Key("actionpipe.dispatch.results")
	AttrHandlerID   = attribute.Key("actionpipe.handler.id")
	AttrBlocking    = attribute.Key("actionpipe.handler.blocking")
	AttrOutcome     = attribute.Key("actionpipe.handler.outcome")
)

var _ pipeline.Observer = (*PipelineTracer)(nil)

// PipelineTracer is a pipeline.Observer that opens a span per dispatch and a
// child span per handler. The spans travel in the contexts the engine hands
// back to the End callbacks, so the tracer keeps no state of its own.
type PipelineTracer struct {
	tracer trace.Tracer
}

// NewPipelineTracer creates a PipelineTracer. If tracer is nil, the global
// tracer provider is used.
func NewPipelineTracer(tracer trace.Tracer) *PipelineTracer {
	if tracer == nil {
		tracer = otel.GetTracerProvider().Tracer("actionpipe.pipeline")
	}
	return &PipelineTracer{tracer: tracer}
}

func (p *PipelineTracer) DispatchStart(ctx context.Context, dispatchID, actionName, scopeID string) context.Context {
	ctx, _ = p.tracer.Start(ctx, "dispatch "+actionName,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			AttrAction.String(actionName),
			AttrDispatchID.String(dispatchID),
			AttrScope.String(scopeID),
		),
	)
	return ctx
}

func (p *PipelineTracer) DispatchEnd(ctx context.Context, res *pipeline.DispatchResult) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		AttrStatus.String(string(res.Status)),
		AttrResults.Int(len(res.Results)),
	)
	switch res.Status {
	case pipeline.StatusFailed:
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
	case pipeline.StatusAborted:
		span.SetAttributes(AttrAbortReason.String(res.AbortReason))
		span.SetStatus(codes.Ok, "")
	default:
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func (p *PipelineTracer) HandlerStart(ctx context.Context, dispatchID, actionName, handlerID string) context.Context {
	ctx, _ = p.tracer.Start(ctx, "handler "+handlerID,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			AttrAction.String(actionName),
			AttrDispatchID.String(dispatchID),
			AttrHandlerID.String(handlerID),
		),
	)
	return ctx
}

func (p *PipelineTracer) HandlerEnd(ctx context.Context, ev pipeline.HandlerEvent) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		AttrBlocking.Bool(ev.Blocking),
		AttrOutcome.String(string(ev.Outcome)),
	)
	if ev.Err != nil {
		span.RecordError(ev.Err)
		span.SetStatus(codes.Error, ev.Err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
