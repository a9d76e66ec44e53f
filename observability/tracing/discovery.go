package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DiscoveryTracer creates the spans of a refresh cycle: one per cycle, one
// per account below it and one per scanned stack below that.
type DiscoveryTracer struct {
	tracer trace.Tracer
}

// NewDiscoveryTracer creates a DiscoveryTracer. A nil tracer uses the
// global provider.
func NewDiscoveryTracer(tracer trace.Tracer) *DiscoveryTracer {
	if tracer == nil {
		tracer = otel.GetTracerProvider().Tracer("stack-discovery")
	}
	return &DiscoveryTracer{tracer: tracer}
}

// StartCycle begins the root span of a cycle.
func (d *DiscoveryTracer) StartCycle(ctx context.Context, cycleID string) (context.Context, trace.Span) {
	return d.tracer.Start(ctx, "discovery.cycle",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("discovery.cycle.id", cycleID)),
	)
}

// StartAccount begins the span for one account.
func (d *DiscoveryTracer) StartAccount(ctx context.Context, accountID, roleARN string) (context.Context, trace.Span) {
	return d.tracer.Start(ctx, "discovery.account",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("aws.account.id", accountID),
			attribute.String("aws.iam.role_arn", roleARN),
		),
	)
}

// StartStack begins the span for one stack.
func (d *DiscoveryTracer) StartStack(ctx context.Context, region, stackName string) (context.Context, trace.Span) {
	return d.tracer.Start(ctx, "discovery.stack",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("aws.region", region),
			attribute.String("aws.cloudformation.stack", stackName),
		),
	)
}

// End finishes span, marking it failed when err is non-nil.
func (d *DiscoveryTracer) End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
