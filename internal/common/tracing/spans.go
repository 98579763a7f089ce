package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	schedulerTracer = "kanrun-scheduler"
	resolverTracer  = "kanrun-resolver"
)

// Span attribute keys shared across components.
const (
	AttrScheduleID = attribute.Key("kanrun.schedule_id")
	AttrTaskID     = attribute.Key("kanrun.task_id")
	AttrProjectID  = attribute.Key("kanrun.project_id")
	AttrExecutor   = attribute.Key("kanrun.executor")
	AttrVariant    = attribute.Key("kanrun.variant")
	AttrDueCount   = attribute.Key("kanrun.due_count")
)

// StartPoll starts a span covering one scheduler poll cycle.
func StartPoll(ctx context.Context) (context.Context, trace.Span) {
	return Tracer(schedulerTracer).Start(ctx, "scheduler.poll")
}

// StartFire starts a span covering claim and invocation of one scheduled execution.
func StartFire(ctx context.Context, scheduleID, taskID, executor string) (context.Context, trace.Span) {
	return Tracer(schedulerTracer).Start(ctx, "scheduler.fire",
		trace.WithAttributes(
			AttrScheduleID.String(scheduleID),
			AttrTaskID.String(taskID),
			AttrExecutor.String(executor),
		),
	)
}

// StartResolve starts a span covering one configuration resolution.
func StartResolve(ctx context.Context) (context.Context, trace.Span) {
	return Tracer(resolverTracer).Start(ctx, "resolver.resolve")
}

// RecordError marks the span as failed. A nil error is ignored.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
