package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys.
const (
	AttrProcessID    = "process.id"
	AttrProcessLabel = "process.label"
	AttrCommandLine  = "process.command_line"
	AttrWorkDir      = "process.working_directory"
	AttrExitCode     = "process.exit_code"
	AttrProcessState = "process.state"
	AttrPID          = "process.pid"

	AttrContextName  = "context.name"
	AttrAllowFailure = "context.allow_failure"
	AttrTimeout      = "context.timeout"

	AttrTaskID   = "task.id"
	AttrTaskName = "task.name"

	AttrWaitKind    = "wait.kind"
	AttrWaitTarget  = "wait.target"
	AttrWaitOutcome = "wait.outcome"
	AttrWaitPolls   = "wait.polls"

	AttrErrorType = "error.type"
)

// Span names.
const (
	SpanProcessRun = "process.run"
	SpanPrefixWait = "waitfor."
)

// Span event names.
const (
	EventProcessStarted = "process.started"
	EventProcessExited  = "process.exited"
	EventWaitPoll       = "wait.poll"
)

// Fail marks span as failed with err. errType is recorded as error.type.
func Fail(span trace.Span, err error, errType string) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if errType != "" {
		span.SetAttributes(attribute.String(AttrErrorType, errType))
	}
}

// TraceIDFromContext returns the hex trace ID of the active span, or "".
func TraceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
