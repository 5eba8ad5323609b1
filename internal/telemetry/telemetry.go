// Package telemetry implements the per-completion tracing span and the
// OTLP root-flow emitter. Both are exposed behind interfaces so a no-op
// stub can stand in when tracing is disabled, without branching on a
// feature flag at every call site.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/arcflow/jobresultproc/pkg/types"
)

// Shim is what the dispatcher needs from telemetry: start a span around
// one completion's processing, and emit a root-flow event once a flow's
// root job is known.
type Shim interface {
	StartCompletionSpan(ctx context.Context, jc types.JobCompletion) (context.Context, Span)
	EmitRootFlow(ctx context.Context, rootJobID types.JobID, success bool)
}

// Span is the narrow slice of trace.Span this package's callers use,
// letting the stub implementation avoid depending on a real tracer.
type Span interface {
	RecordError(err error)
	SetStatus(code codes.Code, description string)
	SetAttributes(attrs ...attribute.KeyValue)
	End()
}

// OtelShim is the real implementation, backed by an OpenTelemetry tracer.
type OtelShim struct {
	tracer trace.Tracer
}

// NewOtelShim wraps the given tracer.
func NewOtelShim(tracer trace.Tracer) *OtelShim {
	return &OtelShim{tracer: tracer}
}

// StartCompletionSpan opens a span named after the completion's step,
// following the `job_postprocessing {step_id}` / `job postprocessing`
// naming split: a named step gets its id in the span name, a bare job
// does not.
func (s *OtelShim) StartCompletionSpan(ctx context.Context, jc types.JobCompletion) (context.Context, Span) {
	name := "job postprocessing"
	attrs := []attribute.KeyValue{
		attribute.String("job.id", jc.Job.ID.String()),
		attribute.String("workspace.id", string(jc.Job.WorkspaceID)),
		attribute.Bool("success", jc.Success),
	}

	if jc.Job.FlowStepID != nil {
		name = "job_postprocessing " + *jc.Job.FlowStepID
		attrs = append(attrs, attribute.String("flow_step_id", *jc.Job.FlowStepID))
	}
	if jc.Job.ScriptPath != nil {
		attrs = append(attrs, attribute.String("script_path", *jc.Job.ScriptPath))
	}
	if jc.Job.Language != nil {
		attrs = append(attrs, attribute.String("language", *jc.Job.Language))
	}
	if jc.Job.ParentJobID != nil {
		attrs = append(attrs, attribute.String("parent_job", jc.Job.ParentJobID.String()))
	}
	if jc.Job.RootJobID != nil {
		attrs = append(attrs, attribute.String("root_job", jc.Job.RootJobID.String()))
	}

	ctx, span := s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, span
}

// EmitRootFlow records a zero-duration span marking a flow's terminal
// outcome at its root job, for dashboards keyed purely on root job id.
func (s *OtelShim) EmitRootFlow(ctx context.Context, rootJobID types.JobID, success bool) {
	_, span := s.tracer.Start(ctx, "flow.root",
		trace.WithAttributes(
			attribute.String("job.id", rootJobID.String()),
			attribute.Bool("success", success),
		),
	)
	if success {
		span.SetStatus(codes.Ok, "done")
	} else {
		span.SetStatus(codes.Error, "flow failed")
	}
	span.End()
}

// NoopShim discards everything; used when tracing is disabled.
type NoopShim struct{}

func (NoopShim) StartCompletionSpan(ctx context.Context, jc types.JobCompletion) (context.Context, Span) {
	return ctx, noopSpan{}
}

func (NoopShim) EmitRootFlow(ctx context.Context, rootJobID types.JobID, success bool) {}

type noopSpan struct{}

func (noopSpan) RecordError(err error)                         {}
func (noopSpan) SetStatus(code codes.Code, description string) {}
func (noopSpan) SetAttributes(attrs ...attribute.KeyValue)      {}
func (noopSpan) End()                                           {}
