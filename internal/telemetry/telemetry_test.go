package telemetry

import (
	"context"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcflow/jobresultproc/pkg/types"
)

func TestOtelShim_StartCompletionSpan_NamesStepWhenPresent(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background())

	shim := NewOtelShim(tp.Tracer("test"))
	step := "b"
	jc := types.JobCompletion{
		Job: &types.MiniPulledJob{
			ID:         uuid.New(),
			FlowStepID: &step,
		},
		Success: true,
	}

	_, span := shim.StartCompletionSpan(context.Background(), jc)
	require.NotNil(t, span)
	span.End()

	ro, ok := span.(sdktrace.ReadOnlySpan)
	require.True(t, ok)
	assert.Equal(t, "job_postprocessing b", ro.Name())
}

func TestNoopShim_DoesNothing(t *testing.T) {
	shim := NoopShim{}
	ctx, span := shim.StartCompletionSpan(context.Background(), types.JobCompletion{Job: &types.MiniPulledJob{ID: uuid.New()}})
	assert.NotNil(t, ctx)
	span.RecordError(nil)
	span.End()
	shim.EmitRootFlow(ctx, uuid.New(), true)
}
