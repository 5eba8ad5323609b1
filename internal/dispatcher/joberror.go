package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/arcflow/jobresultproc/internal/flow"
	"github.com/arcflow/jobresultproc/pkg/types"
)

// HandleJobError routes a job-level failure that happened while processing
// a completion itself (the dispatcher calls it when writing the completion,
// its cache entry, or its flow update fails). A flow or flow-step job
// routes through the flow updater,
// with a last-resort direct write to the parent if that call also fails;
// anything else is written as a terminal completed-job-error directly.
func (d *Dispatcher) HandleJobError(ctx context.Context, job *types.MiniPulledJob, serr types.SerializedError, unrecoverable bool) error {
	d.metrics.RecordJobError()

	wrapped := types.WrappedError{Error: serr}
	raw, err := json.Marshal(wrapped)
	if err != nil {
		return fmt.Errorf("dispatcher: marshaling wrapped error: %w", err)
	}

	if job.Kind == types.JobKindFlow || job.Kind.IsFlowStep() {
		return d.handleFlowJobError(ctx, job, raw)
	}

	return d.handleNonFlowJobError(ctx, job, serr, raw)
}

func (d *Dispatcher) handleFlowJobError(ctx context.Context, job *types.MiniPulledJob, wrapped json.RawMessage) error {
	flowJobID := job.ID
	stepJobID := types.JobID(uuid.Nil)
	if job.HasParent() {
		flowJobID = *job.ParentJobID
		stepJobID = job.ID

		// Best-effort: record the step's own completed-job-error row before
		// handing off to the flow updater, so the step's ledger entry isn't
		// lost even if the flow-status call itself fails.
		if err := d.store.AddCompletedJobError(ctx, job, wrapped); err != nil {
			d.log.Error("failed to write step completed-job-error before flow update", "job_id", job.ID, "error", err)
		}
	}

	_, updateErr := d.flow.UpdateFlowStatusAfterJobCompletion(ctx, flow.UpdateRequest{
		FlowJobID:   flowJobID,
		WorkspaceID: job.WorkspaceID,
		StepJobID:   stepJobID,
		Success:     false,
		Result:      wrapped,
		Token:       job.Token,
	})
	if updateErr == nil || !job.HasParent() {
		return updateErr
	}

	// Second-chance path: the flow updater call itself failed. Fall back
	// to a direct write against the parent job so the failure is never
	// silently lost.
	parent, getErr := d.store.GetQueuedJob(ctx, *job.ParentJobID)
	if getErr != nil {
		return fmt.Errorf("dispatcher: flow update failed (%v) and parent lookup also failed: %w", updateErr, getErr)
	}

	_ = d.store.AppendLogs(ctx, parent.ID, parent.WorkspaceID, "Unexpected error during flow job error handling: "+updateErr.Error())

	lastResort, marshalErr := json.Marshal(map[string]string{"message": updateErr.Error(), "name": "InternalErr"})
	if marshalErr != nil {
		return fmt.Errorf("dispatcher: marshaling last-resort error: %w", marshalErr)
	}
	if addErr := d.store.AddCompletedJobError(ctx, parent, lastResort); addErr != nil {
		return fmt.Errorf("dispatcher: last-resort completed-job-error write failed: %w", addErr)
	}

	return updateErr
}

func (d *Dispatcher) handleNonFlowJobError(ctx context.Context, job *types.MiniPulledJob, serr types.SerializedError, wrapped json.RawMessage) error {
	if err := d.store.AppendLogs(ctx, job.ID, job.WorkspaceID, serr.Message); err != nil {
		return fmt.Errorf("dispatcher: appending logs: %w", err)
	}
	if err := d.store.AddCompletedJobError(ctx, job, wrapped); err != nil {
		return fmt.Errorf("dispatcher: writing completed job error: %w", err)
	}
	return nil
}
