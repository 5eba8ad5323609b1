// Package dispatcher implements the completion dispatcher: per-completion
// processing (success and failure paths), the job-error handler, and the
// reaction flags that tell the drain controller whether this completion
// should trigger a worker shutdown.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/arcflow/jobresultproc/internal/cache"
	"github.com/arcflow/jobresultproc/internal/flow"
	"github.com/arcflow/jobresultproc/internal/metrics"
	"github.com/arcflow/jobresultproc/internal/sameworker"
	"github.com/arcflow/jobresultproc/internal/telemetry"
	"github.com/arcflow/jobresultproc/pkg/types"
	"github.com/google/uuid"
)

// Store is the persistence surface the dispatcher needs out of the job
// store, kept as an interface so tests can substitute a fake.
type Store interface {
	AddCompletedJob(ctx context.Context, jc types.JobCompletion) error
	AddCompletedJobError(ctx context.Context, job *types.MiniPulledJob, result json.RawMessage) error
	DiscardPreprocessorArgs(ctx context.Context, jobID types.JobID) error
	SetPreprocessedArgs(ctx context.Context, jobID types.JobID, args json.RawMessage) error
	TouchWorkerGroupConfig(ctx context.Context, workerGroup string) error
	GetQueuedJob(ctx context.Context, jobID types.JobID) (*types.MiniPulledJob, error)
	AppendLogs(ctx context.Context, jobID types.JobID, workspaceID types.WorkspaceID, logs string) error
}

// Config bounds the dispatcher's policy decisions: which tag marks an
// init script, and whether this process is a dedicated worker (so a
// dependency job completion should force a config rebalance).
type Config struct {
	InitScriptTag    string
	IsDedicatedGroup bool
	WorkerGroup      string
	CacheTTL         time.Duration
	FlowUpdateWarnAfter time.Duration
}

// Dispatcher wires persistence, cache, the flow updater, telemetry, and
// metrics together to process one completion at a time.
type Dispatcher struct {
	store      Store
	cache      cache.Writer
	flow       flow.Updater
	telemetry  telemetry.Shim
	sameWorker *sameworker.Queue
	metrics    *metrics.Collector
	cfg        Config
	log        *slog.Logger
}

// New constructs a Dispatcher.
func New(store Store, cacheWriter cache.Writer, flowUpdater flow.Updater, shim telemetry.Shim, sw *sameworker.Queue, mcs *metrics.Collector, cfg Config, log *slog.Logger) *Dispatcher {
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 24 * time.Hour
	}
	if cfg.FlowUpdateWarnAfter == 0 {
		cfg.FlowUpdateWarnAfter = 10 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{store: store, cache: cacheWriter, flow: flowUpdater, telemetry: shim, sameWorker: sw, metrics: mcs, cfg: cfg, log: log}
}

// Reaction tells the caller (the processor's drain controller) how this
// completion should affect process lifecycle.
type Reaction struct {
	// ShouldKill requests that the kill-pill be sent.
	ShouldKill bool
	// BreakLoop requests the completion loop stop processing further
	// items immediately rather than continue draining. Set only for an
	// init-script failure, matching the original's `break` after sending
	// the kill-pill.
	BreakLoop bool
}

// Dispatch processes one item off the receiver: a fresh job completion or
// a standalone flow update.
func (d *Dispatcher) Dispatch(ctx context.Context, sr types.SendResult) (Reaction, error) {
	switch payload := sr.Payload.(type) {
	case types.JobCompletion:
		return d.dispatchCompletion(ctx, payload)
	case types.UpdateFlow:
		return Reaction{}, d.dispatchFlowUpdate(ctx, payload)
	default:
		return Reaction{}, fmt.Errorf("dispatcher: unknown payload type %T", payload)
	}
}

func (d *Dispatcher) dispatchCompletion(ctx context.Context, jc types.JobCompletion) (Reaction, error) {
	isInitScriptFailure := !jc.Success && d.cfg.InitScriptTag != "" && jc.Job.Tag == d.cfg.InitScriptTag
	isDependencyJob := jc.Job.Kind == types.JobKindDependencies || jc.Job.Kind == types.JobKindFlowDeps

	start := time.Now()
	spanCtx, span := d.telemetry.StartCompletionSpan(ctx, jc)

	rootJob, err := d.processOneCompletion(spanCtx, jc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if handleErr := d.HandleJobError(spanCtx, jc.Job, serializedFromErr(err), false); handleErr != nil {
			d.log.Error("job-error handler itself failed", "job_id", jc.Job.ID, "error", handleErr)
		}
	} else {
		span.SetStatus(codes.Ok, "done")
	}
	span.End()

	if rootJob != nil {
		d.telemetry.EmitRootFlow(ctx, *rootJob, jc.Success && err == nil)
	}

	d.metrics.RecordCompletion(jc.Success && err == nil, time.Since(start).Seconds())

	reaction := Reaction{}
	switch {
	case isInitScriptFailure:
		reaction.ShouldKill = true
		reaction.BreakLoop = true
	case isDependencyJob && d.cfg.IsDedicatedGroup:
		if touchErr := d.store.TouchWorkerGroupConfig(ctx, d.cfg.WorkerGroup); touchErr != nil {
			d.log.Error("failed to touch worker group config", "group", d.cfg.WorkerGroup, "error", touchErr)
		}
		reaction.ShouldKill = true
	}

	return reaction, err
}

func (d *Dispatcher) dispatchFlowUpdate(ctx context.Context, uf types.UpdateFlow) error {
	d.metrics.RecordFlowUpdate()
	_, err := d.flow.UpdateFlowStatusAfterJobCompletion(ctx, flow.UpdateRequest{
		FlowJobID:   uf.FlowJobID,
		WorkspaceID: uf.WorkspaceID,
		StepJobID:   uuid.Nil,
		Success:     uf.Success,
		Result:      uf.Result,
	})
	return err
}

// processOneCompletion implements the success and failure paths of
// §4.3: cache write ordering, preprocessor args handling, the completed
// job row, and the flow status update for a step with a parent. It
// returns the root job handle the flow updater reported, if any, so the
// caller can gate root-flow OTLP emission on it.
func (d *Dispatcher) processOneCompletion(ctx context.Context, jc types.JobCompletion) (*types.JobID, error) {
	job := jc.Job

	if jc.Success {
		if jc.CachedResultPath != nil {
			if err := d.cache.SaveInCache(ctx, *jc.CachedResultPath, jc.Result, d.cfg.CacheTTL); err != nil {
				return nil, fmt.Errorf("dispatcher: saving result to cache: %w", err)
			}
		}

		if job.FlowStepID != nil && *job.FlowStepID == "preprocessor" {
			if err := d.store.DiscardPreprocessorArgs(ctx, job.ID); err != nil {
				return nil, fmt.Errorf("dispatcher: discarding preprocessor args: %w", err)
			}
		} else if len(job.PreprocessedArgs) > 0 {
			if err := d.store.SetPreprocessedArgs(ctx, job.ID, job.PreprocessedArgs); err != nil {
				return nil, fmt.Errorf("dispatcher: setting preprocessed args: %w", err)
			}
		}

		if err := d.store.AddCompletedJob(ctx, jc); err != nil {
			return nil, fmt.Errorf("dispatcher: writing completed job: %w", err)
		}

		if job.HasParent() && job.Kind.IsFlowStep() {
			return d.updateFlowWithWarning(ctx, job, true, jc.Result)
		}
		return nil, nil
	}

	if err := d.store.AddCompletedJobError(ctx, job, jc.Result); err != nil {
		return nil, fmt.Errorf("dispatcher: writing completed job error: %w", err)
	}

	if job.HasParent() && job.Kind.IsFlowStep() {
		return d.updateFlowWithWarning(ctx, job, false, jc.Result)
	}
	return nil, nil
}

// flowUpdateResult bundles the flow updater's two return values so they
// can travel through a single channel.
type flowUpdateResult struct {
	rootJob *types.JobID
	err     error
}

// updateFlowWithWarning calls the flow updater and logs (but does not
// fail on) a call that takes longer than the configured warn threshold —
// the Go analogue of `.warn_after_seconds(10)`.
func (d *Dispatcher) updateFlowWithWarning(ctx context.Context, job *types.MiniPulledJob, success bool, result json.RawMessage) (*types.JobID, error) {
	done := make(chan flowUpdateResult, 1)
	go func() {
		rootJob, err := d.flow.UpdateFlowStatusAfterJobCompletion(ctx, flow.UpdateRequest{
			FlowJobID:   *job.ParentJobID,
			WorkspaceID: job.WorkspaceID,
			StepJobID:   job.ID,
			Success:     success,
			Result:      result,
			Token:       job.Token,
		})
		done <- flowUpdateResult{rootJob: rootJob, err: err}
	}()

	timer := time.NewTimer(d.cfg.FlowUpdateWarnAfter)
	defer timer.Stop()

	select {
	case r := <-done:
		d.metrics.RecordFlowUpdate()
		return r.rootJob, r.err
	case <-timer.C:
		d.log.Warn("flow status update is taking longer than expected", "job_id", job.ID, "parent_job_id", job.ParentJobID)
		r := <-done
		d.metrics.RecordFlowUpdate()
		return r.rootJob, r.err
	}
}

func serializedFromErr(err error) types.SerializedError {
	if se, ok := err.(*types.SerializedError); ok {
		return *se
	}
	return types.SerializedError{Message: err.Error(), Name: "InternalErr"}
}
