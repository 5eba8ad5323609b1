// Package submitter packages a raw executor outcome into a types.SendResult
// and hands it to the multi-source receiver. It is the boundary between
// "an executor finished running something" and the rest of the completion
// pipeline.
package submitter

import (
	"context"
	"encoding/json"
	"time"

	"github.com/arcflow/jobresultproc/internal/errnorm"
	"github.com/arcflow/jobresultproc/pkg/types"
)

// Sink is the subset of the receiver a submitter needs: somewhere to push
// a freshly produced completion.
type Sink interface {
	SendUnbounded(ctx context.Context, sr types.SendResult) error
}

// Outcome is what an executor reports back for one job: either a result
// payload on success, or an ExecutorError on failure.
type Outcome struct {
	Job    *types.MiniPulledJob
	Result json.RawMessage
	Err    *errnorm.ExecutorError

	MemPeakKb        *int32
	CanceledBy       *types.CanceledBy
	CachedResultPath *string
	ResultColumns    []string
	Duration         *time.Duration
}

// Submitter turns executor outcomes into completions and enqueues them.
type Submitter struct {
	sink LogNormalizer
}

// LogNormalizer bundles the receiver sink with the log reader the error
// normalizer needs to build a SerializedError out of a bare exit status.
type LogNormalizer struct {
	Sink Sink
	Logs errnorm.LogReader
}

// New constructs a Submitter.
func New(ln LogNormalizer) *Submitter {
	return &Submitter{sink: ln}
}

// ProcessResult normalizes an executor outcome and submits it as a
// completion. This is the one entrypoint every executor outcome — success
// or failure — flows through before it reaches the dispatcher.
func (s *Submitter) ProcessResult(ctx context.Context, out Outcome) error {
	var stepID *string
	if out.Job != nil {
		stepID = out.Job.FlowStepID
	}

	jc := types.JobCompletion{
		Job:              out.Job,
		MemPeakKb:        out.MemPeakKb,
		CanceledBy:       out.CanceledBy,
		CachedResultPath: out.CachedResultPath,
	}
	if out.Duration != nil {
		ms := out.Duration.Milliseconds()
		jc.DurationMs = &ms
	}

	if out.Err == nil {
		jc.Success = true
		jc.Result = out.Result
		jc.ResultColumns = out.ResultColumns
	} else {
		res := errnorm.Normalize(*out.Err, s.sink.Logs, jobDir(out.Job), jobIDString(out.Job), workspaceIDString(out.Job), stepID)
		jc.Success = false
		if res.Raw != nil {
			// The executor already wrote a result artifact; use it verbatim
			// rather than re-embedding it in a constructed error message.
			jc.Result = res.Raw
		} else {
			raw, err := json.Marshal(types.WrappedError{Error: *res.Err})
			if err != nil {
				return err
			}
			jc.Result = raw
		}
	}

	return s.sink.Sink.SendUnbounded(ctx, types.SendResult{Payload: jc, Time: time.Now()})
}

func jobDir(j *types.MiniPulledJob) string {
	if j == nil {
		return ""
	}
	return "/tmp/jobresultproc/" + j.ID.String()
}

func jobIDString(j *types.MiniPulledJob) string {
	if j == nil {
		return ""
	}
	return j.ID.String()
}

func workspaceIDString(j *types.MiniPulledJob) string {
	if j == nil {
		return ""
	}
	return string(j.WorkspaceID)
}
