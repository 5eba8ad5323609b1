// Package types defines the core domain models shared across the job
// result processing pipeline: completions, flow updates, and the
// normalized error shape executors report back through.
package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobID uniquely identifies a job row.
type JobID = uuid.UUID

// WorkspaceID scopes a job to its owning workspace.
type WorkspaceID string

// JobKind distinguishes a script/flow/flow-step job from the rest, since
// only flow-related jobs trigger a flow status update after completion.
type JobKind string

const (
	JobKindScript       JobKind = "script"
	JobKindFlow         JobKind = "flow"
	JobKindFlowPreview  JobKind = "flowpreview"
	JobKindDependencies JobKind = "dependencies"
	JobKindFlowDeps     JobKind = "flowdependencies"
	JobKindIdentity     JobKind = "identity"
	JobKindSingleStep   JobKind = "singlescriptflow"
)

// IsFlowStep reports whether the kind is one of the flow kinds (flow,
// flow preview, single-script flow). Callers combine it with
// MiniPulledJob.HasParent to decide whether a completion goes through the
// flow status updater; neither check looks at flow_step_id.
func (j JobKind) IsFlowStep() bool {
	switch j {
	case JobKindFlow, JobKindFlowPreview, JobKindSingleStep:
		return true
	default:
		return false
	}
}

// CanceledBy records who canceled a job and why, when cancellation (rather
// than natural completion or timeout) produced the result.
type CanceledBy struct {
	Username *string `json:"username,omitempty"`
	Reason   *string `json:"reason,omitempty"`
}

// MiniPulledJob is the minimal read-only view of a queued job a completion
// needs: enough to route and log it, never enough to mutate it in place.
type MiniPulledJob struct {
	ID                   JobID       `json:"id"`
	WorkspaceID          WorkspaceID `json:"workspace_id"`
	ParentJobID          *JobID      `json:"parent_job_id,omitempty"`
	RootJobID            *JobID      `json:"root_job_id,omitempty"`
	FlowInnermostRootJob *JobID      `json:"flow_innermost_root_job,omitempty"`
	FlowStepID           *string     `json:"flow_step_id,omitempty"`
	ScriptPath           *string     `json:"script_path,omitempty"`
	Language             *string     `json:"language,omitempty"`
	Kind                 JobKind     `json:"kind"`
	Tag                  string      `json:"tag"`
	Permissioned         string      `json:"permissioned_as"`
	Token                string      `json:"-"`
	CachedResultPath     *string     `json:"cached_result_path,omitempty"`
	PreprocessedArgs     json.RawMessage `json:"preprocessed_args,omitempty"`
}

// HasParent reports whether the job is nested inside a flow.
func (j *MiniPulledJob) HasParent() bool {
	return j != nil && j.ParentJobID != nil
}

// SerializedError is the canonical, transport-stable error shape every
// executor failure is normalized into before it is persisted or handed to
// the flow status updater.
type SerializedError struct {
	Message  string  `json:"message"`
	Name     string  `json:"name"`
	StepID   *string `json:"step_id,omitempty"`
	ExitCode *int    `json:"exit_code,omitempty"`
}

// Error satisfies the error interface so a SerializedError can be passed
// anywhere ordinary Go errors are expected.
func (e *SerializedError) Error() string {
	return e.Message
}

// WrappedError is the on-the-wire envelope persisted for a failed job: the
// normalized error under a fixed "error" key, matching the shape stored in
// v2_job_completed.result.
type WrappedError struct {
	Error SerializedError `json:"error"`
}

// JobCompletion carries a finished job's outcome through the pipeline: the
// job it belongs to, whether it succeeded, the raw result payload, and the
// bookkeeping the dispatcher needs to route it.
type JobCompletion struct {
	Job              *MiniPulledJob
	Success          bool
	Result           json.RawMessage
	ResultColumns    []string
	MemPeakKb        *int32
	CanceledBy       *CanceledBy
	CachedResultPath *string
	FlowIsSameWorker bool
	DurationMs       *int64
}

// UpdateFlow carries a standalone flow-status nudge that did not originate
// from a freshly completed job (re-entry after a flow status update, or a
// forced re-evaluation).
type UpdateFlow struct {
	FlowJobID   JobID
	WorkspaceID WorkspaceID
	Success     bool
	Result      json.RawMessage
	StopEarly   bool
	SkipError   bool
}

// SendResultPayload is the closed set of things a SendResult can carry,
// the idiomatic substitute for a tagged union.
type SendResultPayload interface {
	isSendResultPayload()
}

func (JobCompletion) isSendResultPayload() {}
func (UpdateFlow) isSendResultPayload()    {}

// SendResult is one message flowing through the multi-source receiver:
// a payload plus the instant it was produced. The dispatcher's latency
// metrics time dispatch from their own clock and do not read Time.
type SendResult struct {
	Payload SendResultPayload
	Time    time.Time
}
