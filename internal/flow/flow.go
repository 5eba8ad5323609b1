// Package flow defines the Flow Status Updater collaborator: the thing a
// completed flow step calls to advance its parent flow's state machine.
// The pipeline treats it as an external interface; this package also
// supplies one concrete implementation so the recursive re-entry path has
// something real to exercise end to end.
package flow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/arcflow/jobresultproc/pkg/types"
)

// Updater advances a flow's state machine after one of its steps
// completes. Implementations may recurse — a flow can itself be a step of
// an outer flow — but must never call themselves directly; recursion is
// bounded by re-entering the completion pipeline instead. The returned
// job id is the root of the flow tree when this update made it terminal,
// and nil otherwise; callers use it to gate root-flow OTLP emission.
type Updater interface {
	UpdateFlowStatusAfterJobCompletion(ctx context.Context, req UpdateRequest) (*types.JobID, error)
}

// UpdateRequest carries what the updater needs: which flow, which step
// completed, and how.
type UpdateRequest struct {
	FlowJobID   types.JobID
	WorkspaceID types.WorkspaceID
	StepJobID   types.JobID // uuid.Nil when the update originates outside a specific step
	Success     bool
	Result      json.RawMessage
	Token       string
}

// Resubmitter is the minimal receiver surface the default implementation
// needs to re-enter the pipeline instead of recursing directly.
type Resubmitter interface {
	SendBounded(ctx context.Context, sr types.SendResult) error
}

// ChannelFlowUpdater is the default Updater: it makes one outbound
// authenticated call to the flow interpreter, then — rather than
// recursing into itself to process whatever that call reports — re-enters
// the pipeline by pushing an UpdateFlow payload onto the bounded source,
// the same channel-mediated indirection the receiver's priority ordering
// is built around.
type ChannelFlowUpdater struct {
	HTTPClient *http.Client
	BaseURL    string
	Resubmit   Resubmitter
}

// NewChannelFlowUpdater constructs a ChannelFlowUpdater with a sane
// default HTTP client timeout.
func NewChannelFlowUpdater(baseURL string, resubmit Resubmitter) *ChannelFlowUpdater {
	return &ChannelFlowUpdater{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		BaseURL:    baseURL,
		Resubmit:   resubmit,
	}
}

type flowStatusBody struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	StepID  types.JobID     `json:"step_id"`
}

// flowStatusResponse is the interpreter's reply: root_job is set only when
// this update made the outermost flow in the tree terminal.
type flowStatusResponse struct {
	RootJob *types.JobID `json:"root_job,omitempty"`
}

// UpdateFlowStatusAfterJobCompletion posts the step outcome to the flow
// interpreter endpoint and, regardless of the call's own outcome,
// re-enters the pipeline with an UpdateFlow nudge so any further state
// transitions are processed as an ordinary completion rather than through
// a growing call stack.
func (u *ChannelFlowUpdater) UpdateFlowStatusAfterJobCompletion(ctx context.Context, req UpdateRequest) (*types.JobID, error) {
	body, err := json.Marshal(flowStatusBody{Success: req.Success, Result: req.Result, StepID: req.StepJobID})
	if err != nil {
		return nil, fmt.Errorf("flow: marshaling status body: %w", err)
	}

	url := fmt.Sprintf("%s/api/w/%s/jobs_u/flow_status/%s", u.BaseURL, req.WorkspaceID, req.FlowJobID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("flow: building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.Token)

	resp, callErr := u.HTTPClient.Do(httpReq)
	var rootJob *types.JobID
	if callErr == nil {
		if resp.StatusCode >= 300 {
			callErr = fmt.Errorf("flow: interpreter returned status %d", resp.StatusCode)
		} else {
			var respBody flowStatusResponse
			if decodeErr := json.NewDecoder(resp.Body).Decode(&respBody); decodeErr == nil {
				rootJob = respBody.RootJob
			}
		}
		resp.Body.Close()
	}

	resubmitErr := u.Resubmit.SendBounded(ctx, types.SendResult{
		Payload: types.UpdateFlow{
			FlowJobID:   req.FlowJobID,
			WorkspaceID: req.WorkspaceID,
			Success:     req.Success,
			Result:      req.Result,
		},
		Time: time.Now(),
	})

	if callErr != nil {
		return nil, fmt.Errorf("flow: notifying interpreter: %w", callErr)
	}
	return rootJob, resubmitErr
}
