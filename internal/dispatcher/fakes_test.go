package dispatcher

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/arcflow/jobresultproc/internal/flow"
	"github.com/arcflow/jobresultproc/internal/metrics"
	"github.com/arcflow/jobresultproc/internal/telemetry"
	"github.com/arcflow/jobresultproc/pkg/types"
)

type fakeStore struct {
	mu              sync.Mutex
	completed       []types.JobCompletion
	completedErrors []json.RawMessage
	preprocessDisc  []types.JobID
	preprocessSet   map[types.JobID]json.RawMessage
	touchedGroups   []string
	logs            []string
	queuedJobs      map[types.JobID]*types.MiniPulledJob

	addCompletedJobErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		preprocessSet: make(map[types.JobID]json.RawMessage),
		queuedJobs:    make(map[types.JobID]*types.MiniPulledJob),
	}
}

func (f *fakeStore) AddCompletedJob(ctx context.Context, jc types.JobCompletion) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addCompletedJobErr != nil {
		return f.addCompletedJobErr
	}
	f.completed = append(f.completed, jc)
	return nil
}

func (f *fakeStore) AddCompletedJobError(ctx context.Context, job *types.MiniPulledJob, result json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completedErrors = append(f.completedErrors, result)
	return nil
}

func (f *fakeStore) DiscardPreprocessorArgs(ctx context.Context, jobID types.JobID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.preprocessDisc = append(f.preprocessDisc, jobID)
	return nil
}

func (f *fakeStore) SetPreprocessedArgs(ctx context.Context, jobID types.JobID, args json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.preprocessSet[jobID] = args
	return nil
}

func (f *fakeStore) TouchWorkerGroupConfig(ctx context.Context, workerGroup string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touchedGroups = append(f.touchedGroups, workerGroup)
	return nil
}

func (f *fakeStore) GetQueuedJob(ctx context.Context, jobID types.JobID) (*types.MiniPulledJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.queuedJobs[jobID]
	if !ok {
		return nil, assert.AnError
	}
	return j, nil
}

func (f *fakeStore) AppendLogs(ctx context.Context, jobID types.JobID, workspaceID types.WorkspaceID, logs string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, logs)
	return nil
}

type fakeCache struct {
	mu    sync.Mutex
	saved map[string][]byte
}

func newFakeCache() *fakeCache { return &fakeCache{saved: make(map[string][]byte)} }

func (f *fakeCache) SaveInCache(ctx context.Context, path string, result []byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved[path] = result
	return nil
}

type nopCacheWriter struct{}

func (nopCacheWriter) SaveInCache(ctx context.Context, path string, result []byte, ttl time.Duration) error {
	return nil
}

type fakeFlowUpdater struct {
	mu      sync.Mutex
	calls   []flow.UpdateRequest
	err     error
	rootJob *types.JobID
}

func (f *fakeFlowUpdater) UpdateFlowStatusAfterJobCompletion(ctx context.Context, req flow.UpdateRequest) (*types.JobID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	return f.rootJob, f.err
}

type rootFlowEmission struct {
	rootJobID types.JobID
	success   bool
}

// recordingShim is a telemetry.Shim that records EmitRootFlow calls
// without opening real spans, so tests can assert on root-flow gating.
type recordingShim struct {
	emitted []rootFlowEmission
}

func (s *recordingShim) StartCompletionSpan(ctx context.Context, jc types.JobCompletion) (context.Context, telemetry.Span) {
	return ctx, nopTelemetrySpan{}
}

func (s *recordingShim) EmitRootFlow(ctx context.Context, rootJobID types.JobID, success bool) {
	s.emitted = append(s.emitted, rootFlowEmission{rootJobID: rootJobID, success: success})
}

type nopTelemetrySpan struct{}

func (nopTelemetrySpan) RecordError(err error)                         {}
func (nopTelemetrySpan) SetStatus(code codes.Code, description string) {}
func (nopTelemetrySpan) SetAttributes(attrs ...attribute.KeyValue)     {}
func (nopTelemetrySpan) End()                                          {}

func newCollector(t *testing.T) *metrics.Collector {
	t.Helper()
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	return metrics.NewCollector()
}
