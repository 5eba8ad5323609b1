package dispatcher

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcflow/jobresultproc/internal/sameworker"
	"github.com/arcflow/jobresultproc/internal/telemetry"
	"github.com/arcflow/jobresultproc/pkg/types"
)

func TestDispatch_SuccessWritesCompletedJob(t *testing.T) {
	store := newFakeStore()
	flowUpd := &fakeFlowUpdater{}
	d := New(store, nopCacheWriter{}, flowUpd, telemetry.NoopShim{}, sameworker.New(), newCollector(t), Config{}, nil)

	job := &types.MiniPulledJob{ID: uuid.New(), Kind: types.JobKindScript}
	jc := types.JobCompletion{Job: job, Success: true, Result: []byte(`{"v":1}`)}

	reaction, err := d.Dispatch(context.Background(), types.SendResult{Payload: jc})
	require.NoError(t, err)
	assert.False(t, reaction.ShouldKill)
	require.Len(t, store.completed, 1)
	assert.Empty(t, flowUpd.calls)
}

func TestDispatch_SuccessWritesResultToCacheAndCompletedJob(t *testing.T) {
	store := newFakeStore()
	fc := newFakeCache()
	d := New(store, fc, &fakeFlowUpdater{}, telemetry.NoopShim{}, sameworker.New(), newCollector(t), Config{}, nil)

	path := "ws/results/abc.json"
	job := &types.MiniPulledJob{ID: uuid.New(), CachedResultPath: &path, Kind: types.JobKindScript}
	jc := types.JobCompletion{Job: job, Success: true, Result: []byte(`{"v":2}`), CachedResultPath: &path}

	_, err := d.Dispatch(context.Background(), types.SendResult{Payload: jc})
	require.NoError(t, err)
	require.Contains(t, fc.saved, path)
	require.Len(t, store.completed, 1)
}

func TestDispatch_SuccessFlowStepCallsFlowUpdater(t *testing.T) {
	store := newFakeStore()
	flowUpd := &fakeFlowUpdater{}
	d := New(store, nopCacheWriter{}, flowUpd, telemetry.NoopShim{}, sameworker.New(), newCollector(t), Config{}, nil)

	parent := uuid.New()
	job := &types.MiniPulledJob{ID: uuid.New(), ParentJobID: &parent, Kind: types.JobKindFlow}
	jc := types.JobCompletion{Job: job, Success: true, Result: []byte(`{"v":1}`)}

	_, err := d.Dispatch(context.Background(), types.SendResult{Payload: jc})
	require.NoError(t, err)
	require.Len(t, flowUpd.calls, 1)
	assert.Equal(t, parent, flowUpd.calls[0].FlowJobID)
	assert.True(t, flowUpd.calls[0].Success)
}

func TestDispatch_PreprocessorStepDiscardsArgs(t *testing.T) {
	store := newFakeStore()
	d := New(store, nopCacheWriter{}, &fakeFlowUpdater{}, telemetry.NoopShim{}, sameworker.New(), newCollector(t), Config{}, nil)

	step := "preprocessor"
	job := &types.MiniPulledJob{ID: uuid.New(), FlowStepID: &step, Kind: types.JobKindScript}
	jc := types.JobCompletion{Job: job, Success: true, Result: []byte(`{}`)}

	_, err := d.Dispatch(context.Background(), types.SendResult{Payload: jc})
	require.NoError(t, err)
	require.Len(t, store.preprocessDisc, 1)
	assert.Equal(t, job.ID, store.preprocessDisc[0])
}

func TestDispatch_PreprocessedArgsAreSetWhenPresent(t *testing.T) {
	store := newFakeStore()
	d := New(store, nopCacheWriter{}, &fakeFlowUpdater{}, telemetry.NoopShim{}, sameworker.New(), newCollector(t), Config{}, nil)

	job := &types.MiniPulledJob{ID: uuid.New(), Kind: types.JobKindScript, PreprocessedArgs: []byte(`{"a":1}`)}
	jc := types.JobCompletion{Job: job, Success: true, Result: []byte(`{}`)}

	_, err := d.Dispatch(context.Background(), types.SendResult{Payload: jc})
	require.NoError(t, err)
	require.Contains(t, store.preprocessSet, job.ID)
	assert.Empty(t, store.preprocessDisc)
}

func TestDispatch_FailureWritesCompletedJobError(t *testing.T) {
	store := newFakeStore()
	d := New(store, nopCacheWriter{}, &fakeFlowUpdater{}, telemetry.NoopShim{}, sameworker.New(), newCollector(t), Config{}, nil)

	job := &types.MiniPulledJob{ID: uuid.New(), WorkspaceID: "ws", Kind: types.JobKindScript}
	jc := types.JobCompletion{Job: job, Success: false, Result: []byte(`{"error":{"message":"boom","name":"ExecutionErr"}}`)}

	_, err := d.Dispatch(context.Background(), types.SendResult{Payload: jc})
	require.NoError(t, err)
	require.Len(t, store.completedErrors, 1)
}

func TestDispatch_InitScriptFailureRequestsKillAndBreak(t *testing.T) {
	store := newFakeStore()
	d := New(store, nopCacheWriter{}, &fakeFlowUpdater{}, telemetry.NoopShim{}, sameworker.New(), newCollector(t), Config{InitScriptTag: "init-script"}, nil)

	job := &types.MiniPulledJob{ID: uuid.New(), Tag: "init-script", Kind: types.JobKindScript}
	jc := types.JobCompletion{Job: job, Success: false, Result: []byte(`{}`)}

	reaction, err := d.Dispatch(context.Background(), types.SendResult{Payload: jc})
	require.NoError(t, err)
	assert.True(t, reaction.ShouldKill)
	assert.True(t, reaction.BreakLoop)
}

func TestDispatch_NonInitScriptFailureDoesNotKill(t *testing.T) {
	store := newFakeStore()
	d := New(store, nopCacheWriter{}, &fakeFlowUpdater{}, telemetry.NoopShim{}, sameworker.New(), newCollector(t), Config{InitScriptTag: "init-script"}, nil)

	job := &types.MiniPulledJob{ID: uuid.New(), Tag: "other", Kind: types.JobKindScript}
	jc := types.JobCompletion{Job: job, Success: false, Result: []byte(`{}`)}

	reaction, err := d.Dispatch(context.Background(), types.SendResult{Payload: jc})
	require.NoError(t, err)
	assert.False(t, reaction.ShouldKill)
	assert.False(t, reaction.BreakLoop)
}

func TestDispatch_DependencyJobOnDedicatedWorkerTouchesConfig(t *testing.T) {
	store := newFakeStore()
	d := New(store, nopCacheWriter{}, &fakeFlowUpdater{}, telemetry.NoopShim{}, sameworker.New(), newCollector(t), Config{IsDedicatedGroup: true, WorkerGroup: "grp"}, nil)

	job := &types.MiniPulledJob{ID: uuid.New(), Kind: types.JobKindDependencies}
	jc := types.JobCompletion{Job: job, Success: true, Result: []byte(`{}`)}

	reaction, err := d.Dispatch(context.Background(), types.SendResult{Payload: jc})
	require.NoError(t, err)
	assert.True(t, reaction.ShouldKill)
	assert.False(t, reaction.BreakLoop)
	require.Len(t, store.touchedGroups, 1)
	assert.Equal(t, "grp", store.touchedGroups[0])
}

func TestDispatch_DependencyJobOnSharedWorkerDoesNotTouchConfig(t *testing.T) {
	store := newFakeStore()
	d := New(store, nopCacheWriter{}, &fakeFlowUpdater{}, telemetry.NoopShim{}, sameworker.New(), newCollector(t), Config{IsDedicatedGroup: false}, nil)

	job := &types.MiniPulledJob{ID: uuid.New(), Kind: types.JobKindFlowDeps}
	jc := types.JobCompletion{Job: job, Success: true, Result: []byte(`{}`)}

	reaction, err := d.Dispatch(context.Background(), types.SendResult{Payload: jc})
	require.NoError(t, err)
	assert.False(t, reaction.ShouldKill)
	assert.Empty(t, store.touchedGroups)
}

func TestDispatch_EmitsRootFlowOnlyWhenFlowUpdaterReturnsRootJob(t *testing.T) {
	root := uuid.New()
	store := newFakeStore()
	flowUpd := &fakeFlowUpdater{rootJob: &root}
	shim := &recordingShim{}
	d := New(store, nopCacheWriter{}, flowUpd, shim, sameworker.New(), newCollector(t), Config{}, nil)

	parent := uuid.New()
	// RootJobID is set on the job itself, but gating must not key off it:
	// only a non-nil return from the flow updater should trigger emission.
	job := &types.MiniPulledJob{ID: uuid.New(), ParentJobID: &parent, RootJobID: &parent, Kind: types.JobKindFlow}
	jc := types.JobCompletion{Job: job, Success: true, Result: []byte(`{"v":1}`)}

	_, err := d.Dispatch(context.Background(), types.SendResult{Payload: jc})
	require.NoError(t, err)
	require.Len(t, shim.emitted, 1)
	assert.Equal(t, root, shim.emitted[0].rootJobID)
	assert.True(t, shim.emitted[0].success)
}

func TestDispatch_DoesNotEmitRootFlowWhenFlowUpdaterReturnsNil(t *testing.T) {
	store := newFakeStore()
	flowUpd := &fakeFlowUpdater{}
	shim := &recordingShim{}
	d := New(store, nopCacheWriter{}, flowUpd, shim, sameworker.New(), newCollector(t), Config{}, nil)

	parent := uuid.New()
	root := uuid.New()
	job := &types.MiniPulledJob{ID: uuid.New(), ParentJobID: &parent, RootJobID: &root, Kind: types.JobKindFlow}
	jc := types.JobCompletion{Job: job, Success: true, Result: []byte(`{"v":1}`)}

	_, err := d.Dispatch(context.Background(), types.SendResult{Payload: jc})
	require.NoError(t, err)
	assert.Empty(t, shim.emitted)
}

func TestDispatch_DoesNotEmitRootFlowForNonFlowCompletion(t *testing.T) {
	store := newFakeStore()
	shim := &recordingShim{}
	d := New(store, nopCacheWriter{}, &fakeFlowUpdater{}, shim, sameworker.New(), newCollector(t), Config{}, nil)

	root := uuid.New()
	job := &types.MiniPulledJob{ID: uuid.New(), RootJobID: &root, Kind: types.JobKindScript}
	jc := types.JobCompletion{Job: job, Success: true, Result: []byte(`{}`)}

	_, err := d.Dispatch(context.Background(), types.SendResult{Payload: jc})
	require.NoError(t, err)
	assert.Empty(t, shim.emitted)
}

func TestDispatch_StandaloneFlowUpdateGoesStraightToUpdater(t *testing.T) {
	store := newFakeStore()
	flowUpd := &fakeFlowUpdater{}
	d := New(store, nopCacheWriter{}, flowUpd, telemetry.NoopShim{}, sameworker.New(), newCollector(t), Config{}, nil)

	uf := types.UpdateFlow{FlowJobID: uuid.New(), WorkspaceID: "ws", Success: true, Result: []byte(`{}`)}
	reaction, err := d.Dispatch(context.Background(), types.SendResult{Payload: uf})
	require.NoError(t, err)
	assert.Equal(t, Reaction{}, reaction)
	require.Len(t, flowUpd.calls, 1)
	assert.Equal(t, uf.FlowJobID, flowUpd.calls[0].FlowJobID)
}
