// Package sameworker tracks jobs that must continue executing on the
// physical worker that produced the completion currently being processed,
// and exposes the residue counter the drain controller polls before it is
// allowed to stop draining synchronously.
//
// Adapted from the pending/in-flight bookkeeping a worker pool's job
// manager keeps, narrowed to the one thing this pipeline actually needs:
// how many same-worker-bound jobs are still outstanding.
package sameworker

import (
	"sync"
	"sync/atomic"

	"github.com/arcflow/jobresultproc/internal/metrics"
	"github.com/arcflow/jobresultproc/pkg/types"
)

// Queue tracks same-worker-bound jobs queued locally, with a lock-free
// size counter so the drain controller can poll it without contending
// with the mutex guarding the queue contents.
type Queue struct {
	mu      sync.Mutex
	items   map[types.JobID]struct{}
	size    atomic.Int64
	metrics *metrics.Collector
}

// New returns an empty same-worker queue.
func New() *Queue {
	return &Queue{items: make(map[types.JobID]struct{})}
}

// SetMetrics wires a collector so residue changes are reported as the
// jobresultproc_same_worker_residue gauge. Optional; a Queue with no
// collector attached behaves exactly as before.
func (q *Queue) SetMetrics(mcs *metrics.Collector) {
	q.metrics = mcs
	q.reportSize()
}

func (q *Queue) reportSize() {
	if q.metrics != nil {
		q.metrics.SetSameWorkerResidue(q.size.Load())
	}
}

// Push records a job as queued for same-worker continuation.
func (q *Queue) Push(id types.JobID) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.items[id]; exists {
		return
	}
	q.items[id] = struct{}{}
	q.size.Add(1)
	q.reportSize()
}

// Pop removes a job once its same-worker continuation has been dispatched.
func (q *Queue) Pop(id types.JobID) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.items[id]; !exists {
		return
	}
	delete(q.items, id)
	q.size.Add(-1)
	q.reportSize()
}

// Size returns the number of same-worker-bound jobs still outstanding.
// Safe to call from the drain controller's hot path without locking.
func (q *Queue) Size() int64 {
	return q.size.Load()
}

// Contains reports whether a job is currently queued for same-worker
// continuation.
func (q *Queue) Contains(id types.JobID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.items[id]
	return ok
}
