package sameworker

import (
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcflow/jobresultproc/internal/metrics"
)

func TestQueue_PushPopTracksSize(t *testing.T) {
	q := New()
	id := uuid.New()

	assert.EqualValues(t, 0, q.Size())

	q.Push(id)
	assert.EqualValues(t, 1, q.Size())
	assert.True(t, q.Contains(id))

	q.Push(id) // duplicate push is a no-op
	assert.EqualValues(t, 1, q.Size())

	q.Pop(id)
	assert.EqualValues(t, 0, q.Size())
	assert.False(t, q.Contains(id))

	q.Pop(id) // popping an absent job is a no-op
	assert.EqualValues(t, 0, q.Size())
}

func TestQueue_MultipleJobs(t *testing.T) {
	q := New()
	a, b := uuid.New(), uuid.New()

	q.Push(a)
	q.Push(b)
	assert.EqualValues(t, 2, q.Size())

	q.Pop(a)
	assert.EqualValues(t, 1, q.Size())
	assert.True(t, q.Contains(b))
}

func TestQueue_PushPopReportToMetricsWhenWired(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	mcs := metrics.NewCollector()

	q := New()
	q.SetMetrics(mcs)

	id := uuid.New()
	require.NotPanics(t, func() {
		q.Push(id)
		q.Pop(id)
	})
}
