package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCollector(t *testing.T) {
	// Reset Prometheus registry to avoid duplicate registration
	prometheus.DefaultRegisterer = prometheus.NewRegistry()

	collector := NewCollector()

	assert.NotNil(t, collector, "NewCollector should return a non-nil collector")
	assert.NotNil(t, collector.completionsSucceeded)
	assert.NotNil(t, collector.completionsFailed)
	assert.NotNil(t, collector.flowUpdatesSent)
	assert.NotNil(t, collector.jobErrorsHandled)
	assert.NotNil(t, collector.processingLatency)
	assert.NotNil(t, collector.sameWorkerResidue)
	assert.NotNil(t, collector.drainActive)
	assert.NotNil(t, collector.lastProcessingMs)
}

func TestRecordCompletion(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	latencies := []float64{0.001, 0.01, 0.1, 1.0, 5.0}
	for _, latency := range latencies {
		assert.NotPanics(t, func() {
			collector.RecordCompletion(true, latency)
			collector.RecordCompletion(false, latency)
		}, "RecordCompletion should not panic with latency %f", latency)
	}
}

func TestRecordFlowUpdateAndJobError(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		for i := 0; i < 5; i++ {
			collector.RecordFlowUpdate()
			collector.RecordJobError()
		}
	})
}

func TestSetSameWorkerResidueAndDraining(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	testCases := []struct {
		name   string
		size   int64
		drain  bool
	}{
		{"zero values", 0, false},
		{"draining with residue", 10, true},
		{"large residue", 100, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				collector.SetSameWorkerResidue(tc.size)
				collector.SetDraining(tc.drain)
			})
		})
	}
}

func TestConcurrentMetricUpdates(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	done := make(chan bool, 100)

	for i := 0; i < 100; i++ {
		go func() {
			collector.RecordCompletion(true, 0.1)
			collector.RecordFlowUpdate()
			collector.SetSameWorkerResidue(5)
			collector.SetDraining(false)
			done <- true
		}()
	}

	for i := 0; i < 100; i++ {
		<-done
	}
}

func TestCollectorIsolation(t *testing.T) {
	// Test multiple collector instances work independently
	prometheus.DefaultRegisterer = prometheus.NewRegistry()

	collector1 := NewCollector()
	require.NotNil(t, collector1)

	// Second collector will panic due to duplicate registration; a
	// process should have only one collector.
	assert.Panics(t, func() {
		NewCollector()
	}, "Creating a second collector should panic due to duplicate registration")
}

func TestMetricOperationSequence(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		collector.SetSameWorkerResidue(1)
		collector.RecordCompletion(true, 0.5)
		collector.SetSameWorkerResidue(0)
	}, "Complete completion lifecycle should not panic")
}

func TestZeroAndNegativeValues(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		collector.RecordCompletion(true, 0.0)
		collector.SetSameWorkerResidue(0)
		collector.SetSameWorkerResidue(-1)
	}, "Edge case values should not panic")
}
