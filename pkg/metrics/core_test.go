package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecordOperation(t *testing.T) {
	c := NewCore()

	c.RecordOperation(2 * time.Millisecond)
	c.RecordOperation(4 * time.Millisecond)

	snap := c.Snapshot(0, 0)
	assert.Equal(t, int64(2), snap.Operations)
	assert.Equal(t, 2, snap.LatencySamples)
	assert.InDelta(t, 3.0, snap.AverageLatencyMs, 0.5)
	assert.Greater(t, snap.OperationsPerSecond, 0.0)
}

func TestLatencyWindowIsBounded(t *testing.T) {
	c := NewCore()

	for i := 0; i < DefaultLatencyWindow+500; i++ {
		c.RecordLatency(time.Millisecond)
	}
	snap := c.Snapshot(0, 0)
	assert.Equal(t, DefaultLatencyWindow, snap.LatencySamples)
}

func TestCountersAreMonotone(t *testing.T) {
	c := NewCore()

	var lastOps, lastProcessed, lastFailed int64
	for i := 0; i < 10; i++ {
		c.RecordOperation(0)
		c.TaskProcessed()
		c.TaskFailed()

		snap := c.Snapshot(0, 0)
		assert.GreaterOrEqual(t, snap.Operations, lastOps)
		assert.GreaterOrEqual(t, snap.TotalTasksProcessed, lastProcessed)
		assert.GreaterOrEqual(t, snap.TotalTasksFailed, lastFailed)
		lastOps = snap.Operations
		lastProcessed = snap.TotalTasksProcessed
		lastFailed = snap.TotalTasksFailed
	}
}

func TestLatencySampleOnlyDoesNotCountOperation(t *testing.T) {
	c := NewCore()
	c.RecordLatency(time.Millisecond)
	snap := c.Snapshot(0, 0)
	assert.Equal(t, int64(0), snap.Operations)
	assert.Equal(t, 1, snap.LatencySamples)
}
