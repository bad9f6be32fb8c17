package liveness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ry-ops/cortexd/pkg/log"
	"github.com/ry-ops/cortexd/pkg/events"
	"github.com/ry-ops/cortexd/pkg/metrics"
	"github.com/ry-ops/cortexd/pkg/scheduler"
	"github.com/ry-ops/cortexd/pkg/store"
	"github.com/ry-ops/cortexd/pkg/types"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel})
}

func testMonitor(timeout time.Duration) (*Monitor, *scheduler.Scheduler, *store.Store, *events.Broker) {
	s := store.New()
	broker := events.NewBroker()
	sched := scheduler.New(s, nil, broker, metrics.NewCore(), 3)
	m := NewMonitor(s, sched, broker, time.Hour, timeout)
	return m, sched, s, broker
}

func TestSweepMarksSilentWorkerOffline(t *testing.T) {
	m, sched, s, broker := testMonitor(200 * time.Millisecond)

	clock := int64(10000)
	s.SetClock(func() int64 { return clock })

	_, err := sched.RegisterWorker("w1", []string{"dev"}, nil)
	require.NoError(t, err)
	_, err = sched.Assign(&types.TaskSpec{ID: "t1", RequiredCapabilities: []string{"dev"}}, "")
	require.NoError(t, err)

	// Within the timeout: nothing happens
	clock = 10200
	m.Sweep()
	worker, _ := s.GetWorker("w1")
	assert.Equal(t, types.WorkerStatusBusy, worker.Status)

	// One millisecond past the timeout: offline on the next sweep
	clock = 10201
	m.Sweep()

	worker, _ = s.GetWorker("w1")
	assert.Equal(t, types.WorkerStatusOffline, worker.Status)
	assert.Equal(t, 0, worker.ActiveTaskCount)

	task, _ := s.GetTask("t1")
	assert.Equal(t, types.TaskStatusPending, task.Status)
	assert.Equal(t, "w1", task.PreviousWorker)
	assert.Empty(t, task.AssignedTo)

	var sawTimeout bool
	for _, ev := range broker.Recent(20) {
		if ev.Type == events.EventWorkerTimeout {
			sawTimeout = true
		}
	}
	assert.True(t, sawTimeout)
}

func TestSweepSkipsHealthyWorkers(t *testing.T) {
	m, sched, s, _ := testMonitor(time.Minute)

	_, err := sched.RegisterWorker("w1", nil, nil)
	require.NoError(t, err)

	m.Sweep()
	worker, _ := s.GetWorker("w1")
	assert.Equal(t, types.WorkerStatusIdle, worker.Status)
}

func TestSweepReclaimsTasksFromClosedSession(t *testing.T) {
	m, sched, s, _ := testMonitor(200 * time.Millisecond)

	clock := int64(10000)
	s.SetClock(func() int64 { return clock })

	_, err := sched.RegisterWorker("w1", nil, nil)
	require.NoError(t, err)
	_, err = sched.Assign(&types.TaskSpec{ID: "t1"}, "")
	require.NoError(t, err)

	// Session closed: worker offline immediately, tasks retained
	sched.MarkWorkerOffline("w1")
	m.Sweep()
	task, _ := s.GetTask("t1")
	assert.Equal(t, types.TaskStatusAssigned, task.Status)

	// Timeout lapses without a reconnect: tasks go back to pending
	clock = 10500
	m.Sweep()
	task, _ = s.GetTask("t1")
	assert.Equal(t, types.TaskStatusPending, task.Status)
	assert.Equal(t, "w1", task.PreviousWorker)
}

func TestReassignmentFlowsToSecondWorker(t *testing.T) {
	m, sched, s, _ := testMonitor(200 * time.Millisecond)

	clock := int64(10000)
	s.SetClock(func() int64 { return clock })

	_, err := sched.RegisterWorker("w1", []string{"dev"}, nil)
	require.NoError(t, err)
	_, err = sched.RegisterWorker("w2", []string{"dev"}, nil)
	require.NoError(t, err)
	_, err = sched.Assign(&types.TaskSpec{ID: "t1", RequiredCapabilities: []string{"dev"}}, "w1")
	require.NoError(t, err)

	// w2 keeps heartbeating, w1 goes silent
	clock = 10150
	_, err = sched.Heartbeat("w2")
	require.NoError(t, err)
	clock = 10300
	m.Sweep()

	task, _ := s.GetTask("t1")
	require.Equal(t, types.TaskStatusPending, task.Status)

	result, err := sched.Assign(&types.TaskSpec{ID: "t1"}, "")
	require.NoError(t, err)
	assert.Equal(t, "w2", result.AssignedWorkerID)

	task, _ = s.GetTask("t1")
	assert.Equal(t, "w1", task.PreviousWorker)
	assert.Equal(t, "w2", task.AssignedTo)
}
