package session

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ry-ops/cortexd/pkg/log"
	"github.com/ry-ops/cortexd/pkg/bus"
	"github.com/ry-ops/cortexd/pkg/events"
	"github.com/ry-ops/cortexd/pkg/metrics"
	"github.com/ry-ops/cortexd/pkg/scheduler"
	"github.com/ry-ops/cortexd/pkg/store"
	"github.com/ry-ops/cortexd/pkg/types"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel})
}

type fixture struct {
	store *store.Store
	sched *scheduler.Scheduler
	bus   *bus.Bus
	hub   *Hub
	ts    *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := store.New()
	broker := events.NewBroker()
	b := bus.New(bus.Config{ProcessingInterval: 5 * time.Millisecond}, broker)
	b.Start()
	sched := scheduler.New(s, b, broker, metrics.NewCore(), 3)
	hub := NewHub(s, sched, b, time.Second)
	ts := httptest.NewServer(hub)

	t.Cleanup(func() {
		ts.Close()
		hub.Close()
		b.Stop()
	})
	return &fixture{store: s, sched: sched, bus: b, hub: hub, ts: ts}
}

func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, frame *Frame) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(frame))
}

// awaitFrame reads frames until one of the wanted type arrives,
// skipping unrelated fanout.
func awaitFrame(t *testing.T, conn *websocket.Conn, frameType string) *Frame {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	require.NoError(t, conn.SetReadDeadline(deadline))
	for {
		var frame Frame
		err := conn.ReadJSON(&frame)
		require.NoError(t, err, "waiting for %s frame", frameType)
		if frame.Type == frameType {
			return &frame
		}
	}
}

func register(t *testing.T, conn *websocket.Conn, workerID string, capabilities ...string) {
	t.Helper()
	send(t, conn, &Frame{Type: FrameRegister, WorkerID: workerID, Capabilities: capabilities})
	reply := awaitFrame(t, conn, FrameRegistered)
	require.Equal(t, workerID, reply.WorkerID)
	require.NotZero(t, reply.ServerTime)
}

func TestRegisterOverSession(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t)

	register(t, conn, "w1", "dev")

	worker, ok := f.store.GetWorker("w1")
	require.True(t, ok)
	assert.True(t, worker.Capabilities.Has("dev"))
	assert.Equal(t, 1, f.hub.Count())
}

func TestHeartbeatAck(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t)
	register(t, conn, "w1")

	send(t, conn, &Frame{Type: FrameHeartbeat, WorkerID: "w1"})
	ack := awaitFrame(t, conn, FrameHeartbeatAck)
	assert.NotZero(t, ack.ServerTime)
}

func TestHeartbeatBeforeRegister(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t)

	send(t, conn, &Frame{Type: FrameHeartbeat})
	errFrame := awaitFrame(t, conn, FrameError)
	assert.Contains(t, errFrame.Message, "before register")
}

func TestTaskAssignedPush(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t)
	register(t, conn, "w1", "dev")

	result, err := f.sched.Assign(&types.TaskSpec{
		ID:                   "t1",
		RequiredCapabilities: []string{"dev"},
	}, "")
	require.NoError(t, err)
	require.Equal(t, "w1", result.AssignedWorkerID)

	frame := awaitFrame(t, conn, FrameTaskAssigned)
	require.NotNil(t, frame.Task)
	assert.Equal(t, "t1", frame.Task.ID)
	assert.Equal(t, types.TaskStatusAssigned, frame.Task.Status)
}

func TestTaskUpdateCompletes(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t)
	register(t, conn, "w1")

	_, err := f.sched.Assign(&types.TaskSpec{ID: "t1"}, "")
	require.NoError(t, err)
	awaitFrame(t, conn, FrameTaskAssigned)

	progress := 50
	send(t, conn, &Frame{Type: FrameTaskUpdate, TaskID: "t1", Progress: &progress})
	require.Eventually(t, func() bool {
		task, _ := f.store.GetTask("t1")
		return task.Status == types.TaskStatusInProgress && task.Progress == 50
	}, time.Second, 10*time.Millisecond)

	send(t, conn, &Frame{
		Type:   FrameTaskUpdate,
		TaskID: "t1",
		Status: string(types.TaskStatusCompleted),
		Result: map[string]any{"ok": true},
	})
	require.Eventually(t, func() bool {
		task, _ := f.store.GetTask("t1")
		return task.Status == types.TaskStatusCompleted
	}, time.Second, 10*time.Millisecond)

	worker, _ := f.store.GetWorker("w1")
	assert.Equal(t, 0, worker.ActiveTaskCount)
	assert.Equal(t, int64(1), worker.CompletedCount)
}

func TestStateChangeFanout(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t)
	register(t, conn, "w1")

	send(t, conn, &Frame{Type: FrameSubscribe, Topics: []string{"tasks:set"}})
	require.Eventually(t, func() bool {
		worker, _ := f.store.GetWorker("w1")
		return worker.Subscriptions.Has("tasks:set")
	}, time.Second, 10*time.Millisecond)

	f.store.Set(store.CollectionTasks, "t9", &types.Task{ID: "t9", Status: types.TaskStatusPending})

	frame := awaitFrame(t, conn, FrameStateChange)
	require.NotNil(t, frame.Change)
	assert.Equal(t, "tasks", frame.Change.Collection)
	assert.Equal(t, "t9", frame.Change.Key)
	assert.Equal(t, "set", frame.Change.Operation)
}

func TestWildcardSubscription(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t)
	register(t, conn, "w1")

	send(t, conn, &Frame{Type: FrameSubscribe, Topics: []string{"*"}})
	require.Eventually(t, func() bool {
		worker, _ := f.store.GetWorker("w1")
		return worker.Subscriptions.Has("*")
	}, time.Second, 10*time.Millisecond)

	f.store.Set(store.CollectionMetadata, "k", "v")
	frame := awaitFrame(t, conn, FrameStateChange)
	assert.Equal(t, "metadata", frame.Change.Collection)
}

func TestSecondRegisterReplacesSession(t *testing.T) {
	f := newFixture(t)
	first := f.dial(t)
	register(t, first, "w1")

	second := f.dial(t)
	register(t, second, "w1")

	// The displaced channel closes
	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var frame Frame
		if err := first.ReadJSON(&frame); err != nil {
			break
		}
	}
	assert.Equal(t, 1, f.hub.Count())

	// The new session still works
	send(t, second, &Frame{Type: FrameHeartbeat})
	awaitFrame(t, second, FrameHeartbeatAck)
}

func TestSessionCloseMarksWorkerOffline(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t)
	register(t, conn, "w1")

	_, err := f.sched.Assign(&types.TaskSpec{ID: "t1"}, "")
	require.NoError(t, err)

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		worker, _ := f.store.GetWorker("w1")
		return worker.Status == types.WorkerStatusOffline
	}, time.Second, 10*time.Millisecond)

	// The task stays assigned; reclamation belongs to the liveness
	// monitor.
	task, _ := f.store.GetTask("t1")
	assert.Equal(t, types.TaskStatusAssigned, task.Status)
	assert.Equal(t, "w1", task.AssignedTo)
}

func TestRepeatedProtocolErrorsCloseSession(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t)

	for i := 0; i < protocolErrorLimit; i++ {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	sawError := false
	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			break
		}
		if frame.Type == FrameError {
			sawError = true
		}
	}
	assert.True(t, sawError)
}

func TestTaskUpdateRequiresRegistration(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t)

	progress := 10
	send(t, conn, &Frame{Type: FrameTaskUpdate, TaskID: "t1", Progress: &progress})
	errFrame := awaitFrame(t, conn, FrameError)
	assert.Contains(t, errFrame.Message, "before register")
}
