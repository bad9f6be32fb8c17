package daemon

import (
	"fmt"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ry-ops/cortexd/pkg/client"
	"github.com/ry-ops/cortexd/pkg/config"
	"github.com/ry-ops/cortexd/pkg/log"
	"github.com/ry-ops/cortexd/pkg/session"
	"github.com/ry-ops/cortexd/pkg/types"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel})
}

func freePort(t *testing.T) int {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer lis.Close()
	return lis.Addr().(*net.TCPAddr).Port
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Preset("testing")
	require.NoError(t, err)
	cfg.Host = "127.0.0.1"
	cfg.HTTPPort = freePort(t)
	cfg.WSPort = freePort(t)
	return cfg
}

func startDaemon(t *testing.T, cfg *config.Config) *Daemon {
	t.Helper()
	d, err := New(cfg, "test")
	require.NoError(t, err)
	require.NoError(t, d.Start())
	t.Cleanup(func() { _ = d.Stop() })
	return d
}

func apiClient(cfg *config.Config) *client.Client {
	return client.NewClient(fmt.Sprintf("127.0.0.1:%d", cfg.HTTPPort))
}

func dialSession(t *testing.T, cfg *config.Config) *websocket.Conn {
	t.Helper()
	url := fmt.Sprintf("ws://127.0.0.1:%d/", cfg.WSPort)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func awaitFrame(t *testing.T, conn *websocket.Conn, frameType string) *session.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var frame session.Frame
		require.NoError(t, conn.ReadJSON(&frame), "waiting for %s frame", frameType)
		if frame.Type == frameType {
			return &frame
		}
	}
}

// slowLiveness widens the heartbeat window for tests whose workers do
// not heartbeat, so the monitor stays out of the way.
func slowLiveness(cfg *config.Config) *config.Config {
	cfg.HeartbeatInterval = time.Minute
	cfg.HeartbeatTimeout = time.Hour
	return cfg
}

func TestEndToEndAssignmentAndCompletion(t *testing.T) {
	cfg := slowLiveness(testConfig(t))
	startDaemon(t, cfg)
	c := apiClient(cfg)

	health, err := c.Health()
	require.NoError(t, err)
	assert.Equal(t, "ok", health.Status)

	// Worker connects over the session channel
	conn := dialSession(t, cfg)
	require.NoError(t, conn.WriteJSON(&session.Frame{
		Type:         session.FrameRegister,
		WorkerID:     "w1",
		Capabilities: []string{"dev"},
	}))
	awaitFrame(t, conn, session.FrameRegistered)

	// Operator submits a task over the API
	result, err := c.AssignTask("t1", "", &types.TaskSpec{RequiredCapabilities: []string{"dev"}})
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Equal(t, "w1", result.AssignedWorkerID)

	// The worker receives the assignment push
	frame := awaitFrame(t, conn, session.FrameTaskAssigned)
	assert.Equal(t, "t1", frame.Task.ID)

	// Worker streams completion back
	require.NoError(t, conn.WriteJSON(&session.Frame{
		Type:   session.FrameTaskUpdate,
		TaskID: "t1",
		Status: string(types.TaskStatusCompleted),
		Result: map[string]any{"ok": true},
	}))

	require.Eventually(t, func() bool {
		task, err := c.GetTask("t1")
		return err == nil && task.Status == types.TaskStatusCompleted
	}, 3*time.Second, 20*time.Millisecond)

	worker, err := c.GetWorker("w1")
	require.NoError(t, err)
	assert.Equal(t, 0, worker.ActiveTaskCount)
	assert.Equal(t, int64(1), worker.CompletedCount)
	assert.Equal(t, types.WorkerStatusIdle, worker.Status)
}

func TestHeartbeatTimeoutAndReassignment(t *testing.T) {
	cfg := testConfig(t)
	startDaemon(t, cfg)
	c := apiClient(cfg)

	// Two capable workers; only w2 keeps heartbeating
	_, err := c.RegisterWorker("w1", []string{"dev"}, nil)
	require.NoError(t, err)
	_, err = c.RegisterWorker("w2", []string{"dev"}, nil)
	require.NoError(t, err)

	result, err := c.AssignTask("t1", "w1", &types.TaskSpec{RequiredCapabilities: []string{"dev"}})
	require.NoError(t, err)
	require.Equal(t, "w1", result.AssignedWorkerID)

	conn := dialSession(t, cfg)
	require.NoError(t, conn.WriteJSON(&session.Frame{
		Type:         session.FrameRegister,
		WorkerID:     "w2",
		Capabilities: []string{"dev"},
	}))
	awaitFrame(t, conn, session.FrameRegistered)
	heartbeats := time.NewTicker(50 * time.Millisecond)
	defer heartbeats.Stop()
	go func() {
		for range heartbeats.C {
			_ = conn.WriteJSON(&session.Frame{Type: session.FrameHeartbeat, WorkerID: "w2"})
		}
	}()

	// w1 never heartbeats; past the timeout its task returns to
	// pending with lineage.
	require.Eventually(t, func() bool {
		task, err := c.GetTask("t1")
		return err == nil && task.Status == types.TaskStatusPending && task.PreviousWorker == "w1"
	}, 3*time.Second, 20*time.Millisecond)

	worker, err := c.GetWorker("w1")
	require.NoError(t, err)
	assert.Equal(t, types.WorkerStatusOffline, worker.Status)

	// The next assign call lands on the surviving worker
	result, err = c.AssignTask("t1", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "w2", result.AssignedWorkerID)
}

func TestSnapshotRestartRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := slowLiveness(testConfig(t))
	cfg.Persistence = config.PersistenceSnapshot
	cfg.SnapshotPath = filepath.Join(dir, "state.json")
	cfg.SnapshotInterval = time.Hour

	d := startDaemon(t, cfg)
	c := apiClient(cfg)

	for i := 1; i <= 3; i++ {
		_, err := c.RegisterWorker(fmt.Sprintf("w%d", i), []string{"dev"}, nil)
		require.NoError(t, err)
	}
	for i := 1; i <= 5; i++ {
		_, err := c.AssignTask(fmt.Sprintf("t%d", i), "", nil)
		require.NoError(t, err)
	}
	require.NoError(t, c.CompleteTask("t1", nil))
	require.NoError(t, c.FailTask("t2", "broken"))

	before, err := c.State()
	require.NoError(t, err)
	require.NoError(t, c.Snapshot())
	require.NoError(t, d.Stop())

	// Restart on fresh ports against the same snapshot file
	cfg2 := slowLiveness(testConfig(t))
	cfg2.Persistence = config.PersistenceSnapshot
	cfg2.SnapshotPath = cfg.SnapshotPath
	cfg2.SnapshotInterval = time.Hour
	startDaemon(t, cfg2)
	c2 := apiClient(cfg2)

	after, err := c2.State()
	require.NoError(t, err)

	require.Len(t, after.Workers, len(before.Workers))
	require.Len(t, after.Tasks, len(before.Tasks))
	require.Len(t, after.Assignments, len(before.Assignments))

	for i, worker := range before.Workers {
		assert.Equal(t, worker.ID, after.Workers[i].ID)
		assert.Equal(t, worker.Status, after.Workers[i].Status)
		assert.Equal(t, worker.ActiveTaskCount, after.Workers[i].ActiveTaskCount)
		assert.Equal(t, worker.Capabilities.Sorted(), after.Workers[i].Capabilities.Sorted())
	}
	for i, task := range before.Tasks {
		assert.Equal(t, task.ID, after.Tasks[i].ID)
		assert.Equal(t, task.Status, after.Tasks[i].Status)
		assert.Equal(t, task.AssignedTo, after.Tasks[i].AssignedTo)
	}
}

func TestWALRestartRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := slowLiveness(testConfig(t))
	cfg.Persistence = config.PersistenceWAL
	cfg.SnapshotPath = filepath.Join(dir, "state.json")
	cfg.WALPath = filepath.Join(dir, "wal.log")
	cfg.SnapshotInterval = time.Hour
	cfg.WALSyncInterval = 10 * time.Millisecond

	d := startDaemon(t, cfg)
	c := apiClient(cfg)

	_, err := c.RegisterWorker("w1", []string{"dev"}, nil)
	require.NoError(t, err)
	_, err = c.AssignTask("t1", "", nil)
	require.NoError(t, err)
	require.NoError(t, d.Stop())

	cfg2 := slowLiveness(testConfig(t))
	cfg2.Persistence = config.PersistenceWAL
	cfg2.SnapshotPath = cfg.SnapshotPath
	cfg2.WALPath = cfg.WALPath
	cfg2.SnapshotInterval = time.Hour
	startDaemon(t, cfg2)
	c2 := apiClient(cfg2)

	task, err := c2.GetTask("t1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusAssigned, task.Status)
	assert.Equal(t, "w1", task.AssignedTo)
}

func TestGracefulStopIsIdempotentOnFreshDaemon(t *testing.T) {
	cfg := testConfig(t)
	d, err := New(cfg, "test")
	require.NoError(t, err)
	require.NoError(t, d.Start())
	require.NoError(t, d.Stop())
	require.NoError(t, d.Stop())
}
