package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ry-ops/cortexd/pkg/log"
	"github.com/ry-ops/cortexd/pkg/bus"
	"github.com/ry-ops/cortexd/pkg/events"
	"github.com/ry-ops/cortexd/pkg/metrics"
	"github.com/ry-ops/cortexd/pkg/persistence"
	"github.com/ry-ops/cortexd/pkg/scheduler"
	"github.com/ry-ops/cortexd/pkg/store"
	"github.com/ry-ops/cortexd/pkg/types"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel})
}

func testServer(t *testing.T) (*httptest.Server, *store.Store) {
	t.Helper()
	s := store.New()
	broker := events.NewBroker()
	core := metrics.NewCore()
	b := bus.New(bus.Config{}, broker)
	sched := scheduler.New(s, b, broker, core, 3)
	srv := NewServer(s, sched, persistence.NewMemory(), b, broker, core, "test")

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, s
}

func post(t *testing.T, ts *httptest.Server, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func get(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealth(t *testing.T) {
	ts, _ := testServer(t)
	resp := get(t, ts, "/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody[map[string]any](t, resp)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
	assert.Contains(t, body, "uptimeMs")
}

func TestRegisterAndGetWorker(t *testing.T) {
	ts, _ := testServer(t)

	resp := post(t, ts, "/workers/register", map[string]any{
		"workerId":     "w1",
		"capabilities": []string{"dev", "sec"},
		"metadata":     map[string]any{"zone": "a"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	worker := decodeBody[types.Worker](t, resp)
	assert.Equal(t, "w1", worker.ID)
	assert.Equal(t, types.WorkerStatusIdle, worker.Status)

	resp = get(t, ts, "/workers/w1")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = get(t, ts, "/workers/ghost")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	body := decodeBody[map[string]string](t, resp)
	assert.NotEmpty(t, body["error"])
}

func TestRegisterWorkerValidation(t *testing.T) {
	ts, _ := testServer(t)
	resp := post(t, ts, "/workers/register", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestAssignCompleteFlow(t *testing.T) {
	ts, _ := testServer(t)

	resp := post(t, ts, "/workers/register", map[string]any{
		"workerId": "w1", "capabilities": []string{"dev"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = post(t, ts, "/tasks/assign", map[string]any{
		"taskId":   "t1",
		"taskData": map[string]any{"requiredCapabilities": []string{"dev"}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := decodeBody[scheduler.AssignResult](t, resp)
	assert.True(t, result.OK)
	assert.Equal(t, "w1", result.AssignedWorkerID)

	resp = get(t, ts, "/tasks/t1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	task := decodeBody[types.Task](t, resp)
	assert.Equal(t, types.TaskStatusAssigned, task.Status)
	assert.Equal(t, "w1", task.AssignedTo)

	resp = post(t, ts, "/tasks/complete", map[string]any{
		"taskId": "t1", "result": map[string]any{"ok": true},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = get(t, ts, "/tasks/t1")
	task = decodeBody[types.Task](t, resp)
	assert.Equal(t, types.TaskStatusCompleted, task.Status)
	assert.NotZero(t, task.CompletedAt)

	resp = get(t, ts, "/workers/w1")
	worker := decodeBody[types.Worker](t, resp)
	assert.Equal(t, 0, worker.ActiveTaskCount)
	assert.Equal(t, int64(1), worker.CompletedCount)
	assert.Equal(t, types.WorkerStatusIdle, worker.Status)
}

func TestAssignWithoutWorkersIsServiceUnavailable(t *testing.T) {
	ts, _ := testServer(t)
	resp := post(t, ts, "/tasks/assign", map[string]any{"taskId": "t1"})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	body := decodeBody[map[string]string](t, resp)
	assert.Contains(t, body["error"], "no workers available")
}

func TestDoubleCompleteIsConflict(t *testing.T) {
	ts, _ := testServer(t)
	post(t, ts, "/workers/register", map[string]any{"workerId": "w1"}).Body.Close()
	post(t, ts, "/tasks/assign", map[string]any{"taskId": "t1"}).Body.Close()
	post(t, ts, "/tasks/complete", map[string]any{"taskId": "t1"}).Body.Close()

	resp := post(t, ts, "/tasks/complete", map[string]any{"taskId": "t1"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
}

func TestStateSnapshot(t *testing.T) {
	ts, _ := testServer(t)
	post(t, ts, "/workers/register", map[string]any{"workerId": "w1"}).Body.Close()
	post(t, ts, "/workers/register", map[string]any{"workerId": "w2"}).Body.Close()
	post(t, ts, "/tasks/assign", map[string]any{"taskId": "t1"}).Body.Close()

	resp := get(t, ts, "/state")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	state := decodeBody[struct {
		Workers     []*types.Worker     `json:"workers"`
		Tasks       []*types.Task       `json:"tasks"`
		Assignments []*types.Assignment `json:"assignments"`
		Counts      map[string]int      `json:"counts"`
	}](t, resp)

	assert.Len(t, state.Workers, 2)
	assert.Len(t, state.Tasks, 1)
	assert.Len(t, state.Assignments, 1)
	assert.Equal(t, 2, state.Counts["workers"])
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := testServer(t)
	post(t, ts, "/workers/register", map[string]any{"workerId": "w1"}).Body.Close()
	post(t, ts, "/tasks/assign", map[string]any{"taskId": "t1"}).Body.Close()

	resp := get(t, ts, "/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	snap := decodeBody[metrics.Snapshot](t, resp)

	assert.Equal(t, 1, snap.ActiveWorkers)
	assert.Equal(t, 1, snap.ActiveTasks)
	assert.GreaterOrEqual(t, snap.Operations, int64(2))
	assert.NotNil(t, snap.Bus)
	assert.NotNil(t, snap.Persistence)
}

func TestPrometheusEndpoint(t *testing.T) {
	ts, _ := testServer(t)
	resp := get(t, ts, "/metrics/prometheus")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestUnregisterReassignsTasks(t *testing.T) {
	ts, _ := testServer(t)
	post(t, ts, "/workers/register", map[string]any{"workerId": "w1"}).Body.Close()
	post(t, ts, "/tasks/assign", map[string]any{"taskId": "t1"}).Body.Close()

	resp := post(t, ts, "/workers/unregister", map[string]any{"workerId": "w1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = get(t, ts, "/tasks/t1")
	task := decodeBody[types.Task](t, resp)
	assert.Equal(t, types.TaskStatusPending, task.Status)
	assert.Equal(t, "w1", task.PreviousWorker)

	resp = get(t, ts, "/workers")
	workers := decodeBody[struct {
		Workers []*types.Worker `json:"workers"`
	}](t, resp)
	assert.Empty(t, workers.Workers)
}

func TestCancelTask(t *testing.T) {
	ts, _ := testServer(t)
	post(t, ts, "/workers/register", map[string]any{"workerId": "w1"}).Body.Close()
	post(t, ts, "/tasks/assign", map[string]any{"taskId": "t1"}).Body.Close()

	resp := post(t, ts, "/tasks/cancel", map[string]any{"taskId": "t1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = get(t, ts, "/tasks/t1")
	task := decodeBody[types.Task](t, resp)
	assert.Equal(t, types.TaskStatusCancelled, task.Status)
}

func TestListTasksStatusFilter(t *testing.T) {
	ts, _ := testServer(t)
	post(t, ts, "/workers/register", map[string]any{"workerId": "w1"}).Body.Close()
	post(t, ts, "/tasks/assign", map[string]any{"taskId": "t1"}).Body.Close()
	post(t, ts, "/tasks/assign", map[string]any{"taskId": "t2"}).Body.Close()
	post(t, ts, "/tasks/complete", map[string]any{"taskId": "t1"}).Body.Close()

	resp := get(t, ts, "/tasks?status=completed")
	tasks := decodeBody[struct {
		Tasks []*types.Task `json:"tasks"`
	}](t, resp)
	require.Len(t, tasks.Tasks, 1)
	assert.Equal(t, "t1", tasks.Tasks[0].ID)
}

func TestEventsEndpoint(t *testing.T) {
	ts, _ := testServer(t)
	post(t, ts, "/workers/register", map[string]any{"workerId": "w1"}).Body.Close()

	require.Eventually(t, func() bool {
		resp := get(t, ts, "/events")
		defer resp.Body.Close()
		var body struct {
			Events []*events.Event `json:"events"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return false
		}
		for _, ev := range body.Events {
			if ev.Type == events.EventWorkerRegistered {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestMalformedBody(t *testing.T) {
	ts, _ := testServer(t)
	resp, err := http.Post(ts.URL+"/tasks/assign", "application/json", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestSnapshotEndpoint(t *testing.T) {
	ts, _ := testServer(t)
	resp := post(t, ts, "/snapshot", map[string]any{})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}
