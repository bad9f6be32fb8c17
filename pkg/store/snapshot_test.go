package store

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ry-ops/cortexd/pkg/types"
)

func populated() *Store {
	s := New()
	s.Set(CollectionWorkers, "w1", &types.Worker{
		ID:           "w1",
		Capabilities: types.NewStringSet("dev", "sec"),
		Status:       types.WorkerStatusBusy,
		ActiveTaskCount: 1,
	})
	s.Set(CollectionTasks, "t1", &types.Task{
		ID:                   "t1",
		Status:               types.TaskStatusAssigned,
		RequiredCapabilities: types.NewStringSet("dev"),
		Priority:             types.PriorityHigh,
		AssignedTo:           "w1",
	})
	s.Set(CollectionAssignments, "t1", &types.Assignment{TaskID: "t1", WorkerID: "w1", AssignedAt: 42})
	s.Set(CollectionWorkerTasks, "w1", types.NewStringSet("t1"))
	s.Set(CollectionMetadata, "cluster", "cortex")
	return s
}

func TestExportImportRoundTrip(t *testing.T) {
	s := populated()
	snap := s.Export()

	restored := New()
	restored.Import(snap)

	worker, ok := restored.GetWorker("w1")
	require.True(t, ok)
	assert.Equal(t, types.WorkerStatusBusy, worker.Status)
	assert.True(t, worker.Capabilities.Has("sec"))

	task, ok := restored.GetTask("t1")
	require.True(t, ok)
	assert.Equal(t, types.TaskStatusAssigned, task.Status)
	assert.Equal(t, "w1", task.AssignedTo)

	assignment, ok := restored.GetAssignment("t1")
	require.True(t, ok)
	assert.Equal(t, int64(42), assignment.AssignedAt)

	assert.Equal(t, []string{"t1"}, restored.WorkerTasks("w1").Sorted())

	v, ok := restored.Get(CollectionMetadata, "cluster")
	require.True(t, ok)
	assert.Equal(t, "cortex", v)
}

func TestSnapshotSerializationRoundTrip(t *testing.T) {
	s := populated()
	snap := s.Export()

	data, err := json.Marshal(snap)
	require.NoError(t, err)

	// Sets appear as ordered arrays in the wire form
	assert.Contains(t, string(data), `"capabilities":["dev","sec"]`)
	assert.Contains(t, string(data), `"snapshot_timestamp"`)

	var decoded Snapshot
	require.NoError(t, json.Unmarshal(data, &decoded))

	restored := New()
	restored.Import(&decoded)
	assert.Equal(t, s.Export().Workers["w1"].Capabilities.Sorted(),
		restored.Export().Workers["w1"].Capabilities.Sorted())
	assert.Equal(t, s.Export().WorkerTasks, restored.Export().WorkerTasks)
}

func TestApplyLoggedReplay(t *testing.T) {
	var ops []LoggedOp
	sub := New()
	sub.SetPersister(persistFunc(func(c Change) error {
		op, err := EncodeLogged(c)
		if err != nil {
			return err
		}
		ops = append(ops, op)
		return nil
	}))
	sub.Set(CollectionWorkers, "w1", &types.Worker{ID: "w1", Capabilities: types.NewStringSet("dev")})
	sub.Set(CollectionTasks, "t1", &types.Task{ID: "t1", Status: types.TaskStatusPending})
	sub.Set(CollectionWorkerTasks, "w1", types.NewStringSet("t1"))
	sub.Delete(CollectionTasks, "t1")

	replayed := New()
	for _, op := range ops {
		require.NoError(t, replayed.ApplyLogged(op))
	}

	worker, ok := replayed.GetWorker("w1")
	require.True(t, ok)
	assert.True(t, worker.Capabilities.Has("dev"))
	assert.False(t, replayed.Has(CollectionTasks, "t1"))
	assert.Equal(t, []string{"t1"}, replayed.WorkerTasks("w1").Sorted())
}

func TestApplyLoggedUnknownType(t *testing.T) {
	s := New()
	err := s.ApplyLogged(LoggedOp{Type: "bogus", Collection: CollectionMetadata, Key: "k"})
	assert.Error(t, err)
}

type persistFunc func(Change) error

func (f persistFunc) Record(c Change) error { return f(c) }
