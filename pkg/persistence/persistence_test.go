package persistence

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ry-ops/cortexd/pkg/log"
	"github.com/ry-ops/cortexd/pkg/events"
	"github.com/ry-ops/cortexd/pkg/store"
	"github.com/ry-ops/cortexd/pkg/types"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel})
}

func testStore() *store.Store {
	s := store.New()
	s.Set(store.CollectionWorkers, "w1", &types.Worker{
		ID:           "w1",
		Capabilities: types.NewStringSet("dev"),
		Status:       types.WorkerStatusIdle,
	})
	s.Set(store.CollectionTasks, "t1", &types.Task{
		ID:       "t1",
		Status:   types.TaskStatusPending,
		Priority: types.PriorityNormal,
	})
	return s
}

func TestMemoryEngineIsNoOp(t *testing.T) {
	e := NewMemory()
	require.NoError(t, e.Record(store.Change{}))
	require.NoError(t, e.Snapshot())
	require.NoError(t, e.Load(store.New()))
	require.NoError(t, e.Stop())
	assert.Equal(t, "memory-only", e.Stats().Strategy)
}

func TestSnapshotWriteAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	s := testStore()
	broker := events.NewBroker()

	e := NewSnapshotEngine(s, broker, path, time.Hour)
	require.NoError(t, e.Snapshot())
	assert.Equal(t, int64(1), e.Stats().Snapshots)

	restored := store.New()
	e2 := NewSnapshotEngine(restored, broker, path, time.Hour)
	require.NoError(t, e2.Load(restored))

	worker, ok := restored.GetWorker("w1")
	require.True(t, ok)
	assert.True(t, worker.Capabilities.Has("dev"))
	task, ok := restored.GetTask("t1")
	require.True(t, ok)
	assert.Equal(t, types.TaskStatusPending, task.Status)
}

func TestSnapshotLoadMissingFile(t *testing.T) {
	s := store.New()
	e := NewSnapshotEngine(s, events.NewBroker(), filepath.Join(t.TempDir(), "absent.json"), time.Hour)
	require.NoError(t, e.Load(s))
	assert.Equal(t, 0, s.Size(store.CollectionWorkers))
}

func TestSnapshotFailureEmitsEvent(t *testing.T) {
	s := testStore()
	broker := events.NewBroker()
	e := NewSnapshotEngine(s, broker, filepath.Join(t.TempDir(), "no", "such", "dir", "state.json"), time.Hour)

	err := e.Snapshot()
	require.Error(t, err)
	assert.Equal(t, int64(1), e.Stats().Errors)

	recent := broker.Recent(10)
	require.Len(t, recent, 1)
	assert.Equal(t, events.EventPersistenceError, recent[0].Type)
}

func TestWALRecordFlushReplay(t *testing.T) {
	dir := t.TempDir()
	snapPath := filepath.Join(dir, "state.json")
	walPath := filepath.Join(dir, "wal.log")
	broker := events.NewBroker()

	s := store.New()
	e := NewWALEngine(s, broker, snapPath, walPath, time.Hour, time.Hour)
	s.SetPersister(e)

	s.Set(store.CollectionWorkers, "w1", &types.Worker{ID: "w1", Capabilities: types.NewStringSet("dev")})
	s.Set(store.CollectionTasks, "t1", &types.Task{ID: "t1", Status: types.TaskStatusPending})
	s.Delete(store.CollectionTasks, "t1")

	assert.Equal(t, 3, e.Stats().WALBufferSize)
	require.NoError(t, e.Flush())
	assert.Equal(t, int64(3), e.Stats().WALWrites)
	assert.Equal(t, 0, e.Stats().WALBufferSize)

	// No snapshot was taken, so replay starts from an empty store
	restored := store.New()
	e2 := NewWALEngine(restored, broker, snapPath, walPath, time.Hour, time.Hour)
	require.NoError(t, e2.Load(restored))

	worker, ok := restored.GetWorker("w1")
	require.True(t, ok)
	assert.True(t, worker.Capabilities.Has("dev"))
	assert.False(t, restored.Has(store.CollectionTasks, "t1"))
}

func TestWALSnapshotTruncatesLog(t *testing.T) {
	dir := t.TempDir()
	snapPath := filepath.Join(dir, "state.json")
	walPath := filepath.Join(dir, "wal.log")

	s := store.New()
	e := NewWALEngine(s, events.NewBroker(), snapPath, walPath, time.Hour, time.Hour)
	s.SetPersister(e)

	s.Set(store.CollectionMetadata, "k", "v")
	require.NoError(t, e.Flush())

	info, err := os.Stat(walPath)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	require.NoError(t, e.Snapshot())

	info, err = os.Stat(walPath)
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Size())
}

func TestWALFlushFailureRestoresBuffer(t *testing.T) {
	s := store.New()
	broker := events.NewBroker()
	// Unwritable WAL path
	e := NewWALEngine(s, broker, filepath.Join(t.TempDir(), "state.json"),
		filepath.Join(t.TempDir(), "no", "such", "dir", "wal.log"), time.Hour, time.Hour)
	s.SetPersister(e)

	s.Set(store.CollectionMetadata, "k", "v")
	require.Error(t, e.Flush())

	// Entries are back at the head of the buffer for retry
	assert.Equal(t, 1, e.Stats().WALBufferSize)
	assert.GreaterOrEqual(t, e.Stats().Errors, int64(1))

	recent := broker.Recent(10)
	require.NotEmpty(t, recent)
	assert.Equal(t, events.EventPersistenceError, recent[0].Type)
}

func TestWALReplaySkipsEntriesCoveredBySnapshot(t *testing.T) {
	dir := t.TempDir()
	snapPath := filepath.Join(dir, "state.json")
	walPath := filepath.Join(dir, "wal.log")
	broker := events.NewBroker()

	clock := int64(1000)
	s := store.New()
	s.SetClock(func() int64 { clock += 10; return clock })

	e := NewWALEngine(s, broker, snapPath, walPath, time.Hour, time.Hour)
	s.SetPersister(e)

	s.Set(store.CollectionMetadata, "early", "v1")
	require.NoError(t, e.Flush())
	require.NoError(t, WriteSnapshot(snapPath, s.Export()))

	s.Set(store.CollectionMetadata, "late", "v2")
	require.NoError(t, e.Flush())

	restored := store.New()
	e2 := NewWALEngine(restored, broker, snapPath, walPath, time.Hour, time.Hour)
	require.NoError(t, e2.Load(restored))

	// Both values present: early from the snapshot, late from replay
	assert.True(t, restored.Has(store.CollectionMetadata, "early"))
	assert.True(t, restored.Has(store.CollectionMetadata, "late"))
}
