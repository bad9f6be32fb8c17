package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ry-ops/cortexd/pkg/types"
)

// Snapshot is the serialized form of the full store state. Sets are
// written as ordered arrays and reconstituted as sets on load.
type Snapshot struct {
	Workers           map[string]*types.Worker     `json:"workers"`
	Tasks             map[string]*types.Task       `json:"tasks"`
	Assignments       map[string]*types.Assignment `json:"assignments"`
	WorkerTasks       map[string][]string          `json:"workerTasks"`
	Metadata          map[string]any               `json:"metadata"`
	Timestamps        map[string]int64             `json:"timestamps"`
	SnapshotTimestamp string                       `json:"snapshot_timestamp"`
	Metrics           map[string]any               `json:"metrics,omitempty"`
}

// LoggedOp is the wire form of a single mutation in the WAL
type LoggedOp struct {
	Type       string          `json:"type"`
	Collection string          `json:"collection"`
	Key        string          `json:"key,omitempty"`
	Value      json.RawMessage `json:"value,omitempty"`
}

// Export materializes a snapshot of the current state
func (s *Store) Export() *Snapshot {
	now := s.Now()
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()

	snap := &Snapshot{
		Workers:     make(map[string]*types.Worker),
		Tasks:       make(map[string]*types.Task),
		Assignments: make(map[string]*types.Assignment),
		WorkerTasks: make(map[string][]string),
		Metadata:    make(map[string]any),
		Timestamps:  map[string]int64{"exported_at": now},
	}
	for id, v := range s.collections[CollectionWorkers] {
		snap.Workers[id] = v.(*types.Worker).Clone()
	}
	for id, v := range s.collections[CollectionTasks] {
		snap.Tasks[id] = v.(*types.Task).Clone()
	}
	for id, v := range s.collections[CollectionAssignments] {
		a := *v.(*types.Assignment)
		snap.Assignments[id] = &a
	}
	for id, v := range s.collections[CollectionWorkerTasks] {
		snap.WorkerTasks[id] = v.(types.StringSet).Sorted()
	}
	for k, v := range s.collections[CollectionMetadata] {
		snap.Metadata[k] = v
	}
	snap.SnapshotTimestamp = time.Now().UTC().Format(time.RFC3339Nano)
	return snap
}

// Import replaces the in-memory state with a snapshot's contents.
// Used on startup before any writers run; no change events are
// emitted and nothing is persisted.
func (s *Store) Import(snap *Snapshot) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.dataMu.Lock()
	defer s.dataMu.Unlock()

	for _, name := range collectionNames {
		s.collections[name] = make(map[string]any)
	}
	for id, w := range snap.Workers {
		s.collections[CollectionWorkers][id] = w
	}
	for id, t := range snap.Tasks {
		s.collections[CollectionTasks][id] = t
	}
	for id, a := range snap.Assignments {
		s.collections[CollectionAssignments][id] = a
	}
	for id, taskIDs := range snap.WorkerTasks {
		s.collections[CollectionWorkerTasks][id] = types.NewStringSet(taskIDs...)
	}
	for k, v := range snap.Metadata {
		s.collections[CollectionMetadata][k] = v
	}
}

// EncodeLogged converts a committed change into its WAL wire form
func EncodeLogged(change Change) (LoggedOp, error) {
	op := LoggedOp{
		Type:       string(change.Op),
		Collection: change.Collection,
		Key:        change.Key,
	}
	if change.Value != nil {
		data, err := json.Marshal(change.Value)
		if err != nil {
			return op, fmt.Errorf("failed to encode %s/%s: %w", change.Collection, change.Key, err)
		}
		op.Value = data
	}
	return op, nil
}

// ApplyLogged replays a single WAL operation into the store, decoding
// the value into the collection's native type. Used on startup; no
// change events are emitted and nothing is persisted.
func (s *Store) ApplyLogged(op LoggedOp) error {
	value, err := decodeLogged(op)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.dataMu.Lock()
	defer s.dataMu.Unlock()

	coll, ok := s.collections[op.Collection]
	if !ok {
		coll = make(map[string]any)
		s.collections[op.Collection] = coll
	}
	switch Op(op.Type) {
	case OpSet, OpUpdate:
		coll[op.Key] = value
	case OpDelete:
		delete(coll, op.Key)
	case OpClear:
		s.collections[op.Collection] = make(map[string]any)
	default:
		return fmt.Errorf("unknown logged operation %q", op.Type)
	}
	return nil
}

func decodeLogged(op LoggedOp) (any, error) {
	if op.Value == nil {
		return nil, nil
	}
	switch op.Collection {
	case CollectionWorkers:
		var w types.Worker
		if err := json.Unmarshal(op.Value, &w); err != nil {
			return nil, err
		}
		return &w, nil
	case CollectionTasks:
		var t types.Task
		if err := json.Unmarshal(op.Value, &t); err != nil {
			return nil, err
		}
		return &t, nil
	case CollectionAssignments:
		var a types.Assignment
		if err := json.Unmarshal(op.Value, &a); err != nil {
			return nil, err
		}
		return &a, nil
	case CollectionWorkerTasks:
		var set types.StringSet
		if err := json.Unmarshal(op.Value, &set); err != nil {
			return nil, err
		}
		return set, nil
	default:
		var v any
		if err := json.Unmarshal(op.Value, &v); err != nil {
			return nil, err
		}
		return v, nil
	}
}
