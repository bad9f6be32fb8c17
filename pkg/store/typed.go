package store

import (
	"sort"

	"github.com/ry-ops/cortexd/pkg/types"
)

// Typed accessors over the generic collections. Reads hand out clones
// so callers can mutate freely and write back; the stored values stay
// immutable between changes.

// GetWorker returns a copy of a worker record
func (s *Store) GetWorker(id string) (*types.Worker, bool) {
	v, ok := s.Get(CollectionWorkers, id)
	if !ok {
		return nil, false
	}
	return v.(*types.Worker).Clone(), true
}

// ListWorkers returns copies of all workers sorted by id
func (s *Store) ListWorkers() []*types.Worker {
	values := s.GetAll(CollectionWorkers)
	workers := make([]*types.Worker, 0, len(values))
	for _, v := range values {
		workers = append(workers, v.(*types.Worker).Clone())
	}
	sort.Slice(workers, func(i, j int) bool { return workers[i].ID < workers[j].ID })
	return workers
}

// GetTask returns a copy of a task record
func (s *Store) GetTask(id string) (*types.Task, bool) {
	v, ok := s.Get(CollectionTasks, id)
	if !ok {
		return nil, false
	}
	return v.(*types.Task).Clone(), true
}

// ListTasks returns copies of all tasks sorted by id
func (s *Store) ListTasks() []*types.Task {
	values := s.GetAll(CollectionTasks)
	tasks := make([]*types.Task, 0, len(values))
	for _, v := range values {
		tasks = append(tasks, v.(*types.Task).Clone())
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks
}

// GetAssignment returns the assignment for a task id
func (s *Store) GetAssignment(taskID string) (*types.Assignment, bool) {
	v, ok := s.Get(CollectionAssignments, taskID)
	if !ok {
		return nil, false
	}
	a := *v.(*types.Assignment)
	return &a, true
}

// ListAssignments returns all assignments sorted by task id
func (s *Store) ListAssignments() []*types.Assignment {
	values := s.GetAll(CollectionAssignments)
	assignments := make([]*types.Assignment, 0, len(values))
	for _, v := range values {
		a := *v.(*types.Assignment)
		assignments = append(assignments, &a)
	}
	sort.Slice(assignments, func(i, j int) bool { return assignments[i].TaskID < assignments[j].TaskID })
	return assignments
}

// WorkerTasks returns a copy of the task id set assigned to a worker
func (s *Store) WorkerTasks(workerID string) types.StringSet {
	v, ok := s.Get(CollectionWorkerTasks, workerID)
	if !ok {
		return types.NewStringSet()
	}
	return v.(types.StringSet).Clone()
}

// MergeMaps shallow-merges patch over base into a new map; it is the
// merge function used for the metadata collection's update operation.
func MergeMaps(base, patch map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(patch))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range patch {
		merged[k] = v
	}
	return merged
}
