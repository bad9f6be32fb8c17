package scheduler

import (
	"github.com/ry-ops/cortexd/pkg/errdefs"
	"github.com/ry-ops/cortexd/pkg/events"
	"github.com/ry-ops/cortexd/pkg/log"
	"github.com/ry-ops/cortexd/pkg/metrics"
	"github.com/ry-ops/cortexd/pkg/store"
	"github.com/ry-ops/cortexd/pkg/types"
)

// Complete records a task's successful terminal transition. A
// non-empty reporter must be the current assignee; late replies from a
// worker the task was reassigned away from are rejected.
func (s *Scheduler) Complete(taskID string, result map[string]any, reporter string) error {
	tx := s.store.Begin("complete-task")
	task, err := s.takeActiveTask(tx, taskID, reporter)
	if err != nil {
		return err
	}

	now := s.store.Now()
	workerID := task.AssignedTo
	task.Status = types.TaskStatusCompleted
	task.Result = result
	task.Progress = 100
	task.CompletedAt = now
	task.LastUpdateAt = now
	task.AssignedTo = ""
	tx.Set(store.CollectionTasks, taskID, task)
	s.detach(tx, taskID, workerID, outcomeCompleted)
	if err := tx.Commit(); err != nil {
		return err
	}

	s.core.RecordOperation(0)
	s.core.TaskProcessed()
	s.broker.Emit(events.EventTaskCompleted, "", "task_id", taskID, "worker_id", workerID)
	taskLogger := log.WithTask(s.logger, taskID, workerID)
	taskLogger.Info().Msg("Task completed")
	return nil
}

// Fail records a task's failed terminal transition
func (s *Scheduler) Fail(taskID string, errMsg string, reporter string) error {
	tx := s.store.Begin("fail-task")
	task, err := s.takeActiveTask(tx, taskID, reporter)
	if err != nil {
		return err
	}

	now := s.store.Now()
	workerID := task.AssignedTo
	task.Status = types.TaskStatusFailed
	task.Error = errMsg
	task.FailedAt = now
	task.LastUpdateAt = now
	task.AssignedTo = ""
	tx.Set(store.CollectionTasks, taskID, task)
	s.detach(tx, taskID, workerID, outcomeFailed)
	if err := tx.Commit(); err != nil {
		return err
	}

	s.core.RecordOperation(0)
	s.core.TaskFailed()
	s.broker.Emit(events.EventTaskFailed, errMsg, "task_id", taskID, "worker_id", workerID)
	taskLogger := log.WithTask(s.logger, taskID, workerID)
	taskLogger.Warn().Str("error", errMsg).Msg("Task failed")
	return nil
}

// Cancel moves a pending or active task to the cancelled terminal
// state, releasing its assignment if one exists.
func (s *Scheduler) Cancel(taskID string) error {
	tx := s.store.Begin("cancel-task")
	task, ok := s.store.GetTask(taskID)
	if !ok {
		_ = tx.Rollback()
		return errdefs.NotFoundf("task %s", taskID)
	}
	if task.Status.Terminal() {
		_ = tx.Rollback()
		return errdefs.Preconditionf("task %s already %s", taskID, task.Status)
	}

	now := s.store.Now()
	workerID := task.AssignedTo
	task.Status = types.TaskStatusCancelled
	task.AssignedTo = ""
	task.LastUpdateAt = now
	tx.Set(store.CollectionTasks, taskID, task)
	if workerID != "" {
		s.detach(tx, taskID, workerID, outcomeNone)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	s.core.RecordOperation(0)
	s.broker.Emit(events.EventTaskCancelled, "", "task_id", taskID)
	s.logger.Info().Str("task_id", taskID).Msg("Task cancelled")
	return nil
}

// UpdateProgress records worker-reported progress. Updates are only
// honored while the task is active and the reporter is the current
// assignee; anything else is silently ignored so stale reports from
// reassigned workers cannot corrupt state. Progress is monotone within
// an assignment episode.
func (s *Scheduler) UpdateProgress(taskID string, progress int, reporter string) error {
	if progress < 0 || progress > 100 {
		return errdefs.InvalidArgumentf("progress %d out of range", progress)
	}
	s.store.Update(store.CollectionTasks, taskID, func(old any) any {
		task := old.(*types.Task).Clone()
		if !task.Status.Active() {
			return old
		}
		if reporter != "" && task.AssignedTo != reporter {
			return old
		}
		if progress < task.Progress {
			return old
		}
		task.Status = types.TaskStatusInProgress
		task.Progress = progress
		task.LastUpdateAt = s.store.Now()
		return task
	})
	return nil
}

// HandleWorkerTimeout marks a silent worker offline and returns its
// unfinished tasks to pending with reassignment lineage, all in one
// transaction. Returns the number of tasks released.
func (s *Scheduler) HandleWorkerTimeout(workerID string) int {
	tx := s.store.Begin("worker-timeout")
	if _, ok := s.store.GetWorker(workerID); !ok {
		_ = tx.Rollback()
		return 0
	}
	released := s.releaseTasks(tx, workerID)
	tx.Update(store.CollectionWorkers, workerID, func(old any) any {
		worker := old.(*types.Worker).Clone()
		worker.Status = types.WorkerStatusOffline
		worker.LastSeenAt = s.store.Now()
		worker.ActiveTaskCount = 0
		return worker
	})
	if err := tx.Commit(); err != nil {
		return released
	}
	s.core.RecordOperation(0)
	return released
}

// releaseTasks performs the reassignment sweep inside an open
// transaction.
func (s *Scheduler) releaseTasks(tx *store.Tx, workerID string) int {
	released := 0
	now := s.store.Now()
	for _, taskID := range s.store.WorkerTasks(workerID).Sorted() {
		task, ok := s.store.GetTask(taskID)
		if !ok || task.Status.Terminal() {
			continue
		}
		task.Status = types.TaskStatusPending
		task.PreviousWorker = workerID
		task.ReassignedAt = now
		task.AssignedTo = ""
		task.Progress = 0
		task.LastUpdateAt = now
		tx.Set(store.CollectionTasks, taskID, task)
		tx.Delete(store.CollectionAssignments, taskID)
		metrics.TasksReassigned.Inc()
		s.broker.Emit(events.EventTaskReassigned, "", "task_id", taskID, "previous_worker", workerID)
		released++
	}
	tx.Set(store.CollectionWorkerTasks, workerID, types.NewStringSet())
	return released
}

// takeActiveTask validates a terminal transition inside an open
// transaction: the task must exist, must be active, and when a
// reporter is named it must still own the task. On failure the
// transaction is rolled back.
func (s *Scheduler) takeActiveTask(tx *store.Tx, taskID, reporter string) (*types.Task, error) {
	task, ok := s.store.GetTask(taskID)
	if !ok {
		_ = tx.Rollback()
		return nil, errdefs.NotFoundf("task %s", taskID)
	}
	if task.Status.Terminal() {
		_ = tx.Rollback()
		return nil, errdefs.Preconditionf("task %s already %s", taskID, task.Status)
	}
	if !task.Status.Active() {
		_ = tx.Rollback()
		return nil, errdefs.Preconditionf("task %s is not assigned", taskID)
	}
	if reporter != "" && task.AssignedTo != reporter {
		_ = tx.Rollback()
		return nil, errdefs.Preconditionf("task %s is owned by %s", taskID, task.AssignedTo)
	}
	return task, nil
}

type outcome int

const (
	outcomeCompleted outcome = iota
	outcomeFailed
	outcomeNone
)

// detach removes the assignment artifacts for a finished task and
// refreshes the owning worker's counters inside the transaction.
func (s *Scheduler) detach(tx *store.Tx, taskID, workerID string, result outcome) {
	tx.Delete(store.CollectionAssignments, taskID)

	taskSet := s.store.WorkerTasks(workerID)
	taskSet.Remove(taskID)
	tx.Set(store.CollectionWorkerTasks, workerID, taskSet)

	tx.Update(store.CollectionWorkers, workerID, func(old any) any {
		worker := old.(*types.Worker).Clone()
		worker.ActiveTaskCount = taskSet.Len()
		if worker.Status == types.WorkerStatusBusy && worker.ActiveTaskCount == 0 {
			worker.Status = types.WorkerStatusIdle
		}
		switch result {
		case outcomeCompleted:
			worker.CompletedCount++
		case outcomeFailed:
			worker.FailedCount++
		}
		worker.LastSeenAt = s.store.Now()
		return worker
	})
}
