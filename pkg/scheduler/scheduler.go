package scheduler

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ry-ops/cortexd/pkg/bus"
	"github.com/ry-ops/cortexd/pkg/errdefs"
	"github.com/ry-ops/cortexd/pkg/events"
	"github.com/ry-ops/cortexd/pkg/log"
	"github.com/ry-ops/cortexd/pkg/metrics"
	"github.com/ry-ops/cortexd/pkg/store"
	"github.com/ry-ops/cortexd/pkg/types"
)

// MsgTaskAssigned is the bus message type carrying new assignments to
// worker sessions.
const MsgTaskAssigned = "task_assigned"

// Scheduler owns worker registration and the task lifecycle. Every
// multi-step mutation runs in a store transaction so the assignment
// and inverse-index invariants always land together; reads feeding a
// decision happen inside the transaction, never before it.
type Scheduler struct {
	store             *store.Store
	bus               *bus.Bus
	broker            *events.Broker
	core              *metrics.Core
	maxTasksPerWorker int
	logger            zerolog.Logger
}

// AssignResult is the outcome of a successful assignment
type AssignResult struct {
	OK               bool   `json:"ok"`
	TaskID           string `json:"taskId"`
	AssignedWorkerID string `json:"assignedWorkerId"`
}

// New creates a scheduler
func New(s *store.Store, b *bus.Bus, broker *events.Broker, core *metrics.Core, maxTasksPerWorker int) *Scheduler {
	return &Scheduler{
		store:             s,
		bus:               b,
		broker:            broker,
		core:              core,
		maxTasksPerWorker: maxTasksPerWorker,
		logger:            log.Component("scheduler"),
	}
}

// MaxTasksPerWorker returns the per-worker capacity limit
func (s *Scheduler) MaxTasksPerWorker() int {
	return s.maxTasksPerWorker
}

// RegisterWorker creates or replaces a worker record. Re-registration
// resets liveness and is the operator path out of the error status;
// task counters and the task index survive when the worker already
// exists.
func (s *Scheduler) RegisterWorker(id string, capabilities []string, metadata map[string]any) (*types.Worker, error) {
	if id == "" {
		return nil, errdefs.InvalidArgumentf("worker id required")
	}

	tx := s.store.Begin("register-worker")
	now := s.store.Now()
	worker := &types.Worker{
		ID:              id,
		Capabilities:    types.NewStringSet(capabilities...),
		Status:          types.WorkerStatusIdle,
		RegisteredAt:    now,
		LastHeartbeatAt: now,
		LastSeenAt:      now,
		Subscriptions:   types.NewStringSet(),
		Metadata:        metadata,
	}
	if prev, ok := s.store.GetWorker(id); ok {
		worker.ActiveTaskCount = prev.ActiveTaskCount
		worker.CompletedCount = prev.CompletedCount
		worker.FailedCount = prev.FailedCount
		worker.RegisteredAt = prev.RegisteredAt
		if worker.ActiveTaskCount > 0 {
			worker.Status = types.WorkerStatusBusy
		}
	}
	tx.Set(store.CollectionWorkers, id, worker)
	if !s.store.Has(store.CollectionWorkerTasks, id) {
		tx.Set(store.CollectionWorkerTasks, id, types.NewStringSet())
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.core.RecordOperation(0)
	s.broker.Emit(events.EventWorkerRegistered, "", "worker_id", id)
	s.logger.Info().Str("worker_id", id).Strs("capabilities", capabilities).Msg("Worker registered")
	return worker.Clone(), nil
}

// UnregisterWorker releases the worker's tasks back to pending and
// removes the worker.
func (s *Scheduler) UnregisterWorker(id string) error {
	return s.removeWorker(id, events.EventWorkerUnregistered)
}

// EvictWorker is the operator-forced variant of unregister
func (s *Scheduler) EvictWorker(id string) error {
	return s.removeWorker(id, events.EventWorkerEvicted)
}

func (s *Scheduler) removeWorker(id string, event events.EventType) error {
	tx := s.store.Begin("remove-worker")
	if _, ok := s.store.GetWorker(id); !ok {
		_ = tx.Rollback()
		return errdefs.NotFoundf("worker %s", id)
	}
	released := s.releaseTasks(tx, id)
	tx.Delete(store.CollectionWorkers, id)
	tx.Delete(store.CollectionWorkerTasks, id)
	if err := tx.Commit(); err != nil {
		return err
	}

	s.core.RecordOperation(0)
	s.broker.Emit(event, "", "worker_id", id)
	s.logger.Info().Str("worker_id", id).Int("released_tasks", released).Msg("Worker removed")
	return nil
}

// Heartbeat refreshes a worker's liveness. It can bring an offline
// worker back but never moves a worker out of error; that transition
// is operator-only (re-register).
func (s *Scheduler) Heartbeat(id string) (*types.Worker, error) {
	var updated *types.Worker
	found := s.store.Update(store.CollectionWorkers, id, func(old any) any {
		worker := old.(*types.Worker).Clone()
		now := s.store.Now()
		worker.LastHeartbeatAt = now
		worker.LastSeenAt = now
		if worker.Status != types.WorkerStatusError {
			if worker.ActiveTaskCount > 0 {
				worker.Status = types.WorkerStatusBusy
			} else {
				worker.Status = types.WorkerStatusIdle
			}
		}
		updated = worker
		return worker
	})
	if !found {
		return nil, errdefs.NotFoundf("worker %s", id)
	}
	return updated.Clone(), nil
}

// SetWorkerSubscriptions replaces the worker's state-change
// subscription topics.
func (s *Scheduler) SetWorkerSubscriptions(id string, topics []string) error {
	found := s.store.Update(store.CollectionWorkers, id, func(old any) any {
		worker := old.(*types.Worker).Clone()
		worker.Subscriptions = types.NewStringSet(topics...)
		return worker
	})
	if !found {
		return errdefs.NotFoundf("worker %s", id)
	}
	return nil
}

// MarkWorkerOffline flags a worker as unreachable without touching its
// assignments. Session close uses this; task reclamation stays with
// the liveness monitor so the worker can reconnect within the timeout.
func (s *Scheduler) MarkWorkerOffline(id string) {
	s.store.Update(store.CollectionWorkers, id, func(old any) any {
		worker := old.(*types.Worker).Clone()
		if worker.Status == types.WorkerStatusError {
			return old
		}
		worker.Status = types.WorkerStatusOffline
		worker.LastSeenAt = s.store.Now()
		return worker
	})
}

// MarkWorkerError moves a worker into the error status. Only a
// re-register clears it.
func (s *Scheduler) MarkWorkerError(id, reason string) error {
	found := s.store.Update(store.CollectionWorkers, id, func(old any) any {
		worker := old.(*types.Worker).Clone()
		worker.Status = types.WorkerStatusError
		worker.LastSeenAt = s.store.Now()
		return worker
	})
	if !found {
		return errdefs.NotFoundf("worker %s", id)
	}
	s.logger.Warn().Str("worker_id", id).Str("reason", reason).Msg("Worker marked as errored")
	return nil
}

// Assign schedules a task onto a worker. When preferredWorker is set
// it is validated strictly; otherwise the eligible worker with the
// smallest active task count wins, ties broken by lexicographic id.
// If no worker qualifies and the task is new, it is still created as
// pending so a later assign call can pick it up.
func (s *Scheduler) Assign(spec *types.TaskSpec, preferredWorker string) (*AssignResult, error) {
	if spec == nil {
		spec = &types.TaskSpec{}
	}
	timer := metrics.NewTimer()

	taskID := spec.ID
	if taskID == "" {
		taskID = uuid.New().String()
	}

	tx := s.store.Begin("assign-task")
	task, existed := s.store.GetTask(taskID)
	if existed {
		if task.Status.Terminal() {
			_ = tx.Rollback()
			return nil, errdefs.Preconditionf("task %s already %s", taskID, task.Status)
		}
		if task.Status.Active() {
			_ = tx.Rollback()
			return nil, errdefs.Preconditionf("task %s already assigned to %s", taskID, task.AssignedTo)
		}
	} else {
		task = s.newTask(taskID, spec)
	}

	worker, selectErr := s.selectWorker(task, preferredWorker)
	if selectErr != nil {
		// The task stays visible as pending even when nothing can run
		// it yet.
		if !existed {
			tx.Set(store.CollectionTasks, taskID, task)
			if err := tx.Commit(); err != nil {
				return nil, err
			}
		} else {
			_ = tx.Rollback()
		}
		return nil, selectErr
	}

	now := s.store.Now()
	task.Status = types.TaskStatusAssigned
	task.AssignedTo = worker.ID
	task.AssignedAt = now
	task.LastUpdateAt = now
	task.Progress = 0
	tx.Set(store.CollectionTasks, taskID, task)
	tx.Set(store.CollectionAssignments, taskID, &types.Assignment{
		TaskID:     taskID,
		WorkerID:   worker.ID,
		AssignedAt: now,
	})
	taskSet := s.store.WorkerTasks(worker.ID)
	taskSet.Add(taskID)
	tx.Set(store.CollectionWorkerTasks, worker.ID, taskSet)

	worker.ActiveTaskCount = taskSet.Len()
	worker.Status = types.WorkerStatusBusy
	tx.Set(store.CollectionWorkers, worker.ID, worker)
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.core.RecordOperation(timer.Duration())
	timer.ObserveDuration(metrics.SchedulingLatency)
	metrics.TasksScheduled.Inc()
	s.broker.Emit(events.EventTaskAssigned, "", "task_id", taskID, "worker_id", worker.ID)
	s.pushAssignment(worker.ID, task)

	taskLogger := log.WithTask(s.logger, taskID, worker.ID)
	taskLogger.Info().
		Str("priority", string(task.Priority)).
		Msg("Task assigned")
	return &AssignResult{OK: true, TaskID: taskID, AssignedWorkerID: worker.ID}, nil
}

func (s *Scheduler) newTask(taskID string, spec *types.TaskSpec) *types.Task {
	priority := spec.Priority
	if priority == "" {
		priority = types.PriorityNormal
	}
	return &types.Task{
		ID:                   taskID,
		Status:               types.TaskStatusPending,
		RequiredCapabilities: types.NewStringSet(spec.RequiredCapabilities...),
		Priority:             priority,
		Payload:              spec.Payload,
		CreatedAt:            s.store.Now(),
	}
}

// selectWorker finds the target for a task per the scheduling rules
func (s *Scheduler) selectWorker(task *types.Task, preferredWorker string) (*types.Worker, error) {
	if preferredWorker != "" {
		worker, ok := s.store.GetWorker(preferredWorker)
		if !ok {
			return nil, errdefs.NotFoundf("worker %s", preferredWorker)
		}
		switch {
		case worker.Status == types.WorkerStatusOffline || worker.Status == types.WorkerStatusError:
			return nil, errdefs.ErrWorkerOffline
		case worker.ActiveTaskCount >= s.maxTasksPerWorker:
			return nil, errdefs.ErrWorkerAtCapacity
		case !task.RequiredCapabilities.SubsetOf(worker.Capabilities):
			return nil, errdefs.ErrCapabilityMismatch
		}
		return worker, nil
	}

	var selected *types.Worker
	for _, worker := range s.store.ListWorkers() {
		if worker.Status != types.WorkerStatusIdle && worker.Status != types.WorkerStatusBusy {
			continue
		}
		if worker.ActiveTaskCount >= s.maxTasksPerWorker {
			continue
		}
		if !task.RequiredCapabilities.SubsetOf(worker.Capabilities) {
			continue
		}
		// ListWorkers is id-sorted, so strictly-smaller keeps the
		// lexicographic tie-break deterministic.
		if selected == nil || worker.ActiveTaskCount < selected.ActiveTaskCount {
			selected = worker
		}
	}
	if selected == nil {
		return nil, errdefs.ErrNoWorkersAvailable
	}
	return selected, nil
}

// pushAssignment hands the task to the session layer through the bus
func (s *Scheduler) pushAssignment(workerID string, task *types.Task) {
	if s.bus == nil {
		return
	}
	_, err := s.bus.Publish(MsgTaskAssigned, map[string]any{"task": task.Clone()}, bus.Options{
		Priority:  task.Priority,
		Recipient: workerID,
		Sender:    "scheduler",
		Guarantee: types.DeliveryAtLeastOnce,
	})
	if err != nil {
		s.logger.Error().Err(err).
			Str("task_id", task.ID).
			Str("worker_id", workerID).
			Msg("Failed to publish assignment")
	}
}
