/*
Package scheduler matches tasks to eligible workers and drives the task
lifecycle for cortexd.

The scheduler owns every state transition that touches the
task/worker/assignment triangle: worker registration and removal,
task assignment, progress updates, terminal transitions (complete,
fail, cancel), and the reassignment sweeps that reclaim tasks from
dead workers. Each of these runs inside a store transaction so the
task record, the assignment, the per-worker task index, and the worker
counters always change together.

# Architecture

Unlike a cycle-based placement loop, assignment here is demand-driven:
every operator assign call or reassignment request resolves
immediately against current state.

	 POST /tasks/assign              session task_update frames
	        │                                  │
	        ▼                                  ▼
	┌───────────────────────────────────────────────────────────┐
	│                       Scheduler                           │
	│                                                           │
	│  Assign ──► select worker ──► transactional commit        │
	│  Complete / Fail / Cancel ──► terminal transition         │
	│  UpdateProgress ──► guarded in-place update               │
	│  RegisterWorker / UnregisterWorker / EvictWorker          │
	│  HandleWorkerTimeout ──► release tasks to pending         │
	└──────┬──────────────────────────┬─────────────────────────┘
	       │ store transactions       │ directed bus message
	       ▼                          ▼
	┌─────────────┐          ┌──────────────────┐
	│ state store │          │   message bus    │──► session hub
	│ (4 indexes) │          │ ("task_assigned")│    ──► worker
	└─────────────┘          └──────────────────┘

# Worker selection

Assign resolves a target in one of two ways.

With a preferred worker, validation is strict and the worker is never
silently substituted:

	exists?            → not found
	offline or error?  → worker offline
	at capacity?       → worker at capacity
	missing required capabilities? → capability mismatch

Without one, the candidate set is filtered and the least-loaded
eligible worker wins:

 1. Keep workers with status idle or busy (never offline or error).
 2. Keep workers with ActiveTaskCount below the per-worker cap.
 3. Keep workers whose capability set contains every required
    capability of the task (subset match over string tags).
 4. Pick the smallest ActiveTaskCount; ties break by lexicographic
    worker id, so selection is fully deterministic.

When nothing qualifies the caller gets a typed failure
(no workers available), and - if the task was new - the task is still
created as pending so a later assign call can pick it up once capacity
or capability appears.

# Task lifecycle

	           Assign                first progress report
	 (created)───────► assigned ────────────► in_progress
	    │ pending          │                       │
	    ▲                  │ Complete / Fail / Cancel
	    │ reassignment     ▼                       ▼
	    └───────────── released            completed / failed /
	      (lineage kept)                      cancelled (terminal)

A task reaches a terminal state exactly once. A second terminal
transition is rejected with a precondition failure and changes
nothing. Reassignment returns the task to pending with lineage
(PreviousWorker, ReassignedAt) and resets progress for the next
assignment episode.

Progress updates are deliberately forgiving: an update is honored only
while the task is active and the reporter is the current assignee, and
only when it does not decrease progress within the episode. Anything
else - a stale report from a worker the task was reassigned away from,
a regressed percentage - is silently ignored rather than failed, so
slow workers cannot corrupt state and need no special shutdown
protocol. Terminal reports from a former owner, in contrast, are
rejected loudly with a precondition failure, because the caller needs
to know its result was discarded.

# Worker lifecycle

RegisterWorker creates or replaces the record. Replacement keeps the
task counters and the task index (a reconnecting worker resumes where
it left off), resets liveness timestamps, installs fresh
subscriptions, and is the only path out of the error status - which is
exactly why heartbeats must never clear it.

Heartbeat refreshes LastHeartbeatAt and derives status from the active
count (busy when tasks are held, idle otherwise). It can bring an
offline worker back but leaves an errored worker errored.

UnregisterWorker and EvictWorker share one implementation: release
every non-terminal task back to pending with lineage, delete the
worker and its index entry, emit the respective event. Eviction exists
so operators can force out a worker that still heartbeats.

HandleWorkerTimeout is the liveness monitor's entry point: one
transaction marks the worker offline, zeroes its active count, and
releases its tasks.

# Usage

	sched := scheduler.New(st, msgBus, broker, core, maxTasksPerWorker)

	worker, err := sched.RegisterWorker("w1", []string{"dev"}, nil)
	result, err := sched.Assign(&types.TaskSpec{
		ID:                   "t1",
		RequiredCapabilities: []string{"dev"},
		Priority:             types.PriorityHigh,
	}, "")
	// result.AssignedWorkerID == "w1"

	err = sched.UpdateProgress("t1", 40, "w1")
	err = sched.Complete("t1", map[string]any{"ok": true}, "w1")

The reporter argument on Complete/Fail/UpdateProgress is the worker id
claiming the update; the operator API passes "" to assert authority
over ownership checks.

# Assignment push

After a successful commit, the scheduler publishes a directed
"task_assigned" message on the bus - priority inherited from the task,
at-least-once delivery, recipient set to the chosen worker. The
session hub subscribes each connected worker to that type and acks on
write, so the bus's retry machinery covers the daemon→worker push
without the scheduler knowing whether a session is currently open.

# Integration points

  - pkg/store: every mutation, all through transactions or Update.
  - pkg/bus: assignment pushes (directed, at-least-once).
  - pkg/events: task-assigned / task-completed / task-failed /
    task-reassigned / worker-* events for the operator feed.
  - pkg/liveness: calls HandleWorkerTimeout from its sweep.
  - pkg/session: translates task_update frames into Complete / Fail /
    UpdateProgress with the session's worker id as reporter.
  - pkg/metrics: scheduling latency histogram, scheduled/reassigned
    counters, the operations counter.

# Invariants maintained

For every reachable state:

  - a task is in {assigned, in_progress} exactly when one assignment
    record exists for it, it appears in exactly one worker's task
    index, and its AssignedTo names that worker;
  - a worker's ActiveTaskCount equals the cardinality of its task
    index and never exceeds the per-worker cap;
  - every live assignment satisfies capability containment;
  - CompletedCount and FailedCount never decrease.

The test suite asserts these with a checkInvariants helper after every
scenario; new transitions added here should do the same.

# Performance characteristics

Assignment is O(W) over registered workers for the filter-and-pick
scan plus a constant number of map writes inside the transaction. No
background goroutine exists in this package; cost is incurred only on
operations. The scheduling-latency histogram tracks the end-to-end
assign path; under the daemon's targets it sits far below a
millisecond for fleets of hundreds of workers.

# Testing scheduler behavior

The package tests build a scheduler over a bare store and assert the
bookkeeping after every scenario:

	sched := scheduler.New(store.New(), nil, events.NewBroker(),
		metrics.NewCore(), 3)

	_, _ = sched.RegisterWorker("w1", []string{"dev"}, nil)
	_, _ = sched.RegisterWorker("w2", []string{"dev"}, nil)

	// Both idle: the lexicographic tie-break picks w1,
	// then the least-loaded rule picks w2.
	r1, _ := sched.Assign(&types.TaskSpec{ID: "t1"}, "")
	r2, _ := sched.Assign(&types.TaskSpec{ID: "t2"}, "")
	// r1.AssignedWorkerID == "w1", r2.AssignedWorkerID == "w2"

A nil bus is accepted: assignment pushes are skipped, which keeps unit
tests free of the processing loop. Time-dependent behavior (liveness
boundaries, heartbeat idempotence) is driven through the store's
injectable clock rather than sleeps.

# Monitoring

Prometheus: cortex_scheduling_latency_seconds,
cortex_tasks_scheduled_total and cortex_tasks_reassigned_total; the
status-labeled worker/task gauges are registered but this package does
not set them. JSON metrics: the operations
counter and totals for processed and failed tasks. Operator events:
every transition emits its typed event with entity ids in metadata, so
the /events feed doubles as an audit trail of scheduling decisions.

# Best practices

 1. Capacity: set maxTasksPerWorker from measured worker concurrency,
    not optimism - the cap is the only thing standing between a hot
    worker and unbounded pile-up, and NoWorkersAvailable is the signal
    to scale out.
 2. Capabilities: keep tags coarse (security, development, ci) -
    matching is exact subset, so every new tag fragments the worker
    pool.
 3. Preferred workers: reserve for affinity that the daemon cannot
    see (data locality, licensed tooling); preferred assignment skips
    load balancing entirely.
 4. Retry policy: the scheduler does not auto-reassign after
    reassignment events; the issuing master owns retry cadence and
    should re-invoke assign on task-reassigned.

# Troubleshooting

No workers available on every assign:

  - list workers and check status - offline and error workers are
    never candidates;
  - compare the task's requiredCapabilities against worker capability
    sets (matching is exact string subset, not substring);
  - check ActiveTaskCount against maxTasksPerWorker.

Task stuck pending after a worker died:

  - reassignment only returns the task to pending; something must call
    assign again (masters typically retry on the task-reassigned
    event).

Late completion rejected:

  - a precondition failure on Complete/Fail from a worker means the
    task was reassigned away; the result was discarded by design.

# See also

  - pkg/store - transactional state the scheduler mutates
  - pkg/liveness - detects the dead workers this package reclaims from
  - pkg/session - delivers assignments and reports updates
  - pkg/bus - the delivery channel for assignment pushes
*/
package scheduler
