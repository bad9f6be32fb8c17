/*
Package store implements the authoritative in-memory state store at the
heart of cortexd.

Every entity the daemon coordinates - workers, tasks, assignments, and
the per-worker inverse index of assigned task ids - lives in one of the
store's keyed collections. All other components (scheduler, liveness
monitor, session layer, operator API) read and mutate state exclusively
through this package; none of them hold entity references of their own.

# Architecture

The store is a set of unordered keyed collections behind two locks and
a single monotone clock:

	┌───────────────────────────────────────────────────────────────┐
	│                           Store                               │
	│                                                               │
	│   workers      tasks      assignments   workerTasks  metadata │
	│   ┌───────┐   ┌───────┐   ┌──────────┐  ┌─────────┐  ┌──────┐ │
	│   │id → W │   │id → T │   │taskId→A  │  │wId→{t…} │  │k → v │ │
	│   └───────┘   └───────┘   └──────────┘  └─────────┘  └──────┘ │
	│                                                               │
	│   writeMu (one writer at a time, held across transactions)    │
	│   dataMu  (readers proceed concurrently between writes)       │
	│   clock   (monotone non-decreasing wall-clock ms)             │
	└───────┬───────────────────────────────────┬───────────────────┘
	        │ change events                     │ Record()
	        ▼ (synchronous, mutation order)     ▼ (buffer only, no I/O)
	┌──────────────────┐               ┌──────────────────────┐
	│  Subscribers     │               │  Persistence engine  │
	│  (session hub,   │               │  (snapshot / WAL)    │
	│   tests, ...)    │               └──────────────────────┘
	└──────────────────┘

Every mutation flows through the same pipeline: acquire the write
discipline, apply under the data lock, emit a Change to subscribers,
hand the operation to the persistence engine. Readers only ever take
the data lock, so reads stay cheap and concurrent while a writer is
between mutations.

# Collections

Five collections exist for the life of the daemon:

  - workers:      worker id → *types.Worker
  - tasks:        task id → *types.Task
  - assignments:  task id → *types.Assignment (exists only while the
    task is assigned or in progress)
  - workerTasks:  worker id → types.StringSet of task ids (the inverse
    index; its cardinality always equals the worker's ActiveTaskCount)
  - metadata:     opaque key → value carried for callers

Collections are unordered by design. Materialized views (ListWorkers,
ListTasks, ListAssignments) sort by id explicitly; anything relying on
order must go through them.

# Operations

The generic surface covers the usual keyed-collection verbs:

	v, ok := s.Get(store.CollectionTasks, "t1")
	s.Set(store.CollectionMetadata, "region", "eu-1")
	s.Update(store.CollectionMetadata, "cfg", func(old any) any {
		return store.MergeMaps(old.(map[string]any), patch)
	})
	s.Delete(store.CollectionTasks, "t1")
	s.Has(...)  s.Size(...)  s.Keys(...)
	s.GetAll(...)  s.GetAllEntries(...)  s.Clear(...)

Update takes a merge function rather than a patch object: the function
receives the current value and returns the replacement, which keeps
read-modify-write atomic under the write discipline. MergeMaps is the
shallow-merge helper for the metadata collection.

Typed accessors (GetWorker, ListTasks, WorkerTasks, ...) wrap the
generic surface and hand out clones, so callers may mutate what they
read and write it back without aliasing stored state.

# Write discipline and transactions

All mutations funnel through one exclusive writer at a time. Single
operations take the discipline for their own duration. Multi-step
mutations - assignment, completion, reassignment, anything that must
keep the task record, the assignment, the inverse index, and the
worker counters consistent - use explicit transactions:

	tx := s.Begin("assign-task")
	tx.Set(store.CollectionTasks, taskID, task)
	tx.Set(store.CollectionAssignments, taskID, assignment)
	tx.Set(store.CollectionWorkerTasks, workerID, taskSet)
	tx.Update(store.CollectionWorkers, workerID, bumpCounters)
	if err := tx.Commit(); err != nil { ... }

Begin blocks until the discipline is free and holds it until Commit or
Rollback, so no other writer can interleave with a transaction's steps
and no reader can ever observe a half-applied multi-step update
relative to other writers. Reads that feed a transactional decision
belong inside the transaction, after Begin, never before it.

On Begin the transaction captures nothing; the first touch of each
(collection, key) records a rollback snapshot of the previous value.
Mutations apply to in-memory state immediately and emit change events
in order. Commit forwards the recorded operation list to the
persistence engine and releases the discipline. Rollback walks the
touched keys in reverse order, restores each to its pre-transaction
value (emitting events for the restorations), discards the recorded
operations, and releases.

The write discipline is never held across I/O: the persistence
engine's Record hook only appends to an in-memory buffer; file writes
happen on the engine's own flush cadence against already-committed
values.

# Change events

Every mutation emits a Change{Collection, Key, Op, Value, Timestamp}
to subscribers, synchronously and in mutation order:

	unsubscribe := s.Subscribe(func(c store.Change) {
		// c.Topic() == "tasks:set", "workers:delete", ...
	})
	defer unsubscribe()

The event carries a reference to the stored value; consumers must
treat it as immutable until the next event for the same key. Because
callbacks run on the writer's goroutine while the discipline is held,
they must be fast and must never mutate the store - enqueueing into a
channel (as the session hub does) is the intended pattern. Reads from
a callback are safe.

# Time

The store owns the daemon's single time source. Now() returns
wall-clock milliseconds clamped to be monotone non-decreasing, so
entity timestamps never move backwards even if the system clock does.
Tie-breaks between equal timestamps fall back to mutation order.
SetClock injects a fake clock in tests:

	clock := int64(10000)
	s.SetClock(func() int64 { return clock })

# Snapshots and replay

Export materializes the full state as a Snapshot - the serialized
layout with workers, tasks, assignments, workerTasks (sets written as
sorted arrays), metadata, timestamps, and an ISO-8601
snapshot_timestamp. Import replaces in-memory state wholesale from a
Snapshot; it runs on startup before any writers and emits no events.

For the write-ahead log, EncodeLogged converts a committed Change into
its wire form (values marshaled eagerly, so later in-memory changes
cannot alter what was logged) and ApplyLogged replays one logged
operation, decoding the value into the owning collection's native
type. Round-tripping Export/Import, or replaying an encoded change
stream into a fresh store, reproduces equal state modulo array order
inside serialized sets.

# Failure semantics

The store is authoritative; persistence is derived. A failing
persistence engine is logged and surfaced through the engine's own
event channel, but the in-memory mutation that triggered it is never
reverted and never blocked. Rollback exists for the caller's benefit
(abandoning a multi-step mutation midway), not for persistence
failures.

# Integration points

  - pkg/scheduler opens transactions for every invariant-coupled
    mutation and uses Update for single read-modify-writes
    (heartbeats, status flips).
  - pkg/session subscribes to change events and fans matching ones out
    to workers as state_change frames.
  - pkg/persistence implements Persister, consumes Export for
    snapshots, and drives Import/ApplyLogged on startup.
  - pkg/api serves ListWorkers/ListTasks/ListAssignments as the
    /state endpoint and collection sizes as store sub-metrics.

# Usage examples

Reading and mutating through the typed surface:

	st := store.New()

	st.Set(store.CollectionWorkers, "w1", &types.Worker{
		ID:           "w1",
		Capabilities: types.NewStringSet("dev"),
		Status:       types.WorkerStatusIdle,
	})

	worker, ok := st.GetWorker("w1") // a clone; mutate freely
	worker.Status = types.WorkerStatusBusy
	st.Set(store.CollectionWorkers, "w1", worker)

A multi-step mutation with rollback on failure:

	tx := st.Begin("cancel-task")
	task, ok := st.GetTask(taskID) // read inside the transaction
	if !ok {
		_ = tx.Rollback()
		return errdefs.NotFoundf("task %s", taskID)
	}
	task.Status = types.TaskStatusCancelled
	tx.Set(store.CollectionTasks, taskID, task)
	tx.Delete(store.CollectionAssignments, taskID)
	return tx.Commit()

Observing changes from a test:

	var got []store.Change
	unsubscribe := st.Subscribe(func(c store.Change) {
		got = append(got, c)
	})
	defer unsubscribe()
	// mutations now append to got in order

# Design patterns

Single writer, concurrent readers. One mutation pipeline means
invariants only need to be argued at one choke point; the cost is that
transactions must stay short and CPU-only, which the suspension rules
above enforce (no I/O, no blocking sends under the discipline).

Clone-on-read, replace-on-write. Stored values are never mutated in
place. Readers get clones; writers construct the replacement and Set
it. This is what lets change events hand out direct references safely:
a stored value cannot change after the event that announced it, only
be replaced by a later event.

Derived indexes move with their owners. The assignments and
workerTasks collections are derived from task state; every code path
that changes one inside a transaction changes the others in the same
transaction. No reconciliation pass exists to fix divergence, because
divergence is made unrepresentable at commit granularity.

# Performance characteristics

Reads are map lookups under a reader-writer lock plus a clone of the
returned entity. Writes serialize on the discipline; the emit step
costs one synchronous callback per subscriber (the daemon registers
exactly one, the session hub). List* is O(n log n) for the sort.
Nothing in the write path allocates proportionally to state size
except Export, which is only taken by the snapshot engine on its own
cadence and by /state reads.

For the daemon's target of a thousand state-changing operations per
second, the discipline is nowhere near contended: an assign
transaction performs four map writes, four snapshot captures, and four
callback invocations - single-digit microseconds of held-lock time.

# Troubleshooting

A reader sees stale state:

  - reads between another writer's transaction steps are impossible,
    but a value read before Begin can be stale by commit time; move
    the read inside the transaction.

Deadlock on Begin:

  - Begin inside an open transaction on the same goroutine self-locks;
    single operations (Set/Update/Delete) do the same. Inside a
    transaction, mutate through the Tx handle only.

Change events missing:

  - Import and ApplyLogged intentionally emit nothing; they run before
    subscribers exist. Everything after startup emits.

# See also

  - pkg/persistence - the engines behind the Persister hook
  - pkg/scheduler - the main transactional writer
  - pkg/session - the main change-event consumer
  - pkg/types - the entities stored here
*/
package store
