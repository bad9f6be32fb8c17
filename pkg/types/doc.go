/*
Package types defines the entities shared across the cortexd daemon.

All cross-references between entities are opaque id strings resolved
through the state store; no entity holds a pointer to another. The
package is dependency-free within the module so every layer - store,
scheduler, session, API, client - can speak the same vocabulary.

# Entities

Worker is a registered worker process: capability set, derived status
(idle, busy, offline, error), active/completed/failed counters,
liveness timestamps, subscription topics, and opaque metadata.

Task is a unit of work tracked through its lifecycle: pending →
assigned → in_progress → exactly one of completed / failed /
cancelled, with reassignment returning it to pending carrying lineage
(PreviousWorker, ReassignedAt). RequiredCapabilities is matched as a
subset of the worker's capability set; Payload is carried opaquely.

Assignment is the live (taskId → workerId) relation, existing only
while the task is assigned or in progress.

TaskSpec is the caller-facing description handed to the scheduler;
Priority and DeliveryGuarantee are the shared enumerations used by the
scheduler and the bus.

# Conventions

Timestamps are epoch milliseconds (int64) end to end - the serialized
form everywhere is numeric epoch ms, so nothing converts at
boundaries. Status enums are typed strings with predicate methods
(Terminal, Active, Rank) rather than iota integers, matching their
wire form.

StringSet wraps a real set (deckarep/golang-set) but serializes as a
sorted JSON array and reconstitutes as a set, so sets compare equal
across snapshot round-trips regardless of iteration order. The zero
value is safe to read (empty) but not to mutate; construct with
NewStringSet.

Worker and Task carry Clone methods; the store hands out clones on
read so callers may mutate and write back without aliasing stored
state.
*/
package types
