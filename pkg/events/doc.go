/*
Package events provides the operator-visible event feed.

Components emit advisory events - task assigned, worker timed out,
persistence failed, message expired - that operators and masters
observe without polling entity state. Two consumption paths exist:

  - in-process subscribers receive events on buffered channels,
    fanned out by a background loop;
  - the operator API serves recent events from a bounded ring
    (GET /events), newest last.

# Delivery semantics

Events here are advisory and lossy by design. Publish never blocks: a
subscriber whose buffer is full simply misses events, and the ring
overwrites its oldest entry once full (1000 entries). Anything needing
ordering or delivery guarantees belongs on the store's change
subscription (ordered, synchronous) or the message bus (tracked
delivery) instead - this package is the daemon's noticeboard, not its
data path.

# Event set

Worker lifecycle: worker-registered, worker-unregistered,
worker-timeout, worker-evicted. Task lifecycle: task-assigned,
task-completed, task-failed, task-cancelled, task-reassigned.
Infrastructure: persistence-error, message-failed, message-expired,
delivery-error, invariant-violation.

Each event carries a generated id, a type, an epoch-ms timestamp, an
optional human-readable message, and flat string metadata (entity ids,
paths).

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)
	go func() {
		for ev := range sub { ... }
	}()

	broker.Emit(events.EventTaskAssigned, "", "task_id", "t1", "worker_id", "w1")
	recent := broker.Recent(100)

Emit is the shorthand most components use: a type, a message, and
alternating metadata key/value pairs. Recent works without Start, so
the ring is usable even before the fan-out loop runs.

# See also

  - pkg/store - ordered change events with stronger semantics
  - pkg/bus - tracked message delivery
  - pkg/api - the /events endpoint over the ring
*/
package events
