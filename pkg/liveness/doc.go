/*
Package liveness detects dead workers and reclaims their tasks.

A worker that stops heartbeating - crashed, partitioned, or wedged -
must not hold its tasks forever. The monitor sweeps all workers on a
fixed interval and compares each worker's last heartbeat against the
configured timeout:

	every heartbeatInterval:
	  for each worker:
	    gap = now - lastHeartbeatAt
	    if gap <= heartbeatTimeout        → healthy, skip
	    if offline with no held tasks     → already handled, skip
	    otherwise                         → timeout:
	        mark offline, zero active count,
	        return every non-terminal task to pending
	        (previousWorker + reassignedAt lineage),
	        delete assignments, clear the task index,
	        emit worker-timeout

The whole timeout path is one scheduler transaction, so no observer
ever sees a half-reclaimed worker.

# Boundary behavior

The comparison is strictly greater-than: a heartbeat arriving exactly
at the timeout keeps the worker online; one millisecond past it, the
next sweep takes the worker down. Sweeps read the store's monotone
clock, so a system clock stepping backwards cannot spuriously expire
workers.

# Relationship to session close

Session close marks a worker offline immediately (no new assignments)
but does not reclaim tasks - that stays here, after the timeout
lapses. The sweep therefore also considers offline workers that still
hold tasks: those are exactly the closed-session workers whose grace
period ran out without a reconnect. A deployment wanting faster
failover after disconnects tightens heartbeatTimeout.

# Usage

	m := liveness.NewMonitor(st, sched, broker, interval, timeout)
	m.Start()
	defer m.Stop()

Sweep is exported for tests, which drive it directly against a fake
clock instead of waiting on the ticker.

# See also

  - pkg/scheduler - HandleWorkerTimeout, the transactional reclaim
  - pkg/session - the close semantics this monitor completes
*/
package liveness
