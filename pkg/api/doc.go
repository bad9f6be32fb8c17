/*
Package api exposes the operator request/response surface: every core
operation and the full daemon state as stateless JSON-over-HTTP calls.

Operators, masters, and orchestration tooling use this surface; workers
use the session channel instead. Each call runs against current state,
records a latency sample, and maps failures from the core error
taxonomy onto meaningful status codes.

# Routes

	GET  /health               liveness: status, uptime ms, version
	GET  /ready                readiness probe
	GET  /state                full snapshot: workers, tasks,
	                           assignments, metadata, counts
	GET  /metrics              JSON metrics (core + bus + persistence
	                           + store sub-metrics)
	GET  /metrics/prometheus   Prometheus exposition
	GET  /events               recent operator events (bounded ring)

	POST /workers/register     create or replace a worker record
	POST /workers/unregister   release tasks, remove worker
	POST /workers/evict        operator-forced removal
	GET  /workers              list workers
	GET  /workers/{id}         one worker

	POST /tasks/assign         schedule or reject; body {taskId?,
	                           workerId?, taskData?}
	POST /tasks/complete       terminal transition {taskId, result?}
	POST /tasks/fail           terminal transition {taskId, error?}
	POST /tasks/cancel         cancel pending or active task
	GET  /tasks                list tasks; ?status= filters
	GET  /tasks/{id}           one task

	POST /snapshot             force a persistence snapshot

# Error mapping

Failed calls return {"error": "..."} with a status derived from the
error kind: validation → 400, not found → 404, precondition or
capability mismatch → 409, capacity/queue-full/offline → 503,
timeout → 504, anything else → 500. No stack traces or internal paths
ever reach the response body.

Terminal transitions submitted here carry operator authority: they
bypass the per-worker ownership check that session-reported updates
are subject to (an operator completing a task is authoritative; a
worker completing a task it no longer owns is a late reply).

# Instrumentation

Every handler is wrapped once: a latency sample into the sliding
window behind GET /metrics, a Prometheus duration observation, and a
request counter labeled by operation and status code. Mutating
operations additionally count toward the operations counter inside the
scheduler, so operationsPerSecond reflects state changes rather than
reads.

# Concurrency

Handlers are stateless; concurrent invocations are safe because every
mutation they trigger runs inside a single store transaction. Request
bodies are capped at 1 MiB.

# Usage

	srv := api.NewServer(st, sched, engine, msgBus, broker, core, version)
	if err := srv.Start("0.0.0.0:8420"); err != nil { ... }
	...
	_ = srv.Stop(ctx)

Handler() returns the bare http.Handler for tests (httptest) and
embedders.

# See also

  - pkg/client - the Go client for this surface
  - pkg/session - the worker-facing duplex counterpart
  - pkg/errdefs - the taxonomy behind the status mapping
*/
package api
