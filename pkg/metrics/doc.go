/*
Package metrics exposes cortexd observability on two complementary
surfaces.

# Prometheus collectors

Package-level collectors, registered once at init, cover the fleet
(workers and tasks by status, active sessions), the API (request
counts and durations by operation), the scheduler (scheduling latency,
scheduled/reassigned counters), the bus (queue depth by priority,
message outcomes), liveness (sweep and timeout counters), and
persistence (snapshots, errors). Handler() returns the promhttp
handler the operator API mounts at /metrics/prometheus.

Not every registered collector is fed: nothing sets the worker and
task gauges by status or increments the persistence error counter,
and the snapshot counter counts only snapshots forced through the
operator API, not the periodic ones.

The Timer helper times an operation into a histogram:

	timer := metrics.NewTimer()
	...
	timer.ObserveDuration(metrics.SchedulingLatency)
	timer.ObserveDurationVec(metrics.APIRequestDuration, "assign-task")

# Daemon-scoped core

Core holds the counters behind the JSON GET /metrics endpoint: the
monotone operations counter, tasks processed and failed, uptime, the
derived operations-per-second rate, and a bounded ring of latency
samples (1000 entries) yielding a sliding average. One Core instance
lives per daemon - deliberately not process-global, so parallel
daemons in one test binary never share counters.

RecordOperation counts a state-changing operation and samples its
latency; RecordLatency samples without counting, and the API layer
calls it once for every request. Snapshot materializes the current values;
the API attaches bus, persistence, and store sub-metrics to it before
serving.

# See also

  - pkg/api - serves both surfaces
  - pkg/scheduler, pkg/bus, pkg/persistence - the main producers
*/
package metrics
