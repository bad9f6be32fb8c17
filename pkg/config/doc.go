/*
Package config defines the daemon configuration surface, named
presets, YAML file loading, and environment variable overrides.

# Resolution order

Later layers override earlier ones:

	YAML file if --config was given, else a named preset or defaults
	  └─► CORTEXD_* environment variables
	        └─► CLI flags

A YAML file is read over DefaultConfig, not over a preset: when
--config is given, --preset has no effect.

# Keys

Bind addresses (httpPort, wsPort, host); persistence strategy
(memory-only, periodic-snapshot, write-ahead-log) with snapshotPath /
snapshotInterval / walPath / walSyncInterval; liveness
(heartbeatInterval, heartbeatTimeout); capacity (maxTasksPerWorker);
bus tuning (processingInterval, maxQueueSize, maxRetries, batchLimit);
and shutdownTimeout.

In YAML, durations accept either a Go duration string ("5s", "250ms")
or a bare integer interpreted as milliseconds; environment variables
accept the same two forms. Every key has a matching variable, e.g.
CORTEXD_HEARTBEAT_TIMEOUT.

# Presets

Four named presets cover the usual deployments:

	development        memory only, lenient heartbeat timeout
	production         periodic snapshots, moderate limits
	high-availability  WAL + snapshots, tight timeouts
	testing            memory only, very short timeouts

Each is DefaultConfig plus a handful of overrides; all validate.

# Validation

Validate rejects impossible combinations before the daemon starts:
ports out of range, unknown persistence modes, snapshot/WAL modes
without paths, zero capacity or queue size, and a heartbeat timeout
shorter than the heartbeat interval. Validation errors carry the
invalid-argument kind so CLI and API callers classify them uniformly.

# See also

  - pkg/daemon - consumes the resolved Config
  - cmd/cortexd - flag wiring and preset selection
*/
package config
