/*
Package persistence provides the pluggable strategies that back the
in-memory state store with durable files.

The store stays authoritative at all times; persistence is a derived
concern. Every engine is best-effort by contract: failures surface as
persistence-error events and error counters, never as blocked or
reverted in-memory operations.

# Strategies

Three engines implement the same interface, selected by configuration
at daemon start:

	memory-only         no I/O at all; Record, Snapshot, Load are no-ops
	periodic-snapshot   full-state JSON written on an interval
	write-ahead-log     per-mutation log lines plus periodic snapshots

# Architecture

	           Store.Record (write path, buffer only)
	                        │
	                        ▼
	┌──────────────────────────────────────────────────────────┐
	│                     WALEngine                            │
	│  in-memory buffer ──flush ticker──► wal.log (JSON lines) │
	│                                                          │
	│  snapshot ticker ──► Export ──► state.json.tmp           │
	│                        │            │ fsync + rename     │
	│                        │            ▼                    │
	│                        └──────► state.json ──► truncate  │
	│                                                 wal.log  │
	└──────────────────────────────────────────────────────────┘

	startup: Load = read state.json ──► Import
	         then replay wal.log entries newer than the snapshot

The snapshot engine is the same machinery without the log: a ticker,
Export, and an atomic file replace (temp file, fsync, rename - via
google/renameio). A snapshot can also be forced at any time through
POST /snapshot or cortexd snapshot.

# File formats

The snapshot file is one JSON object: workers, tasks, assignments,
workerTasks (worker id → sorted array of task ids), metadata, a
timestamps block, an ISO-8601 snapshot_timestamp, and optional
metrics. Sets serialize as sorted arrays and reconstitute as sets on
load, so a snapshot round-trip is equality modulo array order.

The WAL is one JSON object per line:

	{"operation":{"type":"set","collection":"tasks","key":"t1","value":{...}},
	 "timestamp":1722600000123}

Values are encoded at Record time, so later in-memory changes cannot
alter what was logged. Replay skips entries at or before the
snapshot's export timestamp, corrupt lines, and operations that no
longer decode - each skip is logged, none aborts startup.

# Failure handling

A failed snapshot increments the error counter and emits a
persistence-error event; the previous snapshot file is untouched
because the write is atomic. A failed WAL flush restores the batch to
the head of the buffer, in order, for the next tick - entries are
never dropped on a transient I/O error, at the cost of buffer growth
while the disk is unavailable (visible as walBufferSize in stats).

# Lifecycle

	engine := persistence.NewWALEngine(st, broker, snapPath, walPath,
		snapshotInterval, syncInterval)
	if err := engine.Load(st); err != nil { ... } // before any writers
	st.SetPersister(engine)
	engine.Start()
	...
	engine.Stop() // final flush + final snapshot + truncate

Stop is idempotent and always leaves the most complete state the disk
will accept: outstanding buffer flushed, a closing snapshot written,
the WAL truncated on success.

# Stats

Stats() reports the strategy name, snapshots written, WAL entries
flushed, current buffer depth, and error count; the operator API
serves it as the persistence sub-metrics block.

# See also

  - pkg/store - Export/Import and the logged-operation codec
  - pkg/events - where persistence-error events surface
  - pkg/config - strategy selection and intervals
*/
package persistence
