/*
Package session implements the per-worker duplex channel over
WebSocket: the daemon side of the worker protocol.

Workers hold exactly one live session each. Through it they register,
heartbeat, report task progress and terminal results, and receive
pushed assignments and state-change notifications - all as typed JSON
frames, one JSON value per WebSocket message, capped at 1 MiB.

# Architecture

A Hub owns the listener side and the worker-id → session binding; each
accepted connection runs two goroutines:

	             HTTP upgrade (gorilla/websocket)
	                         │
	                         ▼
	┌─────────────────────────────────────────────────────────────┐
	│                          Hub                                │
	│   sessions: workerID → *Session  (one live binding each)    │
	│   store change subscription ──► fan-out to subscribers      │
	└───────┬─────────────────────────────────────────────────────┘
	        │ per connection
	        ▼
	┌─────────────────────────────────────────────────────────────┐
	│                        Session                              │
	│                                                             │
	│  readLoop  ──► handle frame serially                        │
	│     register / heartbeat / task_update / subscribe          │
	│                                                             │
	│  send chan (256) ──► writeLoop ──► one writer per socket    │
	│     registered / heartbeat_ack / task_assigned /            │
	│     state_change / error                                    │
	└─────────────────────────────────────────────────────────────┘

Inbound frames are handled serially on the read loop, so a worker's
own operations never race each other. Outbound frames funnel through a
buffered channel into a single write loop, so a worker observes them
in the order the daemon enqueued them. There is no cross-session
ordering guarantee.

# Frame protocol

Inbound (worker → daemon):

	{"type":"register",  "workerId":"w1", "capabilities":["dev"], "metadata":{...}}
	{"type":"heartbeat", "workerId":"w1"}
	{"type":"task_update", "taskId":"t1", "progress":40}
	{"type":"task_update", "taskId":"t1", "status":"completed", "result":{...}}
	{"type":"task_update", "taskId":"t1", "status":"failed", "error":"..."}
	{"type":"subscribe", "topics":["tasks:set","workers:delete"]}

Outbound (daemon → worker):

	{"type":"registered",    "workerId":"w1", "serverTime":1722600000000}
	{"type":"heartbeat_ack", "serverTime":1722600000000}
	{"type":"task_assigned", "task":{...}}
	{"type":"state_change",  "change":{"collection":"tasks","key":"t1",
	                                   "operation":"set","value":{...}}}
	{"type":"error",         "message":"..."}

task_update routes by status: "completed" and "failed" become terminal
transitions attributed to the session's worker; a bare progress field
(or status "in_progress") becomes a progress update. The scheduler's
ownership checks apply, so a stale update from a displaced worker is
ignored or rejected there, not here.

# Registration and replacement

register binds the session to a worker id via the scheduler's
create-or-replace registration. A second register for the same worker
id - typically a reconnect - replaces the binding: the hub installs
the new session first, then closes the previous channel. Because the
old session is no longer the current binding when it closes, it does
not touch the worker's status; the worker stays online throughout the
handover. Subscriptions are not carried over; a reconnecting worker
re-sends its subscribe frame.

Registration also subscribes the session, via the message bus, to
directed "task_assigned" messages for its worker id. The handler
writes the frame to the session and acks the message, so the bus's
at-least-once retry covers the push path; if the session is gone the
handler errors and the bus retries or fails the message visibly.

# State-change fan-out

The hub subscribes once to the store's change events. For every
committed mutation it builds a state_change frame and offers it to
each session whose subscription set matches the change topic - topics
are collection:operation strings ("tasks:set"), with "*" matching
everything. The offer is non-blocking: the store's write path must
never stall on a slow socket, so a session with a full send buffer
simply misses that notification. State-change fan-out is a freshness
hint, not a reliable stream; workers needing guarantees read state
back through the operator API or rely on bus deliveries.

# Session close

Closing a session (worker disconnect, write error, replacement, or
daemon shutdown) marks the worker offline if - and only if - the
session was still the current binding. The worker keeps its tasks:
reclamation belongs to the liveness monitor, which returns them to
pending only once the heartbeat timeout lapses, giving the worker that
long to reconnect and resume. This is the deliberate grace-period
choice; a deployment wanting faster failover tightens
heartbeatTimeout rather than changing close semantics.

# Protocol errors

A frame that is not valid JSON draws an error frame; after three such
frames the session is closed. An unknown frame type counts the same
way. Validation errors inside a well-formed frame (missing workerId,
update before register) draw error frames but are not counted toward
closure. Handlers are also measured against a soft deadline (the
heartbeat interval by default): exceeding it logs a warning but never
tears the session down.

# Usage

	hub := session.NewHub(st, sched, msgBus, cfg.HeartbeatInterval)
	server := &http.Server{Handler: hub}
	go server.Serve(listener)
	...
	hub.Close() // refuse new sessions, close all open ones

The hub is an http.Handler; the daemon serves it on the dedicated
session port. Tests drive it with httptest.NewServer and a
gorilla/websocket dialer.

# Integration points

  - pkg/scheduler: register/heartbeat/task_update all dispatch into
    scheduler methods with the session's worker id as the reporter.
  - pkg/bus: directed assignment delivery with ack-on-write.
  - pkg/store: the change subscription feeding state_change fan-out.
  - pkg/liveness: owns reclamation after close; this package only
    flips the status.
  - pkg/metrics: active-session gauge.

# Testing session behavior

The hub is a plain http.Handler, so the tests stand up a real
WebSocket path with httptest and the gorilla dialer:

	hub := session.NewHub(st, sched, msgBus, time.Second)
	ts := httptest.NewServer(hub)
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)

	conn.WriteJSON(&session.Frame{Type: session.FrameRegister,
		WorkerID: "w1", Capabilities: []string{"dev"}})
	// read until a "registered" frame arrives

Because unrelated fan-out can interleave with expected replies, test
readers loop until the wanted frame type appears rather than asserting
on the next frame. Assignment-push tests need the bus started;
everything else works without it.

# Design patterns

One goroutine per direction. The read loop serializes a worker's own
operations; the write loop serializes the socket. Neither ever holds a
store or hub lock across a network operation, so a stalled socket
stalls only its own session.

Displacement-aware close. Close side effects (offline marking) are
gated on still being the current binding, which makes
register-replaces-session safe without a handshake: the new session
binds first, and the displaced session's close becomes a pure cleanup.

Push through the bus, not past it. Assignments could be written to the
session directly, but routing them through the bus buys retry,
failure events, and metrics for free, and keeps the scheduler unaware
of connection state.

# Best practices

 1. Heartbeat at a fraction of the timeout (the interval preset is
    the intended cadence); a worker that heartbeats exactly at the
    timeout boundary is one delayed packet from reassignment.
 2. Re-send subscribe after every register: subscriptions are
    deliberately not carried across reconnects.
 3. Treat state_change as a hint: act on it by reading authoritative
    state, not by trusting the embedded value to be the latest.
 4. Send terminal task_update frames exactly once and handle the
    error frame for late replies; the daemon will not re-accept a
    result after reassignment.

# Performance characteristics

Per session: two goroutines, one 256-frame buffer, no timers. Fan-out
work is O(sessions) per store mutation under the hub lock, but each
step is a set lookup plus a non-blocking channel offer. JSON encoding
happens on the write loop, off the store's write path. A thousand
connected workers costs a few thousand goroutines and negligible
steady-state CPU when idle.

# Troubleshooting

Worker never receives task_assigned:

  - the push is delivered through the bus; the bus must be started and
    the worker registered over the session (the API register alone
    installs no bus subscription);
  - check bus stats for pending acks or failed messages.

Missing state_change frames:

  - fan-out is lossy by design under backpressure; check whether the
    worker's subscribe frame listed the right collection:operation
    topics.

Session closed unexpectedly:

  - three malformed frames close the session; the error frames sent
    before closure name the offense.

# See also

  - pkg/scheduler - where session-reported updates land
  - pkg/bus - the assignment delivery channel
  - pkg/liveness - reassignment after disconnect
  - pkg/api - the request/response alternative for operators
*/
package session
