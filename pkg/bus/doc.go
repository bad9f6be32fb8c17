/*
Package bus implements cortexd's priority-tiered message bus with
explicit delivery guarantees.

The bus decouples message producers (the scheduler, masters publishing
through the daemon) from consumers (worker sessions, in-process
subscribers) while making the delivery contract explicit per publish:
fire-and-forget, retried-until-acked, or retried-and-deduplicated.

# Architecture

Four FIFO subqueues, one per priority, drained by a single processing
loop:

	 Publish(type, payload, opts)
	        │
	        ▼  (QueueFull when total exceeds maxQueueSize)
	┌────────────────────────────────────────────────────┐
	│  critical ▸▸▸▸▸   high ▸▸▸   normal ▸▸▸▸   low ▸   │
	└──────────────────────┬─────────────────────────────┘
	                       │ every processingInterval (default 10ms)
	                       ▼ up to batchLimit (default 100) per tick
	┌────────────────────────────────────────────────────┐
	│ deliver:                                           │
	│   ttl expired?        → drop + message-expired     │
	│   already processed?  → drop (exactly-once dedupe) │
	│   resolve recipients  → none? drop                 │
	│   tracked guarantee?  → register pending ack       │
	│   invoke callbacks synchronously                   │
	│   error? → delivery-error + retry                  │
	└──────────┬─────────────────────────────────────────┘
	           │ no ack within 5s
	           ▼
	   retry (attempts++) until maxRetries → message-failed

Dequeue consults the subqueues strictly in priority order; within one
priority, delivery order is the order of publication. A critical
message published after a backlog of low-priority traffic is still
delivered first.

# Delivery guarantees

At-most-once (the default): the message is delivered to whoever is
subscribed at processing time and forgotten. No tracking, no retry.

At-least-once: before callbacks run, the bus registers a pending-ack
record with a 5-second timeout. The consumer calls Ack(messageID) -
from inside the handler or later - to clear it. A timeout or a
callback error increments the attempt counter and re-enqueues the
message until maxRetries is exhausted, at which point a
message-failed event is emitted. Consumers must therefore tolerate
duplicates.

Exactly-once: at-least-once plus a dedupe set of processed message
ids. A message whose id is already in the set is dropped without
redelivery. The set is count-bounded: once it grows past 10 000
entries it is flushed wholesale, so deduplication only holds within
that eviction window. Callers needing long-tail deduplication must use
ids wider than the window or deduplicate themselves.

The pending-ack record is registered before callbacks run, not after:
the common consumer pattern acks from inside the handler, and an
ack for an unregistered id would otherwise be lost, turning every
delivery into a spurious retry.

# Recipient selection

A message may be directed (Recipient set to a worker id) or broadcast
(Recipient empty).

Broadcast: every subscription whose topic equals the message type, or
is the wildcard "*", receives the message.

Directed: only subscriptions bound to that worker id are considered,
and the worker's own subscription topic set must contain the message
type (or "*"). This double check means a directed message for a worker
that never subscribed to the type is dropped rather than delivered to
a half-configured session.

	// broadcast consumer
	unsub := b.Subscribe("task_failed", func(m *bus.Message) error { ... })

	// per-worker consumer (the session hub does this on register)
	unsub := b.SubscribeWorker("task_assigned", "w1", func(m *bus.Message) error {
		// write to w1's session, then
		b.Ack(m.ID)
		return nil
	})

Unsubscribe functions are idempotent and remove the worker's topic
from the directed-routing index when the last subscription drops.

# Backpressure and expiry

Publish fails with a queue-full error once the queued total reaches
maxQueueSize; nothing is silently dropped on the way in. On the way
out, a message older than its TTL at processing time is dropped with a
message-expired event. Both outcomes are visible in the bus metrics
and the operator event feed.

# Failure containment

Subscriber callbacks run synchronously on the processing goroutine, so
a misbehaving subscriber is the main hazard. Errors returned by a
callback are converted into delivery-error events and count toward the
retry budget for tracked guarantees; panics are recovered and treated
the same way. A slow callback stalls the tick it runs in but nothing
else - there is deliberately no per-subscriber goroutine, because
in-process consumers are expected to enqueue and return.

# Usage

	broker := events.NewBroker()
	b := bus.New(bus.Config{
		ProcessingInterval: 10 * time.Millisecond,
		BatchLimit:         100,
		MaxQueueSize:       10000,
		MaxRetries:         3,
	}, broker)
	b.Start()
	defer b.Stop()

	id, err := b.Publish("task_assigned", payload, bus.Options{
		Priority:  types.PriorityCritical,
		Recipient: "w1",
		Guarantee: types.DeliveryAtLeastOnce,
		TTL:       30 * time.Second,
	})

Stop halts the loop and cancels all pending ack timers; in-flight
retries are abandoned.

# Metrics and introspection

Stats() returns queue depth per priority, total queued, subscriber
count, pending acks, and the dedupe-set size - served by the operator
API as the bus sub-metrics block. The Prometheus side tracks queue
depth gauges per priority and a message counter labeled by outcome
(delivered, rejected, expired, deduplicated, delivery_error,
ack_timeout, failed, dropped).

# Integration points

  - pkg/scheduler publishes directed task_assigned messages after each
    successful assignment.
  - pkg/session subscribes each registered worker and acks once the
    frame is written to the socket.
  - pkg/events receives message-expired / message-failed /
    delivery-error for the operator feed.
  - pkg/daemon owns Start/Stop ordering around the session layer.

# Testing bus behavior

Two properties of the implementation make the bus deterministic in
tests. First, a bus that has not been started queues but never
delivers, so backpressure is testable without racing the loop:

	b := bus.New(bus.Config{MaxQueueSize: 8}, broker)
	for i := 0; i < 10; i++ {
		_, err := b.Publish("job", nil, bus.Options{})
		// publishes 9 and 10 return the queue-full kind
	}

Second, delivery order within a started bus is fully determined by
priority and publish order:

	b.Subscribe("job", record)
	b.Publish("job", low, bus.Options{Priority: types.PriorityLow})
	b.Publish("job", crit, bus.Options{Priority: types.PriorityCritical})
	b.Start()
	// record sees crit, then low

Retry and ack behavior is observed through Stats().PendingAcks and the
broker's event ring rather than sleeps where possible; the ack timeout
itself is a constant, so tests exercising exhaustion use failing
handlers (retried immediately) instead of waiting out timers.

# Design patterns

Tick-and-batch draining. A single loop popping bounded batches keeps
delivery single-threaded and starvation-free: every tick looks at the
highest non-empty tier first, and the batch limit bounds how long one
tick can monopolize the goroutine.

Guarantee as data, not topology. The delivery contract travels on the
message, not the subscription, so one subscriber serves messages of
any guarantee and producers choose per publish - the scheduler uses
at-least-once for assignments while health chatter stays
at-most-once.

Ack-before-invoke. Registering the pending-ack record before the
callback runs makes in-handler acking (the dominant pattern) correct,
at the cost of a timer Stop on the failure path.

# Best practices

 1. Priorities are for scheduling urgency, not importance: reserve
    critical for messages whose delay changes system behavior
    (assignments, cancellations), or the tier degrades into the new
    normal.
 2. Choose at-most-once unless the consumer acks: tracked guarantees
    without acking turn every message into maxRetries redeliveries
    plus a failure event.
 3. Exactly-once ids must out-live the dedupe window: with the
    10 000-entry flush, high-volume callers should derive ids from
    content, not sequence, if they rely on long-tail deduplication.
 4. Keep handlers enqueue-only: the loop is shared; anything slower
    than a channel send belongs on the consumer's own goroutine.

# Performance characteristics

Publishing is a mutex-guarded append: O(1). A processing tick pops at
most batchLimit messages; each delivery scans the subscription table
once, O(S) for S subscriptions. With the defaults that bounds bus
throughput at batchLimit/interval = 10 000 messages per second, well
above the daemon's end-to-end target; raise batchLimit or lower the
interval before raising maxQueueSize if the queue depth gauge trends
upward under load.

# Troubleshooting

Messages never delivered:

  - the loop only runs after Start; a bus constructed for tests
    delivers nothing until started;
  - directed messages need both a SubscribeWorker binding and the type
    in that worker's topic set - check Stats().Subscribers.

Repeated redelivery:

  - the consumer is not acking, or is acking after more than 5
    seconds; ack from inside the handler unless there is a reason not
    to.

Queue-full errors:

  - consumers are slower than producers; check the per-priority depth
    gauges to see which tier is backing up.

# See also

  - pkg/scheduler - the main producer
  - pkg/session - the main directed consumer
  - pkg/events - where failure outcomes surface
  - pkg/types - Priority and DeliveryGuarantee definitions
*/
package bus
