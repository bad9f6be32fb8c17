package bus

import (
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ry-ops/cortexd/pkg/errdefs"
	"github.com/ry-ops/cortexd/pkg/events"
	"github.com/ry-ops/cortexd/pkg/log"
	"github.com/ry-ops/cortexd/pkg/metrics"
	"github.com/ry-ops/cortexd/pkg/types"
)

// AckTimeout is how long an at-least-once delivery waits for an ack
// before retrying.
const AckTimeout = 5 * time.Second

// dedupeLimit bounds the exactly-once processed-id set; the set is
// flushed once it grows past this, so deduplication only holds within
// the eviction window.
const dedupeLimit = 10000

// Message is a single bus message
type Message struct {
	ID        string                  `json:"id"`
	Type      string                  `json:"type"`
	Payload   map[string]any          `json:"payload,omitempty"`
	Priority  types.Priority          `json:"priority"`
	Sender    string                  `json:"sender,omitempty"`
	Recipient string                  `json:"recipient,omitempty"`
	Timestamp int64                   `json:"timestamp"`
	Guarantee types.DeliveryGuarantee `json:"guarantee"`
	TTL       int64                   `json:"ttl,omitempty"`
	Attempts  int                     `json:"attempts"`
}

// Handler consumes a delivered message. A returned error counts
// toward the message's retry budget for tracked guarantees.
type Handler func(*Message) error

// Options control a publish
type Options struct {
	Priority  types.Priority
	Sender    string
	Recipient string
	Guarantee types.DeliveryGuarantee
	TTL       time.Duration
}

type subscription struct {
	id       int
	topic    string
	workerID string
	fn       Handler
}

type pendingAck struct {
	msg   *Message
	timer *time.Timer
}

// Config holds bus tuning parameters
type Config struct {
	ProcessingInterval time.Duration
	BatchLimit         int
	MaxQueueSize       int
	MaxRetries         int
}

// Bus is the priority-tiered message bus: four FIFO subqueues drained
// in priority order on a processing tick, with per-message delivery
// guarantees, deduplication, and retry.
type Bus struct {
	cfg    Config
	broker *events.Broker
	logger zerolog.Logger

	mu          sync.Mutex
	queues      [4][]*Message
	queued      int
	subs        map[int]*subscription
	nextSub     int
	workerSubs  map[string]mapset.Set[string]
	pendingAcks map[string]*pendingAck
	processed   mapset.Set[string]

	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}
}

// New creates a message bus
func New(cfg Config, broker *events.Broker) *Bus {
	if cfg.ProcessingInterval <= 0 {
		cfg.ProcessingInterval = 10 * time.Millisecond
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 100
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 10000
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &Bus{
		cfg:         cfg,
		broker:      broker,
		logger:      log.Component("bus"),
		subs:        make(map[int]*subscription),
		workerSubs:  make(map[string]mapset.Set[string]),
		pendingAcks: make(map[string]*pendingAck),
		processed:   mapset.NewSet[string](),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start begins the processing loop
func (b *Bus) Start() {
	go b.run()
}

// Stop halts the processing loop and cancels pending ack timers
func (b *Bus) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
	<-b.doneCh

	b.mu.Lock()
	defer b.mu.Unlock()
	for id, pending := range b.pendingAcks {
		pending.timer.Stop()
		delete(b.pendingAcks, id)
	}
}

// Publish enqueues a message and returns its id. Fails with QueueFull
// when the pending total exceeds the configured maximum.
func (b *Bus) Publish(msgType string, payload map[string]any, opts Options) (string, error) {
	if msgType == "" {
		return "", errdefs.InvalidArgumentf("message type required")
	}
	if opts.Priority == "" {
		opts.Priority = types.PriorityNormal
	}
	if opts.Guarantee == "" {
		opts.Guarantee = types.DeliveryAtMostOnce
	}

	msg := &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   payload,
		Priority:  opts.Priority,
		Sender:    opts.Sender,
		Recipient: opts.Recipient,
		Timestamp: time.Now().UnixMilli(),
		Guarantee: opts.Guarantee,
		TTL:       opts.TTL.Milliseconds(),
	}

	if err := b.enqueue(msg); err != nil {
		return "", err
	}
	return msg.ID, nil
}

func (b *Bus) enqueue(msg *Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.queued >= b.cfg.MaxQueueSize {
		metrics.BusMessagesTotal.WithLabelValues("rejected").Inc()
		return errdefs.ErrQueueFull
	}
	rank := msg.Priority.Rank()
	b.queues[rank] = append(b.queues[rank], msg)
	b.queued++
	metrics.BusQueueDepth.WithLabelValues(string(msg.Priority)).Inc()
	return nil
}

// Subscribe registers a broadcast handler for a topic. The topic "*"
// matches all message types. Returns an unsubscribe function.
func (b *Bus) Subscribe(topic string, fn Handler) func() {
	return b.subscribe(topic, "", fn)
}

// SubscribeWorker registers a handler bound to a worker id. Directed
// messages reach only handlers whose worker subscribed to the type.
func (b *Bus) SubscribeWorker(topic, workerID string, fn Handler) func() {
	return b.subscribe(topic, workerID, fn)
}

func (b *Bus) subscribe(topic, workerID string, fn Handler) func() {
	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = &subscription{id: id, topic: topic, workerID: workerID, fn: fn}
	if workerID != "" {
		set, ok := b.workerSubs[workerID]
		if !ok {
			set = mapset.NewSet[string]()
			b.workerSubs[workerID] = set
		}
		set.Add(topic)
	}
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		sub, ok := b.subs[id]
		if !ok {
			return
		}
		delete(b.subs, id)
		if sub.workerID != "" {
			for _, other := range b.subs {
				if other.workerID == sub.workerID && other.topic == sub.topic {
					return
				}
			}
			if set, ok := b.workerSubs[sub.workerID]; ok {
				set.Remove(sub.topic)
				if set.Cardinality() == 0 {
					delete(b.workerSubs, sub.workerID)
				}
			}
		}
	}
}

// Ack acknowledges an at-least-once or exactly-once delivery
func (b *Bus) Ack(messageID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if pending, ok := b.pendingAcks[messageID]; ok {
		pending.timer.Stop()
		delete(b.pendingAcks, messageID)
	}
}

// Stats is the bus sub-metrics surface
type Stats struct {
	QueueDepth  map[string]int `json:"queueDepth"`
	Queued      int            `json:"queued"`
	Subscribers int            `json:"subscribers"`
	PendingAcks int            `json:"pendingAcks"`
	DedupeSize  int            `json:"dedupeSize"`
}

// Stats reports current bus state
func (b *Bus) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	depth := make(map[string]int, 4)
	for i, p := range types.Priorities {
		depth[string(p)] = len(b.queues[i])
	}
	return Stats{
		QueueDepth:  depth,
		Queued:      b.queued,
		Subscribers: len(b.subs),
		PendingAcks: len(b.pendingAcks),
		DedupeSize:  b.processed.Cardinality(),
	}
}

func (b *Bus) run() {
	defer close(b.doneCh)
	ticker := time.NewTicker(b.cfg.ProcessingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.processBatch()
		case <-b.stopCh:
			return
		}
	}
}

// processBatch drains up to the batch limit in priority order
func (b *Bus) processBatch() {
	for n := 0; n < b.cfg.BatchLimit; n++ {
		msg := b.dequeue()
		if msg == nil {
			return
		}
		b.deliver(msg)
	}
}

func (b *Bus) dequeue() *Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	for rank := range b.queues {
		if len(b.queues[rank]) == 0 {
			continue
		}
		msg := b.queues[rank][0]
		b.queues[rank] = b.queues[rank][1:]
		b.queued--
		metrics.BusQueueDepth.WithLabelValues(string(types.Priorities[rank])).Dec()
		return msg
	}
	return nil
}

func (b *Bus) deliver(msg *Message) {
	if msg.TTL > 0 && time.Now().UnixMilli()-msg.Timestamp > msg.TTL {
		metrics.BusMessagesTotal.WithLabelValues("expired").Inc()
		b.broker.Emit(events.EventMessageExpired, "message ttl exceeded",
			"message_id", msg.ID, "type", msg.Type)
		return
	}

	if msg.Guarantee == types.DeliveryExactlyOnce {
		b.mu.Lock()
		duplicate := b.processed.Contains(msg.ID)
		b.mu.Unlock()
		if duplicate {
			metrics.BusMessagesTotal.WithLabelValues("deduplicated").Inc()
			return
		}
	}

	targets := b.recipients(msg)
	if len(targets) == 0 {
		metrics.BusMessagesTotal.WithLabelValues("dropped").Inc()
		return
	}

	// The pending-ack record must exist before callbacks run; a
	// subscriber may ack from inside its handler.
	tracked := msg.Guarantee == types.DeliveryAtLeastOnce || msg.Guarantee == types.DeliveryExactlyOnce
	if tracked {
		b.awaitAck(msg)
	}

	var failed bool
	for _, sub := range targets {
		if err := b.invoke(sub, msg); err != nil {
			failed = true
			metrics.BusMessagesTotal.WithLabelValues("delivery_error").Inc()
			b.broker.Emit(events.EventDeliveryError, err.Error(),
				"message_id", msg.ID, "type", msg.Type)
		}
	}

	if tracked && failed {
		b.Ack(msg.ID)
		b.retry(msg)
		return
	}
	metrics.BusMessagesTotal.WithLabelValues("delivered").Inc()
	if msg.Guarantee == types.DeliveryExactlyOnce {
		b.markProcessed(msg.ID)
	}
}

// invoke runs a subscriber callback, converting panics into delivery
// errors so one bad subscriber cannot stall the processing loop.
func (b *Bus) invoke(sub *subscription, msg *Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errdefs.InvalidArgumentf("subscriber panic: %v", r)
		}
	}()
	return sub.fn(msg)
}

func (b *Bus) recipients(msg *Message) []*subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	var targets []*subscription
	for _, sub := range b.subs {
		if sub.topic != "*" && sub.topic != msg.Type {
			continue
		}
		if msg.Recipient != "" {
			if sub.workerID != msg.Recipient {
				continue
			}
			set, ok := b.workerSubs[msg.Recipient]
			if !ok || !(set.Contains(msg.Type) || set.Contains("*")) {
				continue
			}
		}
		targets = append(targets, sub)
	}
	return targets
}

func (b *Bus) markProcessed(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.processed.Cardinality() >= dedupeLimit {
		b.processed = mapset.NewSet[string]()
	}
	b.processed.Add(id)
}

func (b *Bus) awaitAck(msg *Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pending := &pendingAck{msg: msg}
	pending.timer = time.AfterFunc(AckTimeout, func() { b.ackTimeout(msg.ID) })
	b.pendingAcks[msg.ID] = pending
}

func (b *Bus) ackTimeout(messageID string) {
	b.mu.Lock()
	pending, ok := b.pendingAcks[messageID]
	if ok {
		delete(b.pendingAcks, messageID)
	}
	b.mu.Unlock()
	if !ok {
		return
	}
	metrics.BusMessagesTotal.WithLabelValues("ack_timeout").Inc()
	b.retry(pending.msg)
}

// retry re-enqueues a tracked message until its retry budget runs out
func (b *Bus) retry(msg *Message) {
	msg.Attempts++
	if msg.Attempts > b.cfg.MaxRetries {
		metrics.BusMessagesTotal.WithLabelValues("failed").Inc()
		b.broker.Emit(events.EventMessageFailed, "retries exhausted",
			"message_id", msg.ID, "type", msg.Type)
		return
	}
	if err := b.enqueue(msg); err != nil {
		metrics.BusMessagesTotal.WithLabelValues("failed").Inc()
		b.broker.Emit(events.EventMessageFailed, err.Error(),
			"message_id", msg.ID, "type", msg.Type)
	}
}
