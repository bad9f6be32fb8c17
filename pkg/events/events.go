package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventWorkerRegistered   EventType = "worker-registered"
	EventWorkerUnregistered EventType = "worker-unregistered"
	EventWorkerTimeout      EventType = "worker-timeout"
	EventWorkerEvicted      EventType = "worker-evicted"
	EventTaskAssigned       EventType = "task-assigned"
	EventTaskCompleted      EventType = "task-completed"
	EventTaskFailed         EventType = "task-failed"
	EventTaskCancelled      EventType = "task-cancelled"
	EventTaskReassigned     EventType = "task-reassigned"
	EventPersistenceError   EventType = "persistence-error"
	EventMessageFailed      EventType = "message-failed"
	EventMessageExpired     EventType = "message-expired"
	EventDeliveryError      EventType = "delivery-error"
	EventInvariantViolation EventType = "invariant-violation"
)

// Event represents a daemon event visible to operators
type Event struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	Timestamp int64             `json:"timestamp"`
	Message   string            `json:"message,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker manages event subscriptions and distribution. Recent events
// are retained in a bounded ring for the operator API.
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
	stopOnce    sync.Once

	ring     []*Event
	ringNext int
	ringSize int
}

const defaultRingSize = 1000

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100),
		stopCh:      make(chan struct{}),
		ring:        make([]*Event, defaultRingSize),
		ringSize:    defaultRingSize,
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subscribers[sub] {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish publishes an event to all subscribers
func (b *Broker) Publish(event *Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}

	b.mu.Lock()
	b.ring[b.ringNext%b.ringSize] = event
	b.ringNext++
	b.mu.Unlock()

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	default:
	}
}

// Emit is shorthand for publishing a typed event with metadata pairs
func (b *Broker) Emit(t EventType, msg string, kv ...string) {
	ev := &Event{Type: t, Message: msg}
	if len(kv) > 0 {
		ev.Metadata = make(map[string]string, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			ev.Metadata[kv[i]] = kv[i+1]
		}
	}
	b.Publish(ev)
}

// Recent returns up to limit most recent events, newest last
func (b *Broker) Recent(limit int) []*Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := b.ringNext
	if total > b.ringSize {
		total = b.ringSize
	}
	if limit <= 0 || limit > total {
		limit = total
	}
	out := make([]*Event, 0, limit)
	for i := b.ringNext - limit; i < b.ringNext; i++ {
		out = append(out, b.ring[((i%b.ringSize)+b.ringSize)%b.ringSize])
	}
	return out
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
