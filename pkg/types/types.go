package types

import (
	"encoding/json"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
)

// WorkerStatus represents the current state of a worker
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusBusy    WorkerStatus = "busy"
	WorkerStatusOffline WorkerStatus = "offline"
	WorkerStatusError   WorkerStatus = "error"
)

// TaskStatus represents the state of a task
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusAssigned   TaskStatus = "assigned"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// Terminal reports whether the status is a terminal task state
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// Active reports whether the task currently holds an assignment
func (s TaskStatus) Active() bool {
	return s == TaskStatusAssigned || s == TaskStatusInProgress
}

// Priority defines message and task priority ordering
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

// Rank returns the queue index for a priority (0 = most urgent).
// Unknown values rank as normal.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityLow:
		return 3
	default:
		return 2
	}
}

// Priorities lists all priorities in dequeue order
var Priorities = []Priority{PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow}

// DeliveryGuarantee defines the message bus delivery contract
type DeliveryGuarantee string

const (
	DeliveryAtMostOnce  DeliveryGuarantee = "at-most-once"
	DeliveryAtLeastOnce DeliveryGuarantee = "at-least-once"
	DeliveryExactlyOnce DeliveryGuarantee = "exactly-once"
)

// StringSet is a set of strings that serializes as a sorted JSON array
type StringSet struct {
	mapset.Set[string]
}

// NewStringSet creates a set from the given values
func NewStringSet(values ...string) StringSet {
	return StringSet{mapset.NewSet(values...)}
}

// Clone returns an independent copy of the set
func (s StringSet) Clone() StringSet {
	if s.Set == nil {
		return NewStringSet()
	}
	return StringSet{s.Set.Clone()}
}

// Sorted returns the members as a sorted slice
func (s StringSet) Sorted() []string {
	if s.Set == nil {
		return []string{}
	}
	values := s.ToSlice()
	sort.Strings(values)
	return values
}

// SubsetOf reports whether every member of s is contained in other
func (s StringSet) SubsetOf(other StringSet) bool {
	if s.Set == nil || s.Cardinality() == 0 {
		return true
	}
	if other.Set == nil {
		return false
	}
	return s.Set.IsSubset(other.Set)
}

// Has reports membership; safe on the zero value
func (s StringSet) Has(value string) bool {
	return s.Set != nil && s.Contains(value)
}

// Len returns the cardinality; safe on the zero value
func (s StringSet) Len() int {
	if s.Set == nil {
		return 0
	}
	return s.Cardinality()
}

// MarshalJSON serializes the set as an ordered array
func (s StringSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON reconstitutes the set from an array
func (s *StringSet) UnmarshalJSON(data []byte) error {
	var values []string
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	s.Set = mapset.NewSet(values...)
	return nil
}

// Worker represents a registered worker process
type Worker struct {
	ID              string         `json:"id"`
	Capabilities    StringSet      `json:"capabilities"`
	Status          WorkerStatus   `json:"status"`
	ActiveTaskCount int            `json:"activeTaskCount"`
	CompletedCount  int64          `json:"completedCount"`
	FailedCount     int64          `json:"failedCount"`
	RegisteredAt    int64          `json:"registeredAt"`
	LastHeartbeatAt int64          `json:"lastHeartbeatAt"`
	LastSeenAt      int64          `json:"lastSeenAt"`
	Subscriptions   StringSet      `json:"subscriptions"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// Clone returns a copy safe to hand out past the store boundary
func (w *Worker) Clone() *Worker {
	c := *w
	c.Capabilities = w.Capabilities.Clone()
	c.Subscriptions = w.Subscriptions.Clone()
	if w.Metadata != nil {
		c.Metadata = make(map[string]any, len(w.Metadata))
		for k, v := range w.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// Task represents a unit of work tracked through its lifecycle
type Task struct {
	ID                   string         `json:"id"`
	Status               TaskStatus     `json:"status"`
	RequiredCapabilities StringSet      `json:"requiredCapabilities"`
	Priority             Priority       `json:"priority"`
	AssignedTo           string         `json:"assignedTo,omitempty"`
	Progress             int            `json:"progress"`
	Result               map[string]any `json:"result,omitempty"`
	Error                string         `json:"error,omitempty"`
	Payload              map[string]any `json:"payload,omitempty"`
	CreatedAt            int64          `json:"createdAt"`
	AssignedAt           int64          `json:"assignedAt,omitempty"`
	LastUpdateAt         int64          `json:"lastUpdateAt,omitempty"`
	CompletedAt          int64          `json:"completedAt,omitempty"`
	FailedAt             int64          `json:"failedAt,omitempty"`
	PreviousWorker       string         `json:"previousWorker,omitempty"`
	ReassignedAt         int64          `json:"reassignedAt,omitempty"`
}

// Clone returns a copy safe to hand out past the store boundary
func (t *Task) Clone() *Task {
	c := *t
	c.RequiredCapabilities = t.RequiredCapabilities.Clone()
	return &c
}

// TaskSpec is the caller-supplied description of a task to schedule
type TaskSpec struct {
	ID                   string         `json:"id,omitempty"`
	RequiredCapabilities []string       `json:"requiredCapabilities,omitempty"`
	Priority             Priority       `json:"priority,omitempty"`
	Payload              map[string]any `json:"payload,omitempty"`
}

// Assignment is the live association of a task with a worker
type Assignment struct {
	TaskID     string `json:"taskId"`
	WorkerID   string `json:"workerId"`
	AssignedAt int64  `json:"assignedAt"`
}
