package session

import (
	"github.com/ry-ops/cortexd/pkg/types"
)

// Frame type names on the duplex channel
const (
	// Inbound (worker to daemon)
	FrameRegister   = "register"
	FrameHeartbeat  = "heartbeat"
	FrameTaskUpdate = "task_update"
	FrameSubscribe  = "subscribe"

	// Outbound (daemon to worker)
	FrameRegistered   = "registered"
	FrameHeartbeatAck = "heartbeat_ack"
	FrameTaskAssigned = "task_assigned"
	FrameStateChange  = "state_change"
	FrameError        = "error"
)

// MaxFrameSize bounds a single frame to 1 MiB
const MaxFrameSize = 1 << 20

// Frame is one JSON value on the wire. One flat shape covers every
// frame type; unused fields are omitted.
type Frame struct {
	Type string `json:"type"`

	// register
	WorkerID     string         `json:"workerId,omitempty"`
	Capabilities []string       `json:"capabilities,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`

	// task_update
	TaskID   string         `json:"taskId,omitempty"`
	Status   string         `json:"status,omitempty"`
	Progress *int           `json:"progress,omitempty"`
	Result   map[string]any `json:"result,omitempty"`
	Error    string         `json:"error,omitempty"`

	// subscribe
	Topics []string `json:"topics,omitempty"`

	// outbound payloads
	Task       *types.Task  `json:"task,omitempty"`
	Change     *ChangeFrame `json:"change,omitempty"`
	Message    string       `json:"message,omitempty"`
	ServerTime int64        `json:"serverTime,omitempty"`
}

// ChangeFrame is the wire form of a state change pushed to a
// subscribed worker. Topic format is collection:operation.
type ChangeFrame struct {
	Collection string `json:"collection"`
	Key        string `json:"key,omitempty"`
	Operation  string `json:"operation"`
	Value      any    `json:"value,omitempty"`
	Timestamp  int64  `json:"timestamp"`
}
