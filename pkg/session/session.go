package session

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ry-ops/cortexd/pkg/bus"
	"github.com/ry-ops/cortexd/pkg/errdefs"
	"github.com/ry-ops/cortexd/pkg/metrics"
	"github.com/ry-ops/cortexd/pkg/scheduler"
	"github.com/ry-ops/cortexd/pkg/types"
)

// sendBuffer bounds outbound frames per session; slow consumers drop
// state-change fanout rather than stalling the write path.
const sendBuffer = 256

// protocolErrorLimit closes a session after this many malformed frames
const protocolErrorLimit = 3

// Session is one worker's duplex channel. Inbound frames are handled
// serially by the read loop; outbound writes are serialized through
// the send channel and a single write loop.
type Session struct {
	hub  *Hub
	conn *websocket.Conn

	mu        sync.Mutex
	workerID  string
	subs      types.StringSet
	busUnsubs []func()

	send      chan *Frame
	closeOnce sync.Once
	closedCh  chan struct{}

	protocolErrors int
}

func newSession(h *Hub, conn *websocket.Conn) *Session {
	conn.SetReadLimit(MaxFrameSize)
	return &Session{
		hub:      h,
		conn:     conn,
		subs:     types.NewStringSet(),
		send:     make(chan *Frame, sendBuffer),
		closedCh: make(chan struct{}),
	}
}

// WorkerID returns the bound worker id, empty before register
func (s *Session) WorkerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workerID
}

func (s *Session) subscribedTo(topic string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subs.Has("*") || s.subs.Has(topic)
}

// trySend enqueues a frame without blocking; a full buffer drops the
// frame.
func (s *Session) trySend(frame *Frame) bool {
	select {
	case s.send <- frame:
		return true
	case <-s.closedCh:
		return false
	default:
		return false
	}
}

// Send enqueues a frame, giving up when the session closes
func (s *Session) Send(frame *Frame) bool {
	select {
	case s.send <- frame:
		return true
	case <-s.closedCh:
		return false
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.closedCh)
		_ = s.conn.Close()
		metrics.SessionsActive.Dec()

		s.mu.Lock()
		workerID := s.workerID
		unsubs := s.busUnsubs
		s.busUnsubs = nil
		s.mu.Unlock()

		for _, unsub := range unsubs {
			unsub()
		}
		if workerID != "" {
			// A session displaced by a newer register must not touch
			// the worker's status. Otherwise the worker goes offline
			// immediately but keeps its tasks; the liveness monitor
			// reassigns only after the heartbeat timeout lapses,
			// leaving room to reconnect.
			if s.hub.unbind(workerID, s) {
				s.hub.scheduler.MarkWorkerOffline(workerID)
			}
			s.hub.logger.Info().Str("worker_id", workerID).Msg("Session closed")
		}
	})
}

func (s *Session) writeLoop() {
	for {
		select {
		case frame := <-s.send:
			data, err := json.Marshal(frame)
			if err != nil {
				s.hub.logger.Error().Err(err).Msg("Failed to encode outbound frame")
				continue
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.close()
				return
			}
		case <-s.closedCh:
			return
		}
	}
}

func (s *Session) readLoop() {
	defer s.close()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.protocolError("malformed frame")
			continue
		}
		start := time.Now()
		s.handle(&frame)
		if d := time.Since(start); s.hub.frameDeadline > 0 && d > s.hub.frameDeadline {
			s.hub.logger.Warn().
				Str("worker_id", s.WorkerID()).
				Str("frame", frame.Type).
				Dur("took", d).
				Msg("Frame handler exceeded soft deadline")
		}
	}
}

func (s *Session) handle(frame *Frame) {
	switch frame.Type {
	case FrameRegister:
		s.handleRegister(frame)
	case FrameHeartbeat:
		s.handleHeartbeat(frame)
	case FrameTaskUpdate:
		s.handleTaskUpdate(frame)
	case FrameSubscribe:
		s.handleSubscribe(frame)
	default:
		s.protocolError("unknown frame type " + frame.Type)
	}
}

func (s *Session) handleRegister(frame *Frame) {
	if frame.WorkerID == "" {
		s.sendError("register requires workerId")
		return
	}
	worker, err := s.hub.scheduler.RegisterWorker(frame.WorkerID, frame.Capabilities, frame.Metadata)
	if err != nil {
		s.sendError(err.Error())
		return
	}

	s.mu.Lock()
	s.workerID = worker.ID
	// Subscriptions are re-installed on each register
	s.subs = types.NewStringSet()
	unsubs := s.busUnsubs
	s.busUnsubs = nil
	s.mu.Unlock()
	for _, unsub := range unsubs {
		unsub()
	}

	s.hub.bind(worker.ID, s)

	// Route directed assignment messages from the bus onto this
	// session's channel, acking each delivery.
	unsub := s.hub.bus.SubscribeWorker(scheduler.MsgTaskAssigned, worker.ID, func(msg *bus.Message) error {
		task, ok := msg.Payload["task"].(*types.Task)
		if !ok {
			return errdefs.InvalidArgumentf("assignment payload missing task")
		}
		if !s.Send(&Frame{Type: FrameTaskAssigned, Task: task}) {
			return errdefs.InvalidArgumentf("session closed")
		}
		s.hub.bus.Ack(msg.ID)
		return nil
	})
	s.mu.Lock()
	s.busUnsubs = append(s.busUnsubs, unsub)
	s.mu.Unlock()

	s.Send(&Frame{
		Type:       FrameRegistered,
		WorkerID:   worker.ID,
		ServerTime: s.hub.store.Now(),
	})
}

func (s *Session) handleHeartbeat(frame *Frame) {
	workerID := frame.WorkerID
	if workerID == "" {
		workerID = s.WorkerID()
	}
	if workerID == "" {
		s.sendError("heartbeat before register")
		return
	}
	if _, err := s.hub.scheduler.Heartbeat(workerID); err != nil {
		s.sendError(err.Error())
		return
	}
	s.Send(&Frame{Type: FrameHeartbeatAck, ServerTime: s.hub.store.Now()})
}

func (s *Session) handleTaskUpdate(frame *Frame) {
	workerID := s.WorkerID()
	if workerID == "" {
		s.sendError("task_update before register")
		return
	}
	if frame.TaskID == "" {
		s.sendError("task_update requires taskId")
		return
	}

	var err error
	switch types.TaskStatus(frame.Status) {
	case types.TaskStatusCompleted:
		err = s.hub.scheduler.Complete(frame.TaskID, frame.Result, workerID)
	case types.TaskStatusFailed:
		err = s.hub.scheduler.Fail(frame.TaskID, frame.Error, workerID)
	case types.TaskStatusInProgress, "":
		if frame.Progress == nil {
			s.sendError("task_update requires progress or a terminal status")
			return
		}
		err = s.hub.scheduler.UpdateProgress(frame.TaskID, *frame.Progress, workerID)
	default:
		s.sendError("unsupported task status " + frame.Status)
		return
	}
	if err != nil {
		s.sendError(err.Error())
	}
}

func (s *Session) handleSubscribe(frame *Frame) {
	workerID := s.WorkerID()
	if workerID == "" {
		s.sendError("subscribe before register")
		return
	}
	s.mu.Lock()
	s.subs = types.NewStringSet(frame.Topics...)
	s.mu.Unlock()
	if err := s.hub.scheduler.SetWorkerSubscriptions(workerID, frame.Topics); err != nil {
		s.sendError(err.Error())
	}
}

func (s *Session) sendError(message string) {
	s.Send(&Frame{Type: FrameError, Message: message})
}

func (s *Session) protocolError(message string) {
	s.protocolErrors++
	s.sendError(message)
	if s.protocolErrors >= protocolErrorLimit {
		s.hub.logger.Warn().
			Str("worker_id", s.WorkerID()).
			Msg("Closing session after repeated protocol errors")
		s.close()
	}
}
