package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/ry-ops/cortexd/pkg/bus"
	"github.com/ry-ops/cortexd/pkg/errdefs"
	"github.com/ry-ops/cortexd/pkg/events"
	"github.com/ry-ops/cortexd/pkg/log"
	"github.com/ry-ops/cortexd/pkg/metrics"
	"github.com/ry-ops/cortexd/pkg/persistence"
	"github.com/ry-ops/cortexd/pkg/scheduler"
	"github.com/ry-ops/cortexd/pkg/store"
	"github.com/ry-ops/cortexd/pkg/types"
)

// maxBodySize bounds operator API request bodies
const maxBodySize = 1 << 20

// Server is the stateless operator surface over the core
type Server struct {
	store     *store.Store
	scheduler *scheduler.Scheduler
	engine    persistence.Engine
	bus       *bus.Bus
	broker    *events.Broker
	core      *metrics.Core
	version   string
	startTime time.Time
	logger    zerolog.Logger

	httpServer *http.Server
}

// NewServer creates the operator API server
func NewServer(s *store.Store, sched *scheduler.Scheduler, engine persistence.Engine, b *bus.Bus, broker *events.Broker, core *metrics.Core, version string) *Server {
	srv := &Server{
		store:     s,
		scheduler: sched,
		engine:    engine,
		bus:       b,
		broker:    broker,
		core:      core,
		version:   version,
		startTime: time.Now(),
		logger:    log.Component("api"),
	}
	return srv
}

// Handler builds the route table
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.instrument("health", s.handleHealth))
	mux.HandleFunc("GET /ready", s.instrument("ready", s.handleReady))
	mux.HandleFunc("GET /state", s.instrument("state", s.handleState))
	mux.HandleFunc("GET /metrics", s.instrument("metrics", s.handleMetrics))
	mux.Handle("GET /metrics/prometheus", metrics.Handler())
	mux.HandleFunc("GET /events", s.instrument("events", s.handleEvents))

	mux.HandleFunc("POST /workers/register", s.instrument("register-worker", s.handleRegisterWorker))
	mux.HandleFunc("POST /workers/unregister", s.instrument("unregister-worker", s.handleUnregisterWorker))
	mux.HandleFunc("POST /workers/evict", s.instrument("evict-worker", s.handleEvictWorker))
	mux.HandleFunc("GET /workers", s.instrument("list-workers", s.handleListWorkers))
	mux.HandleFunc("GET /workers/{id}", s.instrument("get-worker", s.handleGetWorker))

	mux.HandleFunc("POST /tasks/assign", s.instrument("assign-task", s.handleAssignTask))
	mux.HandleFunc("POST /tasks/complete", s.instrument("complete-task", s.handleCompleteTask))
	mux.HandleFunc("POST /tasks/fail", s.instrument("fail-task", s.handleFailTask))
	mux.HandleFunc("POST /tasks/cancel", s.instrument("cancel-task", s.handleCancelTask))
	mux.HandleFunc("GET /tasks", s.instrument("list-tasks", s.handleListTasks))
	mux.HandleFunc("GET /tasks/{id}", s.instrument("get-task", s.handleGetTask))

	mux.HandleFunc("POST /snapshot", s.instrument("snapshot", s.handleSnapshot))
	return mux
}

// Start begins serving on addr
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.httpServer = &http.Server{Handler: s.Handler()}
	go func() {
		if err := s.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP server stopped")
		}
	}()
	s.logger.Info().Str("addr", addr).Msg("Operator API listening")
	return nil
}

// Stop gracefully shuts the server down
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// instrument wraps a handler with latency sampling and request metrics
func (s *Server) instrument(operation string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		s.core.RecordLatency(timer.Duration())
		timer.ObserveDurationVec(metrics.APIRequestDuration, operation)
		metrics.APIRequestsTotal.WithLabelValues(operation, strconv.Itoa(rec.status)).Inc()
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.writeJSON(w, errdefs.HTTPStatus(err), map[string]string{"error": err.Error()})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, errdefs.InvalidArgumentf("malformed request body"))
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"uptimeMs": time.Since(s.startTime).Milliseconds(),
		"version":  s.version,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	workers := s.store.ListWorkers()
	tasks := s.store.ListTasks()
	assignments := s.store.ListAssignments()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"workers":     workers,
		"tasks":       tasks,
		"assignments": assignments,
		"metadata":    s.store.GetAllEntries(store.CollectionMetadata),
		"counts": map[string]int{
			"workers":     len(workers),
			"tasks":       len(tasks),
			"assignments": len(assignments),
		},
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	activeWorkers := 0
	for _, worker := range s.store.ListWorkers() {
		if worker.Status != types.WorkerStatusOffline {
			activeWorkers++
		}
	}
	activeTasks := 0
	for _, task := range s.store.ListTasks() {
		if !task.Status.Terminal() {
			activeTasks++
		}
	}

	snap := s.core.Snapshot(activeWorkers, activeTasks)
	snap.Bus = s.bus.Stats()
	snap.Persistence = s.engine.Stats()
	snap.Store = map[string]int{
		"workers":     s.store.Size(store.CollectionWorkers),
		"tasks":       s.store.Size(store.CollectionTasks),
		"assignments": s.store.Size(store.CollectionAssignments),
		"metadata":    s.store.Size(store.CollectionMetadata),
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.writeError(w, errdefs.InvalidArgumentf("limit %q", v))
			return
		}
		limit = n
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"events": s.broker.Recent(limit)})
}

func (s *Server) handleRegisterWorker(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WorkerID     string         `json:"workerId"`
		Capabilities []string       `json:"capabilities"`
		Metadata     map[string]any `json:"metadata"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	worker, err := s.scheduler.RegisterWorker(req.WorkerID, req.Capabilities, req.Metadata)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, worker)
}

func (s *Server) handleUnregisterWorker(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WorkerID string `json:"workerId"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.scheduler.UnregisterWorker(req.WorkerID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleEvictWorker(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WorkerID string `json:"workerId"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.scheduler.EvictWorker(req.WorkerID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"workers": s.store.ListWorkers()})
}

func (s *Server) handleGetWorker(w http.ResponseWriter, r *http.Request) {
	worker, ok := s.store.GetWorker(r.PathValue("id"))
	if !ok {
		s.writeError(w, errdefs.NotFoundf("worker %s", r.PathValue("id")))
		return
	}
	s.writeJSON(w, http.StatusOK, worker)
}

func (s *Server) handleAssignTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TaskID   string          `json:"taskId"`
		WorkerID string          `json:"workerId"`
		TaskData *types.TaskSpec `json:"taskData"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	spec := req.TaskData
	if spec == nil {
		spec = &types.TaskSpec{}
	}
	if req.TaskID != "" {
		spec.ID = req.TaskID
	}
	result, err := s.scheduler.Assign(spec, req.WorkerID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCompleteTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TaskID string         `json:"taskId"`
		Result map[string]any `json:"result"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.scheduler.Complete(req.TaskID, req.Result, ""); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleFailTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TaskID string `json:"taskId"`
		Error  string `json:"error"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.scheduler.Fail(req.TaskID, req.Error, ""); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TaskID string `json:"taskId"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.scheduler.Cancel(req.TaskID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks := s.store.ListTasks()
	if status := r.URL.Query().Get("status"); status != "" {
		filtered := tasks[:0]
		for _, task := range tasks {
			if task.Status == types.TaskStatus(status) {
				filtered = append(filtered, task)
			}
		}
		tasks = filtered
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, ok := s.store.GetTask(r.PathValue("id"))
	if !ok {
		s.writeError(w, errdefs.NotFoundf("task %s", r.PathValue("id")))
		return
	}
	s.writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Snapshot(); err != nil {
		s.writeError(w, err)
		return
	}
	metrics.SnapshotsTotal.Inc()
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
