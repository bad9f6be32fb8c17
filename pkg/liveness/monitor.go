package liveness

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ry-ops/cortexd/pkg/events"
	"github.com/ry-ops/cortexd/pkg/log"
	"github.com/ry-ops/cortexd/pkg/metrics"
	"github.com/ry-ops/cortexd/pkg/scheduler"
	"github.com/ry-ops/cortexd/pkg/store"
	"github.com/ry-ops/cortexd/pkg/types"
)

// Monitor sweeps worker heartbeats and reclaims tasks from workers
// that went silent past the timeout. Session closes do not trigger
// reclamation directly; a worker keeps its tasks until the timeout
// lapses so it can reconnect.
type Monitor struct {
	store     *store.Store
	scheduler *scheduler.Scheduler
	broker    *events.Broker
	interval  time.Duration
	timeout   time.Duration
	logger    zerolog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}
}

// NewMonitor creates a liveness monitor
func NewMonitor(s *store.Store, sched *scheduler.Scheduler, broker *events.Broker, interval, timeout time.Duration) *Monitor {
	return &Monitor{
		store:     s,
		scheduler: sched,
		broker:    broker,
		interval:  interval,
		timeout:   timeout,
		logger:    log.Component("liveness"),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start begins the sweep loop
func (m *Monitor) Start() {
	go m.run()
}

// Stop stops the sweep loop
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	<-m.doneCh
}

func (m *Monitor) run() {
	defer close(m.doneCh)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info().
		Dur("interval", m.interval).
		Dur("timeout", m.timeout).
		Msg("Liveness monitor started")

	for {
		select {
		case <-ticker.C:
			m.Sweep()
		case <-m.stopCh:
			m.logger.Info().Msg("Liveness monitor stopped")
			return
		}
	}
}

// Sweep runs one liveness cycle over all workers, skipping offline
// workers that no longer hold tasks
func (m *Monitor) Sweep() {
	metrics.HeartbeatSweeps.Inc()
	now := m.store.Now()
	timeoutMs := m.timeout.Milliseconds()

	for _, worker := range m.store.ListWorkers() {
		gap := now - worker.LastHeartbeatAt
		if gap <= timeoutMs {
			continue
		}
		// A worker whose session closed is already offline but keeps
		// its tasks until the timeout lapses.
		if worker.Status == types.WorkerStatusOffline && m.store.WorkerTasks(worker.ID).Len() == 0 {
			continue
		}
		m.markOffline(worker, gap)
	}
}

func (m *Monitor) markOffline(worker *types.Worker, gap int64) {
	m.logger.Warn().
		Str("worker_id", worker.ID).
		Int64("silent_ms", gap).
		Msg("Worker heartbeat timed out, marking offline")

	released := m.scheduler.HandleWorkerTimeout(worker.ID)
	metrics.WorkerTimeouts.Inc()
	m.broker.Emit(events.EventWorkerTimeout, "", "worker_id", worker.ID)

	if released > 0 {
		m.logger.Info().
			Str("worker_id", worker.ID).
			Int("released_tasks", released).
			Msg("Reassigned tasks from offline worker")
	}
}
