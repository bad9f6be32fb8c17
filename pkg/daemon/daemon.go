package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/ry-ops/cortexd/pkg/api"
	"github.com/ry-ops/cortexd/pkg/bus"
	"github.com/ry-ops/cortexd/pkg/config"
	"github.com/ry-ops/cortexd/pkg/events"
	"github.com/ry-ops/cortexd/pkg/liveness"
	"github.com/ry-ops/cortexd/pkg/log"
	"github.com/ry-ops/cortexd/pkg/metrics"
	"github.com/ry-ops/cortexd/pkg/persistence"
	"github.com/ry-ops/cortexd/pkg/scheduler"
	"github.com/ry-ops/cortexd/pkg/session"
	"github.com/ry-ops/cortexd/pkg/store"
)

// Daemon wires the core components together and owns their lifecycle:
// persistence, state store, message bus, session layer, operator API,
// and liveness monitor start in dependency order and stop in reverse.
type Daemon struct {
	cfg     *config.Config
	version string
	logger  zerolog.Logger

	store     *store.Store
	engine    persistence.Engine
	broker    *events.Broker
	bus       *bus.Bus
	core      *metrics.Core
	scheduler *scheduler.Scheduler
	hub       *session.Hub
	apiServer *api.Server
	monitor   *liveness.Monitor
	wsServer  *http.Server
}

// New builds a daemon from configuration
func New(cfg *config.Config, version string) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st := store.New()
	broker := events.NewBroker()
	core := metrics.NewCore()

	var engine persistence.Engine
	switch cfg.Persistence {
	case config.PersistenceSnapshot:
		engine = persistence.NewSnapshotEngine(st, broker, cfg.SnapshotPath, cfg.SnapshotInterval)
	case config.PersistenceWAL:
		engine = persistence.NewWALEngine(st, broker, cfg.SnapshotPath, cfg.WALPath, cfg.SnapshotInterval, cfg.WALSyncInterval)
	default:
		engine = persistence.NewMemory()
	}

	b := bus.New(bus.Config{
		ProcessingInterval: cfg.ProcessingInterval,
		BatchLimit:         cfg.BatchLimit,
		MaxQueueSize:       cfg.MaxQueueSize,
		MaxRetries:         cfg.MaxRetries,
	}, broker)

	sched := scheduler.New(st, b, broker, core, cfg.MaxTasksPerWorker)
	hub := session.NewHub(st, sched, b, cfg.HeartbeatInterval)
	apiServer := api.NewServer(st, sched, engine, b, broker, core, version)
	monitor := liveness.NewMonitor(st, sched, broker, cfg.HeartbeatInterval, cfg.HeartbeatTimeout)

	return &Daemon{
		cfg:       cfg,
		version:   version,
		logger:    log.Component("daemon"),
		store:     st,
		engine:    engine,
		broker:    broker,
		bus:       b,
		core:      core,
		scheduler: sched,
		hub:       hub,
		apiServer: apiServer,
		monitor:   monitor,
	}, nil
}

// Store exposes the state store (tests and embedders)
func (d *Daemon) Store() *store.Store { return d.store }

// Scheduler exposes the scheduler (tests and embedders)
func (d *Daemon) Scheduler() *scheduler.Scheduler { return d.scheduler }

// Bus exposes the message bus (tests and embedders)
func (d *Daemon) Bus() *bus.Bus { return d.bus }

// Broker exposes the event broker (tests and embedders)
func (d *Daemon) Broker() *events.Broker { return d.broker }

// Hub exposes the session hub (tests and embedders)
func (d *Daemon) Hub() *session.Hub { return d.hub }

// Start brings the daemon up in dependency order
func (d *Daemon) Start() error {
	d.broker.Start()

	if err := d.engine.Load(d.store); err != nil {
		return fmt.Errorf("failed to load persisted state: %w", err)
	}
	d.store.SetPersister(d.engine)
	d.engine.Start()

	d.bus.Start()

	wsAddr := net.JoinHostPort(d.cfg.Host, fmt.Sprint(d.cfg.WSPort))
	wsLis, err := net.Listen("tcp", wsAddr)
	if err != nil {
		return fmt.Errorf("failed to bind session port: %w", err)
	}
	d.wsServer = &http.Server{Handler: d.hub}
	go func() {
		if err := d.wsServer.Serve(wsLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Error().Err(err).Msg("Session server stopped")
		}
	}()
	d.logger.Info().Str("addr", wsAddr).Msg("Session layer listening")

	httpAddr := net.JoinHostPort(d.cfg.Host, fmt.Sprint(d.cfg.HTTPPort))
	if err := d.apiServer.Start(httpAddr); err != nil {
		return fmt.Errorf("failed to start operator API: %w", err)
	}

	d.monitor.Start()

	d.logger.Info().
		Str("version", d.version).
		Str("persistence", string(d.cfg.Persistence)).
		Msg("Daemon started")
	return nil
}

// Stop shuts the daemon down in reverse order: stop accepting work,
// close sessions, flush persistence, drain subscribers.
func (d *Daemon) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.ShutdownTimeout)
	defer cancel()

	d.monitor.Stop()

	if err := d.apiServer.Stop(ctx); err != nil {
		d.logger.Warn().Err(err).Msg("Operator API shutdown incomplete")
	}
	if d.wsServer != nil {
		if err := d.wsServer.Shutdown(ctx); err != nil {
			d.logger.Warn().Err(err).Msg("Session server shutdown incomplete")
		}
	}
	d.hub.Close()

	d.bus.Stop()

	if err := d.engine.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Persistence flush failed during shutdown")
	}

	d.broker.Stop()

	d.logger.Info().Msg("Daemon stopped")
	return nil
}

// Run starts the daemon and blocks until the context is cancelled,
// then performs a graceful stop within the shutdown budget.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	stopDone := make(chan error, 1)
	go func() { stopDone <- d.Stop() }()
	select {
	case err := <-stopDone:
		return err
	case <-time.After(d.cfg.ShutdownTimeout + 5*time.Second):
		return fmt.Errorf("shutdown exceeded budget")
	}
}
