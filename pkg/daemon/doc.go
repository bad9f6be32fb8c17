/*
Package daemon is cortexd's composition root: it builds the core from
configuration and owns component lifecycle.

# Start and stop order

Components start in dependency order and stop in reverse:

	start                                stop
	─────                                ────
	1. event broker                      6. event broker
	2. persistence (Load, then Start)    5. persistence (flush + final
	3. message bus                          snapshot)
	4. session layer (WS listener)       4. message bus
	5. operator API (HTTP listener)      3. session hub (close all)
	6. liveness monitor                  2. operator API + WS servers
	                                        (graceful HTTP shutdown)
	                                     1. liveness monitor

Load runs before the store accepts writers, so restored state is never
interleaved with live mutations; the persister hook is attached only
after Load succeeds, so replayed operations are not re-logged.

Stop ceases accepting new work first (listeners shut down, sessions
closed), then flushes persistence, then drains the broker. The whole
sequence is bounded by the configured shutdown budget; Run enforces a
hard cap slightly above it so a wedged component cannot hang process
exit forever.

# Two listeners

The operator API and the worker session layer bind separate ports
(httpPort and wsPort) on the configured host. Workers connect to the
session port and speak the frame protocol; everything else goes
through the HTTP port.

# Usage

	cfg, _ := config.Preset("production")
	d, err := daemon.New(cfg, version)
	if err != nil { ... }

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return d.Run(ctx) // blocks until signal, then graceful stop

New validates the configuration and wires store, engine, bus,
scheduler, hub, API server, and monitor together; nothing is global,
so multiple daemons coexist in one test process on distinct ports.
Accessors (Store, Scheduler, Bus, Broker, Hub) expose the wired
components to tests and embedders.

# See also

  - pkg/config - the configuration surface and presets
  - cmd/cortexd - the CLI that drives this package
*/
package daemon
