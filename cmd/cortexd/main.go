package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ry-ops/cortexd/pkg/client"
	"github.com/ry-ops/cortexd/pkg/config"
	"github.com/ry-ops/cortexd/pkg/daemon"
	"github.com/ry-ops/cortexd/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "cortexd",
	Short: "Cortexd - coordination daemon for master/worker fleets",
	Long: `Cortexd is the in-memory coordination core for a fleet of
long-running workers: an authoritative state store, a priority message
bus, a capability-aware scheduler, and a liveness monitor, exposed
over a WebSocket session channel for workers and an HTTP API for
operators.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Cortexd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(workersCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(snapshotCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	format := log.FormatConsole
	if logJSON {
		format = log.FormatJSON
	}
	if err := log.Init(log.Config{Level: logLevel, Format: format}); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the coordination daemon",
	Long: `Run the cortexd coordination daemon.

Configuration resolves in order: the config file if given, otherwise
the preset or defaults; then CORTEXD_* environment variables, then
flags. A config file is read over the defaults, so --preset has no
effect when --config is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveConfig(cmd)
		if err != nil {
			return err
		}

		d, err := daemon.New(cfg, Version)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		fmt.Printf("Starting cortexd %s\n", Version)
		fmt.Printf("  API:         http://%s:%d\n", cfg.Host, cfg.HTTPPort)
		fmt.Printf("  Sessions:    ws://%s:%d\n", cfg.Host, cfg.WSPort)
		fmt.Printf("  Persistence: %s\n", cfg.Persistence)

		return d.Run(ctx)
	},
}

func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if preset, _ := cmd.Flags().GetString("preset"); preset != "" {
		cfg, err = config.Preset(preset)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.DefaultConfig()
	}

	if file, _ := cmd.Flags().GetString("config"); file != "" {
		cfg, err = config.LoadFile(file)
		if err != nil {
			return nil, err
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	if cmd.Flags().Changed("http-port") {
		cfg.HTTPPort, _ = cmd.Flags().GetInt("http-port")
	}
	if cmd.Flags().Changed("ws-port") {
		cfg.WSPort, _ = cmd.Flags().GetInt("ws-port")
	}
	if cmd.Flags().Changed("host") {
		cfg.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("persistence") {
		mode, _ := cmd.Flags().GetString("persistence")
		cfg.Persistence = config.PersistenceMode(mode)
	}
	if cmd.Flags().Changed("snapshot-path") {
		cfg.SnapshotPath, _ = cmd.Flags().GetString("snapshot-path")
	}
	if cmd.Flags().Changed("wal-path") {
		cfg.WALPath, _ = cmd.Flags().GetString("wal-path")
	}
	if cmd.Flags().Changed("max-tasks-per-worker") {
		cfg.MaxTasksPerWorker, _ = cmd.Flags().GetInt("max-tasks-per-worker")
	}

	return cfg, nil
}

func init() {
	daemonCmd.Flags().String("config", "", "YAML configuration file")
	daemonCmd.Flags().String("preset", "", "Configuration preset (development, production, high-availability, testing)")
	daemonCmd.Flags().Int("http-port", 8420, "Operator API port")
	daemonCmd.Flags().Int("ws-port", 8421, "Worker session port")
	daemonCmd.Flags().String("host", "0.0.0.0", "Bind address")
	daemonCmd.Flags().String("persistence", "", "Persistence mode (memory-only, periodic-snapshot, write-ahead-log)")
	daemonCmd.Flags().String("snapshot-path", "", "Snapshot file path")
	daemonCmd.Flags().String("wal-path", "", "Write-ahead log path")
	daemonCmd.Flags().Int("max-tasks-per-worker", 3, "Per-worker task capacity")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon health and metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		health, err := c.Health()
		if err != nil {
			return err
		}
		m, err := c.Metrics()
		if err != nil {
			return err
		}
		fmt.Printf("Status:       %s (v%s)\n", health.Status, health.Version)
		fmt.Printf("Uptime:       %s\n", (time.Duration(health.UptimeMs) * time.Millisecond).Round(time.Second))
		fmt.Printf("Workers:      %d active\n", m.ActiveWorkers)
		fmt.Printf("Tasks:        %d active, %d processed, %d failed\n",
			m.ActiveTasks, m.TotalTasksProcessed, m.TotalTasksFailed)
		fmt.Printf("Operations:   %d (%.1f/s, avg latency %.2fms)\n",
			m.Operations, m.OperationsPerSecond, m.AverageLatencyMs)
		return nil
	},
}

var workersCmd = &cobra.Command{
	Use:   "workers",
	Short: "List registered workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		workers, err := newClient(cmd).ListWorkers()
		if err != nil {
			return err
		}
		fmt.Printf("%-20s %-10s %-8s %-10s %s\n", "ID", "STATUS", "ACTIVE", "COMPLETED", "CAPABILITIES")
		for _, w := range workers {
			fmt.Printf("%-20s %-10s %-8d %-10d %v\n",
				w.ID, w.Status, w.ActiveTaskCount, w.CompletedCount, w.Capabilities.Sorted())
		}
		return nil
	},
}

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		tasks, err := newClient(cmd).ListTasks(status)
		if err != nil {
			return err
		}
		fmt.Printf("%-36s %-12s %-10s %-20s %s\n", "ID", "STATUS", "PRIORITY", "ASSIGNED TO", "PROGRESS")
		for _, t := range tasks {
			fmt.Printf("%-36s %-12s %-10s %-20s %d%%\n",
				t.ID, t.Status, t.Priority, t.AssignedTo, t.Progress)
		}
		return nil
	},
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Force a persistence snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient(cmd).Snapshot(); err != nil {
			return err
		}
		fmt.Println("Snapshot written")
		return nil
	},
}

func newClient(cmd *cobra.Command) *client.Client {
	addr, _ := cmd.Flags().GetString("addr")
	return client.NewClient(addr)
}

func init() {
	for _, cmd := range []*cobra.Command{statusCmd, workersCmd, tasksCmd, snapshotCmd} {
		cmd.Flags().String("addr", "localhost:8420", "Daemon API address")
	}
	tasksCmd.Flags().String("status", "", "Filter by task status")
}
