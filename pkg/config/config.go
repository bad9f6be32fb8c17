package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ry-ops/cortexd/pkg/errdefs"
)

// PersistenceMode selects the persistence strategy
type PersistenceMode string

const (
	PersistenceMemoryOnly PersistenceMode = "memory-only"
	PersistenceSnapshot   PersistenceMode = "periodic-snapshot"
	PersistenceWAL        PersistenceMode = "write-ahead-log"
)

// Config holds the full daemon configuration surface
type Config struct {
	HTTPPort int
	WSPort   int
	Host     string

	Persistence      PersistenceMode
	SnapshotInterval time.Duration
	SnapshotPath     string
	WALPath          string
	WALSyncInterval  time.Duration

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	MaxTasksPerWorker int

	ProcessingInterval time.Duration
	MaxQueueSize       int
	MaxRetries         int
	BatchLimit         int

	ShutdownTimeout time.Duration
}

// DefaultConfig returns the baseline configuration
func DefaultConfig() *Config {
	return &Config{
		HTTPPort:           8420,
		WSPort:             8421,
		Host:               "0.0.0.0",
		Persistence:        PersistenceMemoryOnly,
		SnapshotInterval:   30 * time.Second,
		SnapshotPath:       "cortex-state.json",
		WALPath:            "cortex-wal.log",
		WALSyncInterval:    time.Second,
		HeartbeatInterval:  5 * time.Second,
		HeartbeatTimeout:   30 * time.Second,
		MaxTasksPerWorker:  3,
		ProcessingInterval: 10 * time.Millisecond,
		MaxQueueSize:       10000,
		MaxRetries:         3,
		BatchLimit:         100,
		ShutdownTimeout:    10 * time.Second,
	}
}

// Preset returns a named configuration preset
func Preset(name string) (*Config, error) {
	cfg := DefaultConfig()
	switch name {
	case "development":
		cfg.Persistence = PersistenceMemoryOnly
		cfg.HeartbeatTimeout = 60 * time.Second
	case "production":
		cfg.Persistence = PersistenceSnapshot
		cfg.SnapshotInterval = 30 * time.Second
	case "high-availability":
		cfg.Persistence = PersistenceWAL
		cfg.SnapshotInterval = 15 * time.Second
		cfg.WALSyncInterval = 500 * time.Millisecond
		cfg.HeartbeatInterval = 2 * time.Second
		cfg.HeartbeatTimeout = 10 * time.Second
	case "testing":
		cfg.Persistence = PersistenceMemoryOnly
		cfg.HeartbeatInterval = 50 * time.Millisecond
		cfg.HeartbeatTimeout = 200 * time.Millisecond
		cfg.ProcessingInterval = 5 * time.Millisecond
		cfg.ShutdownTimeout = time.Second
	default:
		return nil, errdefs.InvalidArgumentf("unknown preset %q", name)
	}
	return cfg, nil
}

// Duration accepts either a Go duration string ("5s") or a bare
// millisecond count in YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var ms int64
	if err := value.Decode(&ms); err == nil {
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return errdefs.InvalidArgumentf("duration %q", value.Value)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return errdefs.InvalidArgumentf("duration %q", s)
	}
	*d = Duration(parsed)
	return nil
}

// fileConfig is the YAML-facing shape; pointers distinguish unset
// keys from zero values so file settings overlay the defaults.
type fileConfig struct {
	HTTPPort           *int             `yaml:"httpPort"`
	WSPort             *int             `yaml:"wsPort"`
	Host               *string          `yaml:"host"`
	Persistence        *PersistenceMode `yaml:"persistence"`
	SnapshotInterval   *Duration        `yaml:"snapshotInterval"`
	SnapshotPath       *string          `yaml:"snapshotPath"`
	WALPath            *string          `yaml:"walPath"`
	WALSyncInterval    *Duration        `yaml:"walSyncInterval"`
	HeartbeatInterval  *Duration        `yaml:"heartbeatInterval"`
	HeartbeatTimeout   *Duration        `yaml:"heartbeatTimeout"`
	MaxTasksPerWorker  *int             `yaml:"maxTasksPerWorker"`
	ProcessingInterval *Duration        `yaml:"processingInterval"`
	MaxQueueSize       *int             `yaml:"maxQueueSize"`
	MaxRetries         *int             `yaml:"maxRetries"`
	BatchLimit         *int             `yaml:"batchLimit"`
	ShutdownTimeout    *Duration        `yaml:"shutdownTimeout"`
}

// LoadFile loads configuration from a YAML file over the defaults
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var file fileConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg := DefaultConfig()
	setInt := func(dst *int, src *int) {
		if src != nil {
			*dst = *src
		}
	}
	setStr := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	setDur := func(dst *time.Duration, src *Duration) {
		if src != nil {
			*dst = time.Duration(*src)
		}
	}
	setInt(&cfg.HTTPPort, file.HTTPPort)
	setInt(&cfg.WSPort, file.WSPort)
	setStr(&cfg.Host, file.Host)
	if file.Persistence != nil {
		cfg.Persistence = *file.Persistence
	}
	setDur(&cfg.SnapshotInterval, file.SnapshotInterval)
	setStr(&cfg.SnapshotPath, file.SnapshotPath)
	setStr(&cfg.WALPath, file.WALPath)
	setDur(&cfg.WALSyncInterval, file.WALSyncInterval)
	setDur(&cfg.HeartbeatInterval, file.HeartbeatInterval)
	setDur(&cfg.HeartbeatTimeout, file.HeartbeatTimeout)
	setInt(&cfg.MaxTasksPerWorker, file.MaxTasksPerWorker)
	setDur(&cfg.ProcessingInterval, file.ProcessingInterval)
	setInt(&cfg.MaxQueueSize, file.MaxQueueSize)
	setInt(&cfg.MaxRetries, file.MaxRetries)
	setInt(&cfg.BatchLimit, file.BatchLimit)
	setDur(&cfg.ShutdownTimeout, file.ShutdownTimeout)
	return cfg, nil
}

// ApplyEnv overlays CORTEXD_* environment variables onto the config.
// Each configuration key has a matching variable, e.g. CORTEXD_HTTP_PORT.
func (c *Config) ApplyEnv() error {
	var err error
	intVar := func(name string, dst *int) {
		if v, ok := os.LookupEnv(name); ok && err == nil {
			n, e := strconv.Atoi(v)
			if e != nil {
				err = errdefs.InvalidArgumentf("%s=%q", name, v)
				return
			}
			*dst = n
		}
	}
	durVar := func(name string, dst *time.Duration) {
		if v, ok := os.LookupEnv(name); ok && err == nil {
			// Accept plain millisecond counts as well as Go durations
			if n, e := strconv.Atoi(v); e == nil {
				*dst = time.Duration(n) * time.Millisecond
				return
			}
			d, e := time.ParseDuration(v)
			if e != nil {
				err = errdefs.InvalidArgumentf("%s=%q", name, v)
				return
			}
			*dst = d
		}
	}
	strVar := func(name string, dst *string) {
		if v, ok := os.LookupEnv(name); ok {
			*dst = v
		}
	}

	intVar("CORTEXD_HTTP_PORT", &c.HTTPPort)
	intVar("CORTEXD_WS_PORT", &c.WSPort)
	strVar("CORTEXD_HOST", &c.Host)
	if v, ok := os.LookupEnv("CORTEXD_PERSISTENCE"); ok {
		c.Persistence = PersistenceMode(v)
	}
	durVar("CORTEXD_SNAPSHOT_INTERVAL", &c.SnapshotInterval)
	strVar("CORTEXD_SNAPSHOT_PATH", &c.SnapshotPath)
	strVar("CORTEXD_WAL_PATH", &c.WALPath)
	durVar("CORTEXD_WAL_SYNC_INTERVAL", &c.WALSyncInterval)
	durVar("CORTEXD_HEARTBEAT_INTERVAL", &c.HeartbeatInterval)
	durVar("CORTEXD_HEARTBEAT_TIMEOUT", &c.HeartbeatTimeout)
	intVar("CORTEXD_MAX_TASKS_PER_WORKER", &c.MaxTasksPerWorker)
	durVar("CORTEXD_PROCESSING_INTERVAL", &c.ProcessingInterval)
	intVar("CORTEXD_MAX_QUEUE_SIZE", &c.MaxQueueSize)
	intVar("CORTEXD_MAX_RETRIES", &c.MaxRetries)
	intVar("CORTEXD_BATCH_LIMIT", &c.BatchLimit)
	durVar("CORTEXD_SHUTDOWN_TIMEOUT", &c.ShutdownTimeout)
	return err
}

// Validate checks the configuration for invalid combinations
func (c *Config) Validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return errdefs.InvalidArgumentf("httpPort %d", c.HTTPPort)
	}
	if c.WSPort <= 0 || c.WSPort > 65535 {
		return errdefs.InvalidArgumentf("wsPort %d", c.WSPort)
	}
	switch c.Persistence {
	case PersistenceMemoryOnly, PersistenceSnapshot, PersistenceWAL:
	default:
		return errdefs.InvalidArgumentf("persistence mode %q", c.Persistence)
	}
	if c.Persistence == PersistenceSnapshot || c.Persistence == PersistenceWAL {
		if c.SnapshotPath == "" {
			return errdefs.InvalidArgumentf("snapshotPath required for %s persistence", c.Persistence)
		}
	}
	if c.Persistence == PersistenceWAL && c.WALPath == "" {
		return errdefs.InvalidArgumentf("walPath required for write-ahead-log persistence")
	}
	if c.MaxTasksPerWorker < 1 {
		return errdefs.InvalidArgumentf("maxTasksPerWorker %d", c.MaxTasksPerWorker)
	}
	if c.HeartbeatTimeout < c.HeartbeatInterval {
		return errdefs.InvalidArgumentf("heartbeatTimeout %s shorter than heartbeatInterval %s",
			c.HeartbeatTimeout, c.HeartbeatInterval)
	}
	if c.MaxQueueSize < 1 {
		return errdefs.InvalidArgumentf("maxQueueSize %d", c.MaxQueueSize)
	}
	return nil
}
