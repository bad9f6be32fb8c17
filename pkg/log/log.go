package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Format selects the log output encoding
type Format string

const (
	// FormatConsole renders human-readable lines for interactive use
	FormatConsole Format = "console"
	// FormatJSON renders one JSON object per line for log shipping
	FormatJSON Format = "json"
)

// Level names accepted by Init. Anything zerolog.ParseLevel
// understands works as well.
const (
	DebugLevel = "debug"
	InfoLevel  = "info"
	WarnLevel  = "warn"
	ErrorLevel = "error"
)

// Config holds logging configuration
type Config struct {
	Level  string
	Format Format
	Output io.Writer
}

var (
	mu   sync.RWMutex
	base = zerolog.New(io.Discard)
)

// Init configures the daemon-wide base logger. An unknown level or
// format is an error rather than a silent fallback, so a typo in
// --log-level fails fast instead of logging at the wrong level for
// the life of the process.
func Init(cfg Config) error {
	name := strings.ToLower(strings.TrimSpace(cfg.Level))
	if name == "" {
		name = InfoLevel
	}
	level, err := zerolog.ParseLevel(name)
	if err != nil {
		return fmt.Errorf("unknown log level %q", cfg.Level)
	}

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	var logger zerolog.Logger
	switch cfg.Format {
	case FormatJSON:
		logger = zerolog.New(out)
	case FormatConsole, "":
		logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		})
	default:
		return fmt.Errorf("unknown log format %q", cfg.Format)
	}

	mu.Lock()
	base = logger.Level(level).With().Timestamp().Logger()
	mu.Unlock()
	return nil
}

// Base returns the configured base logger. Before Init runs it
// discards everything, which keeps packages quiet when embedded in
// tests or other programs that never configure logging.
func Base() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// Component returns a child logger tagged with a daemon component
// name (store, scheduler, bus, session, ...). Every long-lived
// component derives its logger here once at construction.
func Component(name string) zerolog.Logger {
	return Base().With().Str("component", name).Logger()
}

// WithTask tags a logger with the task id, and the owning worker when
// known. Scheduler and session lines about a task carry both so a
// task's history can be followed across components with one filter.
func WithTask(logger zerolog.Logger, taskID, workerID string) zerolog.Logger {
	ctx := logger.With().Str("task_id", taskID)
	if workerID != "" {
		ctx = ctx.Str("worker_id", workerID)
	}
	return ctx.Logger()
}
