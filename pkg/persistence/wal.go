package persistence

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ry-ops/cortexd/pkg/events"
	"github.com/ry-ops/cortexd/pkg/log"
	"github.com/ry-ops/cortexd/pkg/store"
)

// walEntry is one line of the write-ahead log
type walEntry struct {
	Operation store.LoggedOp `json:"operation"`
	Timestamp int64          `json:"timestamp"`
}

// WALEngine appends every mutation to an in-memory buffer flushed to a
// log file on a sync cadence. Periodic snapshots still run and
// truncate the log tail on success. Startup loads the latest snapshot
// and replays log entries newer than it.
type WALEngine struct {
	store    *store.Store
	broker   *events.Broker
	snapshot *SnapshotEngine
	walPath  string
	interval time.Duration
	logger   zerolog.Logger

	bufMu  sync.Mutex
	buffer []walEntry

	walWrites atomic.Int64
	errors    atomic.Int64

	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}
}

// NewWALEngine creates a write-ahead-log engine. Snapshots are written
// to snapshotPath every snapshotInterval; the buffer is flushed to
// walPath every syncInterval.
func NewWALEngine(s *store.Store, broker *events.Broker, snapshotPath, walPath string, snapshotInterval, syncInterval time.Duration) *WALEngine {
	return &WALEngine{
		store:    s,
		broker:   broker,
		snapshot: NewSnapshotEngine(s, broker, snapshotPath, snapshotInterval),
		walPath:  walPath,
		interval: syncInterval,
		logger:   log.Component("persistence"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Record buffers one mutation for the next flush. Values are encoded
// here so later in-memory changes cannot alter the logged state.
func (e *WALEngine) Record(change store.Change) error {
	op, err := store.EncodeLogged(change)
	if err != nil {
		e.errors.Add(1)
		return err
	}
	e.bufMu.Lock()
	e.buffer = append(e.buffer, walEntry{Operation: op, Timestamp: change.Timestamp})
	e.bufMu.Unlock()
	return nil
}

// Load restores the latest snapshot, then replays WAL entries with
// timestamps newer than it.
func (e *WALEngine) Load(s *store.Store) error {
	var since int64
	snap, err := ReadSnapshot(e.snapshot.path)
	if err != nil {
		return err
	}
	if snap != nil {
		s.Import(snap)
		since = snap.Timestamps["exported_at"]
	}

	f, err := os.Open(e.walPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open WAL: %w", err)
	}
	defer f.Close()

	replayed := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry walEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			e.logger.Warn().Err(err).Msg("Skipping corrupt WAL entry")
			continue
		}
		if entry.Timestamp <= since {
			continue
		}
		if err := s.ApplyLogged(entry.Operation); err != nil {
			e.logger.Warn().Err(err).Msg("Skipping unreplayable WAL entry")
			continue
		}
		replayed++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to scan WAL: %w", err)
	}
	e.logger.Info().
		Str("path", e.walPath).
		Int("entries", replayed).
		Msg("Replayed write-ahead log")
	return nil
}

// Snapshot writes a full snapshot and truncates the WAL on success
func (e *WALEngine) Snapshot() error {
	if err := e.Flush(); err != nil {
		return err
	}
	if err := e.snapshot.Snapshot(); err != nil {
		return err
	}
	if err := os.Truncate(e.walPath, 0); err != nil && !os.IsNotExist(err) {
		e.errors.Add(1)
		e.broker.Emit(events.EventPersistenceError, err.Error(), "path", e.walPath)
		return fmt.Errorf("failed to truncate WAL: %w", err)
	}
	return nil
}

// Flush appends the buffered entries to the log file. On failure the
// entries are restored to the head of the buffer for retry.
func (e *WALEngine) Flush() error {
	e.bufMu.Lock()
	pending := e.buffer
	e.buffer = nil
	e.bufMu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	err := e.appendEntries(pending)
	if err != nil {
		e.bufMu.Lock()
		e.buffer = append(pending, e.buffer...)
		e.bufMu.Unlock()
		e.errors.Add(1)
		e.broker.Emit(events.EventPersistenceError, err.Error(), "path", e.walPath)
		return err
	}
	e.walWrites.Add(int64(len(pending)))
	return nil
}

func (e *WALEngine) appendEntries(entries []walEntry) error {
	f, err := os.OpenFile(e.walPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open WAL: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, entry := range entries {
		if err := enc.Encode(entry); err != nil {
			return fmt.Errorf("failed to encode WAL entry: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush WAL: %w", err)
	}
	return f.Sync()
}

// Start launches the sync and snapshot loops
func (e *WALEngine) Start() {
	go e.run()
}

// Stop flushes the buffer and takes a final snapshot
func (e *WALEngine) Stop() error {
	e.stopOnce.Do(func() { close(e.stopCh) })
	<-e.doneCh
	return e.Snapshot()
}

// Stats reports persistence counters
func (e *WALEngine) Stats() Stats {
	e.bufMu.Lock()
	buffered := len(e.buffer)
	e.bufMu.Unlock()
	return Stats{
		Strategy:      "write-ahead-log",
		Snapshots:     e.snapshot.snapshots.Load(),
		WALWrites:     e.walWrites.Load(),
		WALBufferSize: buffered,
		Errors:        e.errors.Load() + e.snapshot.errors.Load(),
	}
}

func (e *WALEngine) run() {
	defer close(e.doneCh)
	sync := time.NewTicker(e.interval)
	defer sync.Stop()
	snapshots := time.NewTicker(e.snapshot.interval)
	defer snapshots.Stop()

	for {
		select {
		case <-sync.C:
			if err := e.Flush(); err != nil {
				e.logger.Error().Err(err).Msg("WAL flush failed")
			}
		case <-snapshots.C:
			if err := e.Snapshot(); err != nil {
				e.logger.Error().Err(err).Msg("Periodic snapshot failed")
			}
		case <-e.stopCh:
			return
		}
	}
}
