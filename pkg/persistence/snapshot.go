package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/ry-ops/cortexd/pkg/events"
	"github.com/ry-ops/cortexd/pkg/log"
	"github.com/ry-ops/cortexd/pkg/store"
)

// SnapshotEngine periodically serializes the full store state to a
// JSON file, written to a temp file and atomically renamed into place.
type SnapshotEngine struct {
	store    *store.Store
	broker   *events.Broker
	path     string
	interval time.Duration
	logger   zerolog.Logger

	snapMu    sync.Mutex
	snapshots atomic.Int64
	errors    atomic.Int64

	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}
}

// NewSnapshotEngine creates a periodic-snapshot engine
func NewSnapshotEngine(s *store.Store, broker *events.Broker, path string, interval time.Duration) *SnapshotEngine {
	return &SnapshotEngine{
		store:    s,
		broker:   broker,
		path:     path,
		interval: interval,
		logger:   log.Component("persistence"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Record is a no-op; snapshot mode persists on cadence only
func (e *SnapshotEngine) Record(store.Change) error { return nil }

// Load restores the latest snapshot file if one exists
func (e *SnapshotEngine) Load(s *store.Store) error {
	snap, err := ReadSnapshot(e.path)
	if err != nil {
		return err
	}
	if snap == nil {
		return nil
	}
	s.Import(snap)
	e.logger.Info().
		Str("path", e.path).
		Int("workers", len(snap.Workers)).
		Int("tasks", len(snap.Tasks)).
		Msg("Restored state from snapshot")
	return nil
}

// Snapshot writes the full state now
func (e *SnapshotEngine) Snapshot() error {
	e.snapMu.Lock()
	defer e.snapMu.Unlock()
	if err := WriteSnapshot(e.path, e.store.Export()); err != nil {
		e.errors.Add(1)
		e.broker.Emit(events.EventPersistenceError, err.Error(), "path", e.path)
		return err
	}
	e.snapshots.Add(1)
	return nil
}

// Start launches the snapshot ticker
func (e *SnapshotEngine) Start() {
	go e.run()
}

// Stop takes a final snapshot and stops the ticker
func (e *SnapshotEngine) Stop() error {
	e.stopOnce.Do(func() { close(e.stopCh) })
	<-e.doneCh
	return e.Snapshot()
}

// Stats reports persistence counters
func (e *SnapshotEngine) Stats() Stats {
	return Stats{
		Strategy:  "periodic-snapshot",
		Snapshots: e.snapshots.Load(),
		Errors:    e.errors.Load(),
	}
}

func (e *SnapshotEngine) run() {
	defer close(e.doneCh)
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := e.Snapshot(); err != nil {
				e.logger.Error().Err(err).Msg("Periodic snapshot failed")
			}
		case <-e.stopCh:
			return
		}
	}
}

// WriteSnapshot serializes a snapshot and atomically replaces the file
// at path (temp file, fsync, rename).
func WriteSnapshot(path string, snap *store.Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// ReadSnapshot loads a snapshot file. A missing file is not an error;
// it returns (nil, nil).
func ReadSnapshot(path string) (*store.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	var snap store.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &snap, nil
}
