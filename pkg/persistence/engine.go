package persistence

import (
	"github.com/ry-ops/cortexd/pkg/store"
)

// Engine is the pluggable persistence strategy behind the state store.
// All I/O is best-effort from the store's perspective: failures are
// observable through the event broker and stats but never block or
// revert in-memory operations.
type Engine interface {
	store.Persister

	// Load restores persisted state into the store on startup
	Load(s *store.Store) error

	// Snapshot forces a full state snapshot now
	Snapshot() error

	// Start launches background flush/snapshot loops
	Start()

	// Stop flushes outstanding writes and stops background loops
	Stop() error

	// Stats reports persistence counters for the metrics surface
	Stats() Stats
}

// Stats holds persistence counters
type Stats struct {
	Strategy      string `json:"strategy"`
	Snapshots     int64  `json:"snapshots"`
	WALWrites     int64  `json:"walWrites"`
	WALBufferSize int    `json:"walBufferSize"`
	Errors        int64  `json:"errors"`
}

// Memory is the no-op engine for memory-only mode
type Memory struct{}

// NewMemory creates the memory-only engine
func NewMemory() *Memory { return &Memory{} }

func (*Memory) Record(store.Change) error { return nil }
func (*Memory) Load(*store.Store) error   { return nil }
func (*Memory) Snapshot() error           { return nil }
func (*Memory) Start()                    {}
func (*Memory) Stop() error               { return nil }
func (*Memory) Stats() Stats              { return Stats{Strategy: "memory-only"} }
