package store

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ry-ops/cortexd/pkg/log"
)

// Collection names owned by the store
const (
	CollectionWorkers     = "workers"
	CollectionTasks       = "tasks"
	CollectionAssignments = "assignments"
	CollectionWorkerTasks = "workerTasks"
	CollectionMetadata    = "metadata"
)

var collectionNames = []string{
	CollectionWorkers,
	CollectionTasks,
	CollectionAssignments,
	CollectionWorkerTasks,
	CollectionMetadata,
}

// Op identifies a mutation kind
type Op string

const (
	OpSet    Op = "set"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
	OpClear  Op = "clear"
)

// Change describes a single committed mutation. Value is a reference
// to the stored value; consumers must treat it as immutable.
type Change struct {
	Collection string
	Key        string
	Op         Op
	Value      any
	Timestamp  int64
}

// Topic returns the subscription topic for the change (collection:op)
func (c Change) Topic() string {
	return c.Collection + ":" + string(c.Op)
}

// Persister receives committed mutations and snapshot requests. The
// write path calls Record synchronously, so implementations must not
// perform blocking I/O there; they buffer and flush on their own
// cadence.
type Persister interface {
	Record(change Change) error
}

// Store is the authoritative in-memory state store. All mutations run
// under a single exclusive write discipline; readers proceed
// concurrently between writes. Every mutation emits a Change to
// subscribers in mutation order.
type Store struct {
	dataMu      sync.RWMutex
	collections map[string]map[string]any

	// writeMu serializes writers, including whole transactions. It is
	// never held across I/O; persistence flushing happens elsewhere.
	writeMu  sync.Mutex
	txnOwner string

	subMu sync.RWMutex
	subs  map[int]func(Change)
	nextSub int

	clockMu sync.Mutex
	nowFn   func() int64
	lastNow int64

	persister Persister
	logger    zerolog.Logger
}

// New creates an empty store
func New() *Store {
	s := &Store{
		collections: make(map[string]map[string]any, len(collectionNames)),
		subs:        make(map[int]func(Change)),
		nowFn:       func() int64 { return time.Now().UnixMilli() },
		logger:      log.Component("store"),
	}
	for _, name := range collectionNames {
		s.collections[name] = make(map[string]any)
	}
	return s
}

// SetPersister attaches the persistence engine. Must be called before
// the daemon starts accepting writes.
func (s *Store) SetPersister(p Persister) {
	s.persister = p
}

// SetClock overrides the time source (tests only)
func (s *Store) SetClock(now func() int64) {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	s.nowFn = now
}

// Now returns the store's monotone non-decreasing wall-clock in ms.
// All entity timestamps come from this single source.
func (s *Store) Now() int64 {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	now := s.nowFn()
	if now < s.lastNow {
		now = s.lastNow
	}
	s.lastNow = now
	return now
}

// Subscribe registers a change callback invoked synchronously in
// mutation order. Callbacks must not mutate the store; they may read.
// Returns an unsubscribe function.
func (s *Store) Subscribe(fn func(Change)) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) emit(change Change) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for _, fn := range s.subs {
		fn(change)
	}
}

func (s *Store) record(change Change) {
	if s.persister == nil {
		return
	}
	if err := s.persister.Record(change); err != nil {
		// Persistence is best-effort; the store stays authoritative
		s.logger.Error().Err(err).
			Str("collection", change.Collection).
			Str("key", change.Key).
			Msg("Failed to record mutation")
	}
}

// apply performs a mutation under the data lock and fans out the
// change event. Caller must hold writeMu.
func (s *Store) apply(change Change, persist bool) {
	s.dataMu.Lock()
	coll, ok := s.collections[change.Collection]
	if !ok {
		coll = make(map[string]any)
		s.collections[change.Collection] = coll
	}
	switch change.Op {
	case OpSet, OpUpdate:
		coll[change.Key] = change.Value
	case OpDelete:
		delete(coll, change.Key)
	case OpClear:
		s.collections[change.Collection] = make(map[string]any)
	}
	s.dataMu.Unlock()

	s.emit(change)
	if persist {
		s.record(change)
	}
}

// Get returns the value for a key
func (s *Store) Get(collection, key string) (any, bool) {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	v, ok := s.collections[collection][key]
	return v, ok
}

// Has reports whether a key exists
func (s *Store) Has(collection, key string) bool {
	_, ok := s.Get(collection, key)
	return ok
}

// Size returns the number of entries in a collection
func (s *Store) Size(collection string) int {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	return len(s.collections[collection])
}

// Keys returns all keys of a collection in unspecified order
func (s *Store) Keys(collection string) []string {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	keys := make([]string, 0, len(s.collections[collection]))
	for k := range s.collections[collection] {
		keys = append(keys, k)
	}
	return keys
}

// GetAll returns all values of a collection in unspecified order
func (s *Store) GetAll(collection string) []any {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	values := make([]any, 0, len(s.collections[collection]))
	for _, v := range s.collections[collection] {
		values = append(values, v)
	}
	return values
}

// GetAllEntries returns a copy of a collection's key/value map
func (s *Store) GetAllEntries(collection string) map[string]any {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	entries := make(map[string]any, len(s.collections[collection]))
	for k, v := range s.collections[collection] {
		entries[k] = v
	}
	return entries
}

// Set writes a value as a single-operation write
func (s *Store) Set(collection, key string, value any) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.apply(Change{Collection: collection, Key: key, Op: OpSet, Value: value, Timestamp: s.Now()}, true)
}

// Update applies a merge function to the current value and stores the
// result. Returns false when the key does not exist.
func (s *Store) Update(collection, key string, merge func(old any) any) bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	old, ok := s.Get(collection, key)
	if !ok {
		return false
	}
	s.apply(Change{Collection: collection, Key: key, Op: OpUpdate, Value: merge(old), Timestamp: s.Now()}, true)
	return true
}

// Delete removes a key. Returns false when the key does not exist.
func (s *Store) Delete(collection, key string) bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if !s.Has(collection, key) {
		return false
	}
	s.apply(Change{Collection: collection, Key: key, Op: OpDelete, Timestamp: s.Now()}, true)
	return true
}

// Clear removes all entries from a collection
func (s *Store) Clear(collection string) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.apply(Change{Collection: collection, Op: OpClear, Timestamp: s.Now()}, true)
}
