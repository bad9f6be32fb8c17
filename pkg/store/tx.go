package store

import (
	"fmt"
)

type txKey struct {
	collection string
	key        string
}

type txSnapshot struct {
	value   any
	existed bool
}

// Tx is a multi-operation transaction. It holds the store's exclusive
// write discipline from Begin until Commit or Rollback, so mutations
// from other writers cannot interleave. Mutations apply to in-memory
// state immediately and emit change events in order; Commit hands the
// recorded operations to the persistence engine, Rollback restores
// every touched key to its pre-transaction value.
type Tx struct {
	store     *Store
	owner     string
	done      bool
	ops       []Change
	snapshots map[txKey]txSnapshot
	order     []txKey
}

// Begin starts a transaction for the given owner. It blocks until the
// write discipline is available; at most one transaction is in flight
// at a time.
func (s *Store) Begin(owner string) *Tx {
	s.writeMu.Lock()
	s.txnOwner = owner
	return &Tx{
		store:     s,
		owner:     owner,
		snapshots: make(map[txKey]txSnapshot),
	}
}

func (tx *Tx) capture(collection, key string) {
	ck := txKey{collection, key}
	if _, seen := tx.snapshots[ck]; seen {
		return
	}
	prev, existed := tx.store.Get(collection, key)
	tx.snapshots[ck] = txSnapshot{value: prev, existed: existed}
	tx.order = append(tx.order, ck)
}

// Set writes a value within the transaction
func (tx *Tx) Set(collection, key string, value any) {
	tx.capture(collection, key)
	change := Change{Collection: collection, Key: key, Op: OpSet, Value: value, Timestamp: tx.store.Now()}
	tx.store.apply(change, false)
	tx.ops = append(tx.ops, change)
}

// Update applies a merge function within the transaction. Returns
// false when the key does not exist.
func (tx *Tx) Update(collection, key string, merge func(old any) any) bool {
	old, ok := tx.store.Get(collection, key)
	if !ok {
		return false
	}
	tx.capture(collection, key)
	change := Change{Collection: collection, Key: key, Op: OpUpdate, Value: merge(old), Timestamp: tx.store.Now()}
	tx.store.apply(change, false)
	tx.ops = append(tx.ops, change)
	return true
}

// Delete removes a key within the transaction
func (tx *Tx) Delete(collection, key string) bool {
	if !tx.store.Has(collection, key) {
		return false
	}
	tx.capture(collection, key)
	change := Change{Collection: collection, Key: key, Op: OpDelete, Timestamp: tx.store.Now()}
	tx.store.apply(change, false)
	tx.ops = append(tx.ops, change)
	return true
}

// Commit finishes the transaction and forwards the recorded operations
// to the persistence engine. Persistence failure does not revert
// in-memory state; it is reported through the store's logger and the
// engine's own error channel.
func (tx *Tx) Commit() error {
	if tx.done {
		return fmt.Errorf("transaction for %s already finished", tx.owner)
	}
	tx.done = true
	for _, op := range tx.ops {
		tx.store.record(op)
	}
	tx.release()
	return nil
}

// Rollback restores every touched key to its pre-transaction value,
// emitting change events for the restorations, and discards the
// recorded operations.
func (tx *Tx) Rollback() error {
	if tx.done {
		return fmt.Errorf("transaction for %s already finished", tx.owner)
	}
	tx.done = true
	// Restore in reverse touch order
	for i := len(tx.order) - 1; i >= 0; i-- {
		ck := tx.order[i]
		snap := tx.snapshots[ck]
		if snap.existed {
			tx.store.apply(Change{Collection: ck.collection, Key: ck.key, Op: OpSet, Value: snap.value, Timestamp: tx.store.Now()}, false)
		} else {
			tx.store.apply(Change{Collection: ck.collection, Key: ck.key, Op: OpDelete, Timestamp: tx.store.Now()}, false)
		}
	}
	tx.ops = nil
	tx.release()
	return nil
}

func (tx *Tx) release() {
	tx.store.txnOwner = ""
	tx.store.writeMu.Unlock()
}
