// Package storage defines the compare-and-swap backing store contract
// used by the coordination engine, and provides two concrete
// implementations.
//
// # Overview
//
// Every stored value the engine manages — entries and sessions alike —
// carries a storage_version cookie. Reads return the cookie alongside
// the value; writes present the cookie they read back to the store and
// the store rejects the write (ErrVersionConflict) if the stored
// version has moved on. This is the single place in the system where
// "did my transform apply cleanly, or did I lose a race" gets decided;
// every manager above this package (lock manager, session manager)
// retries its own transform against a fresh read when it sees the
// conflict rather than treating it as a hard failure.
//
// # Implementations
//
// MemoryStore: an in-process map guarded by sync.RWMutex. No
// persistence; used for single-process tests and the in-process
// integration harness.
//
// BadgerStore: wraps a github.com/dgraph-io/badger/v4 database.
// Versioning is layered on top of Badger's own key-value model (Badger
// does not expose compare-and-swap directly) by storing the
// storage_version alongside the encoded value and checking it inside a
// Badger read-write transaction, which gives the check-then-set
// sequence Badger's own transaction isolation (see
// badger.DB.Update/View).
//
// # Concurrency
//
// All operations are safe for concurrent use. CAS conflicts are
// ordinary, expected outcomes (contention between sessions racing to
// acquire a lock), not storage errors — callers must check for
// ErrVersionConflict explicitly rather than treating every non-nil
// error identically.
package storage
