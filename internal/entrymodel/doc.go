// Package entrymodel implements the stored-entry value type and its
// pure transformations — the unit of compare-and-swap in the
// coordination engine's backing store.
//
// Entry is immutable: every transformation method returns a new Entry
// (or, for Remove, a nil *Entry tombstone) rather than mutating the
// receiver. A transformation that would not change observable state
// returns its receiver's own value unchanged and leaves
// StorageVersion untouched, so callers can cheaply detect a no-op by
// comparing StorageVersion before and after.
//
// Every transformation documents a precondition. Preconditions are not
// runtime/user errors — violating one indicates a bug in the caller
// (the lock manager failed to serialize access correctly), so
// violations panic with a *PreconditionError rather than returning an
// error value. Callers at a task boundary (the lock manager, the
// exchange manager's dispatch goroutines) recover these, log them as
// corruption, and tear down the local session.
package entrymodel
