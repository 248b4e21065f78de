// Package waitmgr implements the wait manager: the blocking races that
// sit between the lock manager's CAS loop and the backing store,
// turning a peer's release notification (or an exponential-backoff
// poll, or a detected session termination) into "the lock is now
// available, re-read and continue" (spec.md §4.4).
package waitmgr
