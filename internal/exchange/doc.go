// Package exchange implements the point-to-point notification protocol
// participants use to hint each other about lock releases and cache
// invalidation requests.
//
// Three message types share one wire format (see spec.md §4.6):
// InvalidateCacheEntry, ReleasedReadLock, and ReleasedWriteLock. Every
// send is best-effort — a transport failure is logged and swallowed,
// never propagated as an operation error, because correctness never
// depends on these notifications landing: the wait manager's
// exponential-backoff poll against the backing store is the safety
// net (see internal/waitmgr).
//
// The manager depends only on a Transport, the storage and session
// contracts, the local cache, and a ReadLockReleaser capability
// supplied by the lock manager, breaking the lock/wait/exchange
// dependency cycle described in spec.md §9 without any lazy-provider
// indirection: internal/participant constructs every component once,
// hands each the narrow capability interfaces it needs, and wires the
// ReadLockReleaser in through Manager.SetReadLockReleaser once the
// lock manager exists, before Run starts.
package exchange
