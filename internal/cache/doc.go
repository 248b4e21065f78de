// Package cache implements the participant-local entry cache: one
// slot per path, each carrying a cache-version, an optionally-cached
// Entry, and the pair of local mutexes the lock manager uses for its
// local-then-global locking discipline (spec.md §4.3/§4.7).
//
// A cache slot's presence is permanent once created (paths are not
// evicted, only invalidated) — only the content of the slot and its
// cache-version change over the slot's lifetime. Invalidation never
// releases a held global lock by itself; that sequencing is the lock
// manager's responsibility, preserved through the receipt handling
// described in spec.md §4.6.
package cache
