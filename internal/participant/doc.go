// Package participant wires the session manager, entry cache, wait
// manager, lock manager and exchange manager into the single
// peer-symmetric container a coordsvc process embeds, and exposes the
// public façade (Get, Create, Delete, SetValue) that every boundary
// operation in spec.md §4.1-4.2 is built from.
//
// Construction resolves spec.md §9's one residual dependency cycle —
// the lock manager needs the exchange manager as its release
// broadcaster, and the exchange manager needs the lock manager as its
// read-lock releaser on invalidation receipt — by constructing the
// exchange manager with a nil releaser and wiring it in with
// exchange.Manager.SetReadLockReleaser once the lock manager exists,
// before any background task starts.
package participant
