// Package sessionmodel implements the stored-session value type: an
// immutable record of a session's lease, tombstone state, and owned
// ephemeral paths, plus the pure liveness rule derived from it.
//
// Like entrymodel.Entry, Session is immutable — every transformation
// returns a new value — and liveness must always be recomputed from
// the session's lease_end against the caller's clock rather than
// cached, since a session may expire at any suspension point (see
// spec.md §3 "Participants must treat liveness as a derived
// property").
package sessionmodel
