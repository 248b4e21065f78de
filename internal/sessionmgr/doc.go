// Package sessionmgr implements the session manager: CAS-looped
// begin/update/end/add_entry/remove_entry operations over
// sessionmodel.Session, the lazily-created, shared
// wait-for-termination futures keyed by session, and the two
// background tasks every participant runs from bootstrap — the lease
// renewer and the ephemeral-cleanup cleaner (spec.md §4.5).
package sessionmgr
