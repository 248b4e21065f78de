// Package waitdir implements the in-process rendezvous directories the
// wait manager blocks on: a mapping from (session, path) to a one-shot
// notification, reference-counted so concurrent waiters on the same
// key coalesce onto a single channel and the last cancellation tears
// the slot down.
//
// A participant owns exactly two directories, read_release and
// write_release (see spec.md §4.4); both are instances of the same
// Directory type.
package waitdir
