// Package sessionid implements the session identifier format used
// throughout the coordination engine: an 8-byte, big-endian, time-based
// monotone counter concatenated with a serialized transport address.
// Address serialization itself is an external collaborator (see
// spec.md §1 Out of scope / §6 Session id format); this package treats
// the address as an opaque string and only owns the counter and the
// round-trippable textual encoding used for logs, map keys, and the
// exchange wire format.
package sessionid
