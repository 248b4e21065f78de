// Package coordpath implements the hierarchical path identifiers used
// throughout the coordination name-space, mirroring the addressing
// scheme of a Chubby/ZooKeeper-style lock service.
//
// A Path is rooted and '/'-separated, e.g. "/locks/queue-a". Segments
// are held in unescaped form and backslash-escaped when rendered by
// String, so that a segment may itself contain a literal '/' or '\'
// without being mistaken for a separator.
// Paths are immutable value types: every transformation (Child,
// Parent) returns a new Path, sharing the underlying segment slice
// with its origin wherever possible.
package coordpath
