package participant

import "errors"

// Boundary error taxonomy (spec.md §6/§7).
var (
	// ErrEntryNotFound is returned by get/set_value/delete on a
	// missing path.
	ErrEntryNotFound = errors.New("participant: entry not found")
	// ErrDuplicateEntry is returned by create of an already-existing
	// path.
	ErrDuplicateEntry = errors.New("participant: entry already exists")
	// ErrSessionTerminated means the local session is gone: every
	// in-flight operation of this participant must be treated as
	// unwound, and the caller must re-bootstrap a new Participant to
	// resume (spec.md §7 "Terminal").
	ErrSessionTerminated = errors.New("participant: local session terminated")
	// ErrCancelled wraps a caller-supplied context's cancellation.
	ErrCancelled = errors.New("participant: operation cancelled")
	// ErrStorageUnavailable wraps an unexpected backing-store failure.
	ErrStorageUnavailable = errors.New("participant: storage unavailable")
	// ErrHasChildren is returned by a non-recursive delete of an
	// entry that still has children.
	ErrHasChildren = errors.New("participant: entry has children")
)
