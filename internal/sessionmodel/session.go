package sessionmodel

import (
	"sort"
	"time"

	"github.com/dreamware/coordsvc/internal/coordpath"
	"github.com/dreamware/coordsvc/internal/sessionid"
)

// Session is the immutable stored-session value: the CAS unit backing
// session_manager operations. See spec.md §3.
type Session struct {
	ID sessionid.ID

	IsEnded bool

	LeaseEnd time.Time

	// EntryPaths holds the ephemeral paths owned by this session, as
	// canonical path strings, sorted for deterministic iteration.
	EntryPaths []string

	StorageVersion uint64
}

// New constructs a fresh, unsaved session record.
func New(id sessionid.ID, leaseEnd time.Time) Session {
	return Session{ID: id, LeaseEnd: leaseEnd}
}

// IsAlive reports the liveness rule: ¬is_ended ∧ lease_end > now. This
// must be recomputed against the caller's current clock reading every
// time — never cached across a suspension point.
func (s Session) IsAlive(now time.Time) bool {
	return !s.IsEnded && s.LeaseEnd.After(now)
}

// Renew extends lease_end monotonically (never shortens it). It is a
// no-op (same StorageVersion) if newLeaseEnd does not advance the
// lease.
func (s Session) Renew(newLeaseEnd time.Time) Session {
	if !newLeaseEnd.After(s.LeaseEnd) {
		return s
	}
	out := s
	out.LeaseEnd = newLeaseEnd
	out.StorageVersion++
	return out
}

// Tombstone marks the session ended without physically removing it —
// used when the session still owns ephemeral paths that must survive
// until cleanup finishes (spec.md §9).
func (s Session) Tombstone() Session {
	if s.IsEnded {
		return s
	}
	out := s
	out.IsEnded = true
	out.StorageVersion++
	return out
}

// AddEntry records path as an ephemeral path owned by s (idempotent).
func (s Session) AddEntry(path coordpath.Path) Session {
	key := path.String()
	i := sort.SearchStrings(s.EntryPaths, key)
	if i < len(s.EntryPaths) && s.EntryPaths[i] == key {
		return s
	}
	out := s
	paths := make([]string, len(s.EntryPaths)+1)
	copy(paths, s.EntryPaths[:i])
	paths[i] = key
	copy(paths[i+1:], s.EntryPaths[i:])
	out.EntryPaths = paths
	out.StorageVersion++
	return out
}

// RemoveEntry removes path from the owned ephemeral set (idempotent).
func (s Session) RemoveEntry(path coordpath.Path) Session {
	key := path.String()
	i := sort.SearchStrings(s.EntryPaths, key)
	if i >= len(s.EntryPaths) || s.EntryPaths[i] != key {
		return s
	}
	out := s
	paths := make([]string, 0, len(s.EntryPaths)-1)
	paths = append(paths, s.EntryPaths[:i]...)
	paths = append(paths, s.EntryPaths[i+1:]...)
	out.EntryPaths = paths
	out.StorageVersion++
	return out
}

// HasEntries reports whether the session still owns any ephemeral
// paths.
func (s Session) HasEntries() bool {
	return len(s.EntryPaths) > 0
}
