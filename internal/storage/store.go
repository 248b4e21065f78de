package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/dreamware/coordsvc/internal/coordpath"
	"github.com/dreamware/coordsvc/internal/entrymodel"
	"github.com/dreamware/coordsvc/internal/sessionid"
	"github.com/dreamware/coordsvc/internal/sessionmodel"
)

// ErrVersionConflict is returned by UpdateEntry/UpdateSession when the
// stored row's storage_version no longer matches the caller's expected
// value — another participant's CAS generation won.
var ErrVersionConflict = errors.New("storage: version conflict")

// EntryStore is the typed CAS wrapper over the backing store's
// entries table, keyed by escaped path.
type EntryStore interface {
	// GetEntry returns the entry at path, or nil if absent.
	GetEntry(ctx context.Context, path coordpath.Path) (*entrymodel.Entry, error)

	// UpdateEntry atomically replaces expected with desired, keyed on
	// expected's storage_version (nil expected means "no entry present").
	// On success it returns desired. On a lost race it returns the
	// current stored entry (which may also be nil) and
	// ErrVersionConflict.
	UpdateEntry(ctx context.Context, desired, expected *entrymodel.Entry) (*entrymodel.Entry, error)

	// ScanEntries returns every stored entry. Ordering is unspecified.
	ScanEntries(ctx context.Context) ([]entrymodel.Entry, error)
}

// SessionStore is the typed CAS wrapper over the backing store's
// sessions table, keyed by compact session id string.
type SessionStore interface {
	GetSession(ctx context.Context, id sessionid.ID) (*sessionmodel.Session, error)

	UpdateSession(ctx context.Context, desired, expected *sessionmodel.Session) (*sessionmodel.Session, error)

	// ScanSessions returns every stored session. Ordering is
	// unspecified; callers that need a restartable/lazy sequence (see
	// spec.md §4.5 "scan_sessions (lazy sequence, restartable)") page
	// through the result themselves — the in-process stores here are
	// small enough that materializing the full slice is acceptable.
	ScanSessions(ctx context.Context) ([]sessionmodel.Session, error)
}

// Store is the full backing-store contract the coordination engine
// depends on.
type Store interface {
	EntryStore
	SessionStore
}

func versionOf(e *entrymodel.Entry) uint64 {
	if e == nil {
		return 0
	}
	return e.StorageVersion
}

func sessionVersionOf(s *sessionmodel.Session) uint64 {
	if s == nil {
		return 0
	}
	return s.StorageVersion
}

// MemoryStore is an in-process Store backed by two maps guarded by a
// single sync.RWMutex. It has no persistence and is used for tests and
// the in-process integration harness.
type MemoryStore struct {
	mu       sync.RWMutex
	entries  map[string]entrymodel.Entry
	sessions map[sessionid.ID]sessionmodel.Session
}

// NewMemoryStore returns an empty, ready-to-use MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:  make(map[string]entrymodel.Entry),
		sessions: make(map[sessionid.ID]sessionmodel.Session),
	}
}

func (m *MemoryStore) GetEntry(_ context.Context, path coordpath.Path) (*entrymodel.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[path.String()]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (m *MemoryStore) UpdateEntry(_ context.Context, desired, expected *entrymodel.Entry) (*entrymodel.Entry, error) {
	var key string
	switch {
	case desired != nil:
		key = desired.Path.String()
	case expected != nil:
		key = expected.Path.String()
	default:
		return nil, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.entries[key]
	var currentPtr *entrymodel.Entry
	if exists {
		currentPtr = &current
	}
	if (currentPtr == nil) != (expected == nil) || versionOf(currentPtr) != versionOf(expected) {
		return currentPtr, ErrVersionConflict
	}

	if desired == nil {
		delete(m.entries, key)
		return nil, nil
	}
	m.entries[key] = *desired
	return desired, nil
}

func (m *MemoryStore) ScanEntries(_ context.Context) ([]entrymodel.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]entrymodel.Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	return out, nil
}

func (m *MemoryStore) GetSession(_ context.Context, id sessionid.ID) (*sessionmodel.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *MemoryStore) UpdateSession(_ context.Context, desired, expected *sessionmodel.Session) (*sessionmodel.Session, error) {
	var key sessionid.ID
	switch {
	case desired != nil:
		key = desired.ID
	case expected != nil:
		key = expected.ID
	default:
		return nil, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.sessions[key]
	var currentPtr *sessionmodel.Session
	if exists {
		currentPtr = &current
	}
	if (currentPtr == nil) != (expected == nil) || sessionVersionOf(currentPtr) != sessionVersionOf(expected) {
		return currentPtr, ErrVersionConflict
	}

	if desired == nil {
		delete(m.sessions, key)
		return nil, nil
	}
	m.sessions[key] = *desired
	return desired, nil
}

func (m *MemoryStore) ScanSessions(_ context.Context) ([]sessionmodel.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]sessionmodel.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out, nil
}
