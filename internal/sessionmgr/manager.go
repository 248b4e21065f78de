package sessionmgr

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/coordsvc/internal/coordpath"
	"github.com/dreamware/coordsvc/internal/exchange"
	"github.com/dreamware/coordsvc/internal/sessionid"
	"github.com/dreamware/coordsvc/internal/sessionmodel"
	"github.com/dreamware/coordsvc/internal/storage"
)

// Manager implements the session manager against a storage.SessionStore.
type Manager struct {
	store  storage.SessionStore
	clock  func() time.Time
	logger *zap.Logger

	mu      sync.Mutex
	waiters map[sessionid.ID]chan struct{}
}

// New constructs a Manager. clock defaults to time.Now when nil.
func New(store storage.SessionStore, clock func() time.Time, logger *zap.Logger) *Manager {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:   store,
		clock:   clock,
		logger:  logger,
		waiters: make(map[sessionid.ID]chan struct{}),
	}
}

// TryBegin inserts a new session record iff id is absent. It reports
// whether the insert happened (false means a session already exists
// under id, terminated or not).
func (m *Manager) TryBegin(ctx context.Context, id sessionid.ID, leaseEnd time.Time) (bool, error) {
	existing, err := m.store.GetSession(ctx, id)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}
	s := sessionmodel.New(id, leaseEnd)
	_, err = m.store.UpdateSession(ctx, &s, nil)
	if err == storage.ErrVersionConflict {
		return false, nil
	}
	return err == nil, err
}

// Update extends id's lease monotonically to leaseEnd, CAS-looping
// against concurrent writers. Fails with ErrSessionTerminated if the
// session is absent or already ended.
func (m *Manager) Update(ctx context.Context, id sessionid.ID, leaseEnd time.Time) error {
	for {
		current, err := m.store.GetSession(ctx, id)
		if err != nil {
			return err
		}
		if current == nil || current.IsEnded {
			return ErrSessionTerminated
		}
		desired := current.Renew(leaseEnd)
		if desired.StorageVersion == current.StorageVersion {
			return nil
		}
		_, err = m.store.UpdateSession(ctx, &desired, current)
		if err == storage.ErrVersionConflict {
			continue
		}
		return err
	}
}

// End terminates id: tombstones it if it still owns ephemeral paths,
// otherwise physically deletes it. Idempotent. Fulfills any pending
// termination future for id.
func (m *Manager) End(ctx context.Context, id sessionid.ID) error {
	defer m.markTerminated(id)

	for {
		current, err := m.store.GetSession(ctx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return nil
		}
		if current.IsEnded && !current.HasEntries() {
			// Fully drained tombstone: physically remove.
			_, err = m.store.UpdateSession(ctx, nil, current)
		} else if current.HasEntries() {
			desired := current.Tombstone()
			if desired.StorageVersion == current.StorageVersion {
				return nil
			}
			_, err = m.store.UpdateSession(ctx, &desired, current)
		} else {
			_, err = m.store.UpdateSession(ctx, nil, current)
		}
		if err == storage.ErrVersionConflict {
			continue
		}
		return err
	}
}

// AddEntry records path as owned by id.
func (m *Manager) AddEntry(ctx context.Context, id sessionid.ID, path coordpath.Path) error {
	for {
		current, err := m.store.GetSession(ctx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return ErrSessionTerminated
		}
		desired := current.AddEntry(path)
		if desired.StorageVersion == current.StorageVersion {
			return nil
		}
		_, err = m.store.UpdateSession(ctx, &desired, current)
		if err == storage.ErrVersionConflict {
			continue
		}
		return err
	}
}

// RemoveEntry drops path from id's owned set. If this empties a
// tombstoned session, it is physically deleted as part of the same
// CAS-loop.
func (m *Manager) RemoveEntry(ctx context.Context, id sessionid.ID, path coordpath.Path) error {
	defer func() {
		if s, err := m.store.GetSession(ctx, id); err == nil && s == nil {
			m.markTerminated(id)
		}
	}()

	for {
		current, err := m.store.GetSession(ctx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return nil
		}
		desired := current.RemoveEntry(path)
		if desired.StorageVersion == current.StorageVersion {
			return nil
		}
		if desired.IsEnded && !desired.HasEntries() {
			_, err = m.store.UpdateSession(ctx, nil, current)
		} else {
			_, err = m.store.UpdateSession(ctx, &desired, current)
		}
		if err == storage.ErrVersionConflict {
			continue
		}
		return err
	}
}

// IsAlive reports id's current liveness, recomputed against the
// manager's clock — never cached.
func (m *Manager) IsAlive(ctx context.Context, id sessionid.ID) (bool, error) {
	s, err := m.store.GetSession(ctx, id)
	if err != nil {
		return false, err
	}
	if s == nil {
		return false, nil
	}
	return s.IsAlive(m.clock()), nil
}

// GetEntries returns the ephemeral paths owned by id.
func (m *Manager) GetEntries(ctx context.Context, id sessionid.ID) ([]string, error) {
	s, err := m.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, nil
	}
	return s.EntryPaths, nil
}

// GetSessions returns every stored session.
func (m *Manager) GetSessions(ctx context.Context) ([]sessionmodel.Session, error) {
	return m.store.ScanSessions(ctx)
}

// LiveSessions implements exchange.SessionLister: every currently-alive
// session's id and address, for broadcast enumeration (spec.md §9's
// "enumerate live sessions once at call time").
func (m *Manager) LiveSessions(ctx context.Context) ([]exchange.LiveSession, error) {
	sessions, err := m.store.ScanSessions(ctx)
	if err != nil {
		return nil, err
	}
	now := m.clock()
	live := make([]exchange.LiveSession, 0, len(sessions))
	for _, s := range sessions {
		if !s.IsAlive(now) {
			continue
		}
		addr, err := s.ID.Address()
		if err != nil {
			m.logger.Warn("sessionmgr: skipping session with malformed address in broadcast enumeration")
			continue
		}
		live = append(live, exchange.LiveSession{ID: s.ID, Address: addr})
	}
	return live, nil
}

// terminationFuture returns the channel for id, creating it lazily if
// absent. The channel closes once the session is confirmed ended.
func (m *Manager) terminationFuture(id sessionid.ID) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.waiters[id]
	if !ok {
		ch = make(chan struct{})
		m.waiters[id] = ch
	}
	return ch
}

// WaitForTermination returns a channel that closes once id is
// confirmed ended (tombstoned, deleted, or lease-expired). Multiple
// callers for the same id share one channel.
func (m *Manager) WaitForTermination(id sessionid.ID) <-chan struct{} {
	return m.terminationFuture(id)
}

func (m *Manager) markTerminated(id sessionid.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.waiters[id]; ok {
		close(ch)
		delete(m.waiters, id)
	}
}

// WaitForAnyTermination scans live sessions, sleeps until the nearest
// lease_end (capped at 2s per poll), and returns the first session
// observed ended or expired. It fulfills that session's termination
// future before returning.
func (m *Manager) WaitForAnyTermination(ctx context.Context) (sessionid.ID, error) {
	const maxPoll = 2 * time.Second

	for {
		sessions, err := m.store.ScanSessions(ctx)
		if err != nil {
			return "", err
		}

		now := m.clock()
		var nearest time.Duration = maxPoll
		for _, s := range sessions {
			if !s.IsAlive(now) {
				m.markTerminated(s.ID)
				return s.ID, nil
			}
			if d := s.LeaseEnd.Sub(now); d < nearest {
				nearest = d
			}
		}
		if nearest <= 0 {
			nearest = 0
		}
		if nearest > maxPoll {
			nearest = maxPoll
		}

		timer := time.NewTimer(nearest)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}
}
