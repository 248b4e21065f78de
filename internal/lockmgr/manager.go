package lockmgr

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/coordsvc/internal/cache"
	"github.com/dreamware/coordsvc/internal/coordpath"
	"github.com/dreamware/coordsvc/internal/entrymodel"
	"github.com/dreamware/coordsvc/internal/metrics"
	"github.com/dreamware/coordsvc/internal/sessionid"
	"github.com/dreamware/coordsvc/internal/storage"
	"github.com/dreamware/coordsvc/internal/waitmgr"
)

// SelfLiveness is the narrow session-manager capability the lock
// manager needs: whether the local session is still alive.
type SelfLiveness interface {
	IsAlive(ctx context.Context, id sessionid.ID) (bool, error)
}

// ReleaseBroadcaster is the narrow exchange-manager capability the
// lock manager needs to announce a release to every live session.
type ReleaseBroadcaster interface {
	NotifyWriteLockReleased(ctx context.Context, path coordpath.Path)
	NotifyReadLockReleased(ctx context.Context, path coordpath.Path)
}

// Manager implements acquire_write/release_write/acquire_read/
// release_read. It satisfies cache.GlobalReadLocker (AcquireRead,
// ReleaseRead) and exchange.ReadLockReleaser (ReleaseLocalReadLock).
type Manager struct {
	self sessionid.ID

	entries     storage.EntryStore
	cache       *cache.Cache
	wait        *waitmgr.Manager
	sessions    SelfLiveness
	broadcaster ReleaseBroadcaster
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// New constructs a lock manager for the given local session. m may be
// nil (metrics.Disabled()).
func New(self sessionid.ID, entries storage.EntryStore, c *cache.Cache, wait *waitmgr.Manager, sessions SelfLiveness, broadcaster ReleaseBroadcaster, logger *zap.Logger, m *metrics.Metrics) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		self:        self,
		entries:     entries,
		cache:       c,
		wait:        wait,
		sessions:    sessions,
		broadcaster: broadcaster,
		logger:      logger,
		metrics:     m,
	}
}

// AcquireWrite implements spec.md §4.3's local-then-global write
// acquire: fail fast if self is dead, take the path's local
// write-mutex for the duration of the handshake, CAS-loop the global
// write-lock, then wait for any foreign read-locks to drain. A nil
// result with a nil error means the entry does not exist.
func (m *Manager) AcquireWrite(ctx context.Context, path coordpath.Path) (*entrymodel.Entry, error) {
	alive, err := m.sessions.IsAlive(ctx, m.self)
	if err != nil {
		return nil, err
	}
	if !alive {
		return nil, ErrSessionTerminated
	}

	slot := m.cache.Get(path)
	slot.WriteMu.Lock()
	defer slot.WriteMu.Unlock()

	entry, err := m.entries.GetEntry(ctx, path)
	if err != nil {
		return nil, err
	}

	waitStart := time.Now()
	for {
		entry, err = m.wait.WaitForWriteLockRelease(ctx, entry, m.self, false)
		if err != nil {
			m.bestEffortReleaseWrite(ctx, path)
			return nil, err
		}
		if entry == nil {
			return nil, nil
		}

		desired := entry.AcquireWriteLock(m.self)
		written, err := m.entries.UpdateEntry(ctx, &desired, entry)
		if err == storage.ErrVersionConflict {
			entry = written
			continue
		}
		if err != nil {
			m.bestEffortReleaseWrite(ctx, path)
			return nil, err
		}
		entry = written
		break
	}

	final, err := m.wait.WaitForReadLocksRelease(ctx, entry, m.self)
	m.metrics.ObserveLockWait("write", time.Since(waitStart).Seconds())
	if err != nil {
		m.bestEffortReleaseWrite(ctx, path)
		return nil, err
	}
	return final, nil
}

// ReleaseWrite CAS-loops toward write_lock=None and broadcasts
// ReleasedWriteLock. A release when self does not hold the write-lock
// is a no-op (the entry may have been concurrently deleted).
func (m *Manager) ReleaseWrite(ctx context.Context, entry *entrymodel.Entry) (*entrymodel.Entry, error) {
	if entry == nil {
		return nil, nil
	}
	path := entry.Path
	for {
		if entry == nil {
			return nil, nil
		}
		if !entry.WriteLock.Is(m.self) {
			return entry, nil
		}
		desired := entry.ReleaseWriteLock(m.self)
		written, err := m.entries.UpdateEntry(ctx, &desired, entry)
		if err == storage.ErrVersionConflict {
			entry = written
			continue
		}
		if err != nil {
			return nil, err
		}
		m.cache.Invalidate(path)
		m.broadcaster.NotifyWriteLockReleased(ctx, path)
		return written, nil
	}
}

// AcquireRead implements cache.GlobalReadLocker: takes the path's
// local write-mutex (read-lock acquisition mutates the stored entry),
// waits for the write-lock to clear (self-owned permitted), CAS-adds
// self to read_locks, releases the local mutex.
func (m *Manager) AcquireRead(ctx context.Context, path coordpath.Path) (*entrymodel.Entry, error) {
	alive, err := m.sessions.IsAlive(ctx, m.self)
	if err != nil {
		return nil, err
	}
	if !alive {
		return nil, ErrSessionTerminated
	}

	slot := m.cache.Get(path)
	slot.WriteMu.Lock()
	defer slot.WriteMu.Unlock()

	entry, err := m.entries.GetEntry(ctx, path)
	if err != nil {
		return nil, err
	}

	waitStart := time.Now()
	for {
		entry, err = m.wait.WaitForWriteLockRelease(ctx, entry, m.self, true)
		if err != nil {
			return nil, err
		}
		if entry == nil {
			return nil, nil
		}

		desired := entry.AcquireReadLock(m.self)
		written, err := m.entries.UpdateEntry(ctx, &desired, entry)
		if err == storage.ErrVersionConflict {
			entry = written
			continue
		}
		if err != nil {
			return nil, err
		}
		m.metrics.ObserveLockWait("read", time.Since(waitStart).Seconds())
		return written, nil
	}
}

// ReleaseRead implements cache.GlobalReadLocker: CAS-removes self from
// read_locks and broadcasts ReleasedReadLock. A release when self does
// not hold a read-lock is a no-op.
func (m *Manager) ReleaseRead(ctx context.Context, path coordpath.Path, entry *entrymodel.Entry) error {
	for {
		if entry == nil {
			return nil
		}
		if !entry.HasReadLock(m.self) {
			return nil
		}
		desired := entry.ReleaseReadLock(m.self)
		written, err := m.entries.UpdateEntry(ctx, &desired, entry)
		if err == storage.ErrVersionConflict {
			entry = written
			continue
		}
		if err != nil {
			return err
		}
		m.cache.Invalidate(path)
		m.broadcaster.NotifyReadLockReleased(ctx, path)
		return nil
	}
}

// ReleaseLocalReadLock implements exchange.ReadLockReleaser: it is
// called on receipt of an InvalidateCacheEntry frame addressed to
// self, after the cache has already reloaded the entry. It reloads
// the entry once more (the cache's reload and this call are not
// atomic with each other) and releases self's read-lock if still
// held.
func (m *Manager) ReleaseLocalReadLock(ctx context.Context, path coordpath.Path, self sessionid.ID) error {
	entry, err := m.entries.GetEntry(ctx, path)
	if err != nil {
		return err
	}
	return m.ReleaseRead(ctx, path, entry)
}

// bestEffortReleaseWrite reloads the current entry and releases self's
// write-lock, bypassing the local-mutex handshake (the caller already
// holds it). Failures here mean the session must be declared lost
// (spec.md §4.3 step 5): logged, never propagated, since the caller
// is already unwinding an earlier error.
func (m *Manager) bestEffortReleaseWrite(ctx context.Context, path coordpath.Path) {
	entry, err := m.entries.GetEntry(ctx, path)
	if err != nil {
		m.logger.Error("lockmgr: session declared lost, could not reload entry for best-effort write-lock release",
			zap.String("path", path.String()), zap.Error(err))
		return
	}
	if _, err := m.ReleaseWrite(ctx, entry); err != nil {
		m.logger.Error("lockmgr: session declared lost, best-effort write-lock release failed",
			zap.String("path", path.String()), zap.Error(err))
	}
}
