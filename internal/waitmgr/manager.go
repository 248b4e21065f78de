package waitmgr

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/coordsvc/internal/coordpath"
	"github.com/dreamware/coordsvc/internal/entrymodel"
	"github.com/dreamware/coordsvc/internal/sessionid"
	"github.com/dreamware/coordsvc/internal/storage"
	"github.com/dreamware/coordsvc/internal/waitdir"
)

// SessionLiveness is the narrow session-manager capability the wait
// manager needs.
type SessionLiveness interface {
	IsAlive(ctx context.Context, id sessionid.ID) (bool, error)
	WaitForTermination(id sessionid.ID) <-chan struct{}
}

// Invalidator sends an InvalidateCacheEntry request to holder, asking
// it to drop its read-lock. Supplied by the exchange manager.
type Invalidator interface {
	RequestInvalidation(ctx context.Context, holder sessionid.ID, addr sessionid.Address, path coordpath.Path)
}

// Manager implements the wait manager.
type Manager struct {
	entries     storage.EntryStore
	sessions    SessionLiveness
	invalidator Invalidator
	writeDir    *waitdir.Directory
	readDir     *waitdir.Directory
	logger      *zap.Logger
}

// New constructs a wait manager.
func New(entries storage.EntryStore, sessions SessionLiveness, invalidator Invalidator, writeDir, readDir *waitdir.Directory, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		entries:     entries,
		sessions:    sessions,
		invalidator: invalidator,
		writeDir:    writeDir,
		readDir:     readDir,
		logger:      logger,
	}
}

// WaitForWriteLockRelease blocks until entry's write-lock is absent
// (or entry is deleted), refreshing from storage as it goes. See
// spec.md §4.4.
func (m *Manager) WaitForWriteLockRelease(ctx context.Context, entry *entrymodel.Entry, self sessionid.ID, allowSelf bool) (*entrymodel.Entry, error) {
	backoff := NewBackoff()
	for {
		if entry == nil || !entry.WriteLock.Present {
			return entry, nil
		}

		holder := entry.WriteLock.ID
		if holder == self {
			if allowSelf {
				return entry, nil
			}
			panic(fmt.Sprintf("waitmgr: wait_for_write_lock_release called with allow_self=false but self already holds the write-lock on %q (local write-mutex should have prevented this)", entry.Path.String()))
		}

		alive, err := m.sessions.IsAlive(ctx, holder)
		if err != nil {
			return nil, err
		}
		if !alive {
			entry, err = m.cleanupLocksOnSessionTermination(ctx, entry, holder, self)
			if err != nil {
				return nil, err
			}
			continue
		}

		if err := m.raceOnHolder(ctx, entry.Path, holder, backoff); err != nil {
			return nil, err
		}

		entry, err = m.entries.GetEntry(ctx, entry.Path)
		if err != nil {
			return nil, err
		}
	}
}

// WaitForReadLocksRelease blocks until entry has no foreign
// read-lock holders, sending a cache-invalidation request to each
// foreign holder on every poll iteration (spec.md §4.4).
func (m *Manager) WaitForReadLocksRelease(ctx context.Context, entry *entrymodel.Entry, self sessionid.ID) (*entrymodel.Entry, error) {
	if entry == nil {
		return nil, nil
	}

	for _, holder := range entry.ForeignReadLocks(self) {
		if err := m.raceOnReadHolder(ctx, entry.Path, holder, self); err != nil {
			return nil, err
		}
	}

	fresh, err := m.entries.GetEntry(ctx, entry.Path)
	if err != nil {
		return nil, err
	}
	if fresh == nil {
		return nil, nil
	}
	if len(fresh.ForeignReadLocks(self)) > 0 {
		return fresh, ErrResidualForeignReadLock
	}
	return fresh, nil
}

// raceOnHolder waits for a write-release notification, termination of
// holder, or the backoff timer, whichever comes first.
func (m *Manager) raceOnHolder(ctx context.Context, path coordpath.Path, holder sessionid.ID, backoff *Backoff) error {
	ch, release := m.writeDir.Wait(holder, path)
	defer release()
	termCh := m.sessions.WaitForTermination(holder)

	timer := time.NewTimer(backoff.Duration())
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
	case <-termCh:
	case <-timer.C:
	}
	return nil
}

func (m *Manager) raceOnReadHolder(ctx context.Context, path coordpath.Path, holder, self sessionid.ID) error {
	backoff := NewBackoff()
	for {
		entry, err := m.entries.GetEntry(ctx, path)
		if err != nil {
			return err
		}
		if entry == nil || !entry.HasReadLock(holder) {
			return nil
		}

		alive, err := m.sessions.IsAlive(ctx, holder)
		if err != nil {
			return err
		}
		if !alive {
			if _, err := m.cleanupLocksOnSessionTermination(ctx, entry, holder, self); err != nil {
				return err
			}
			continue
		}

		if addr, addrErr := holder.Address(); addrErr == nil {
			m.invalidator.RequestInvalidation(ctx, holder, addr, path)
		} else {
			m.logger.Warn("waitmgr: could not decode holder address for invalidation request", zap.Error(addrErr))
		}

		ch, release := m.readDir.Wait(holder, path)
		termCh := m.sessions.WaitForTermination(holder)
		timer := time.NewTimer(backoff.Duration())

		select {
		case <-ctx.Done():
			release()
			timer.Stop()
			return ctx.Err()
		case <-ch:
		case <-termCh:
		case <-timer.C:
		}
		release()
		timer.Stop()
	}
}

// cleanupLocksOnSessionTermination strips holder from entry's
// write-lock and read-locks via a CAS loop. It fails fast with
// ErrSelfTerminated if holder equals self.
func (m *Manager) cleanupLocksOnSessionTermination(ctx context.Context, entry *entrymodel.Entry, holder, self sessionid.ID) (*entrymodel.Entry, error) {
	if holder == self {
		return nil, ErrSelfTerminated
	}
	for {
		if entry == nil {
			return nil, nil
		}

		var desired entrymodel.Entry
		switch {
		case entry.WriteLock.Is(holder):
			desired = entry.ReleaseWriteLock(holder)
		case entry.HasReadLock(holder):
			desired = entry.ReleaseReadLock(holder)
		default:
			return entry, nil
		}
		if desired.StorageVersion == entry.StorageVersion {
			return entry, nil
		}

		written, err := m.entries.UpdateEntry(ctx, &desired, entry)
		if err == storage.ErrVersionConflict {
			entry = written
			continue
		}
		if err != nil {
			return nil, err
		}
		return written, nil
	}
}
