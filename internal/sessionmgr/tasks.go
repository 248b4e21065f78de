package sessionmgr

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/coordsvc/internal/coordpath"
	"github.com/dreamware/coordsvc/internal/sessionid"
	"github.com/dreamware/coordsvc/internal/storage"
)

// RunRenewer ticks every half of the configured lease length and on
// each tick extends self's lease to now plus the full lease length,
// shutting down (invoking onTerminated) if the session
// manager reports it terminated out from under us.
func (m *Manager) RunRenewer(ctx context.Context, self sessionid.ID, leaseLength time.Duration, onTerminated func()) {
	ticker := time.NewTicker(leaseLength / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Update(ctx, self, m.clock().Add(leaseLength)); err != nil {
				if err == ErrSessionTerminated {
					m.logger.Warn("sessionmgr: renewer found self terminated, shutting down", zap.String("session", string(self)))
					onTerminated()
					return
				}
				m.logger.Warn("sessionmgr: lease renewal failed, will retry next tick", zap.Error(err))
			}
		}
	}
}

// RunCleaner waits for any session to terminate; if it is self, it
// invokes onTerminated and stops. Otherwise it deletes every ephemeral
// entry the dead session owned (non-recursive, ignoring storage
// version — the owning session is gone, so no concurrent writer can
// legitimately contest the delete) and then ends the session.
func (m *Manager) RunCleaner(ctx context.Context, self sessionid.ID, entries storage.EntryStore, onTerminated func()) {
	for {
		dead, err := m.WaitForAnyTermination(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.logger.Warn("sessionmgr: termination scan failed, retrying", zap.Error(err))
			continue
		}

		if dead == self {
			m.logger.Warn("sessionmgr: cleaner found self terminated, shutting down")
			onTerminated()
			return
		}

		m.cleanupDeadSession(ctx, dead, entries)
	}
}

func (m *Manager) cleanupDeadSession(ctx context.Context, dead sessionid.ID, entries storage.EntryStore) {
	owned, err := m.GetEntries(ctx, dead)
	if err != nil {
		m.logger.Warn("sessionmgr: could not load dead session's entries", zap.Error(err))
		return
	}

	for _, raw := range owned {
		path, err := coordpath.Parse(raw)
		if err != nil {
			m.logger.Warn("sessionmgr: skipping unparsable ephemeral path", zap.String("path", raw), zap.Error(err))
			continue
		}
		if err := forceDeleteEntry(ctx, entries, path); err != nil {
			m.logger.Warn("sessionmgr: ephemeral cleanup delete failed", zap.String("path", raw), zap.Error(err))
			continue
		}
		if parentPath, ok := path.Parent(); ok {
			if err := forceRemoveChildFromParent(ctx, entries, parentPath, path.Base()); err != nil {
				m.logger.Warn("sessionmgr: removing ephemeral child from parent failed", zap.String("path", raw), zap.Error(err))
			}
		}
		if err := m.RemoveEntry(ctx, dead, path); err != nil {
			m.logger.Warn("sessionmgr: clearing owned-path record failed", zap.String("path", raw), zap.Error(err))
		}
	}

	if err := m.End(ctx, dead); err != nil {
		m.logger.Warn("sessionmgr: ending cleaned-up session failed", zap.Error(err))
	}
}

// forceDeleteEntry deletes path regardless of its current
// storage_version, retrying across concurrent writers until the row
// is confirmed absent.
func forceDeleteEntry(ctx context.Context, entries storage.EntryStore, path coordpath.Path) error {
	for {
		current, err := entries.GetEntry(ctx, path)
		if err != nil {
			return err
		}
		if current == nil {
			return nil
		}
		_, err = entries.UpdateEntry(ctx, nil, current)
		if err == storage.ErrVersionConflict {
			continue
		}
		return err
	}
}

// forceRemoveChildFromParent CAS-loops parentPath's stored Children
// list to drop base, regardless of whoever currently holds parentPath's
// write lock: the session that owned the just-deleted ephemeral child
// is gone, so there is no live holder left to coordinate the removal
// through the lock manager the way a normal delete would.
func forceRemoveChildFromParent(ctx context.Context, entries storage.EntryStore, parentPath coordpath.Path, base string) error {
	for {
		parent, err := entries.GetEntry(ctx, parentPath)
		if err != nil {
			return err
		}
		if parent == nil {
			return nil
		}

		idx := -1
		for i, c := range parent.Children {
			if c == base {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil
		}

		updated := *parent
		children := make([]string, 0, len(parent.Children)-1)
		children = append(children, parent.Children[:idx]...)
		children = append(children, parent.Children[idx+1:]...)
		updated.Children = children
		updated.StorageVersion++

		_, err = entries.UpdateEntry(ctx, &updated, parent)
		if err == storage.ErrVersionConflict {
			continue
		}
		return err
	}
}
