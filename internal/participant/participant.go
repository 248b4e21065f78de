package participant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/coordsvc/internal/cache"
	"github.com/dreamware/coordsvc/internal/coordpath"
	"github.com/dreamware/coordsvc/internal/entrymodel"
	"github.com/dreamware/coordsvc/internal/exchange"
	"github.com/dreamware/coordsvc/internal/lockmgr"
	"github.com/dreamware/coordsvc/internal/metrics"
	"github.com/dreamware/coordsvc/internal/sessionid"
	"github.com/dreamware/coordsvc/internal/sessionmgr"
	"github.com/dreamware/coordsvc/internal/storage"
	"github.com/dreamware/coordsvc/internal/waitdir"
	"github.com/dreamware/coordsvc/internal/waitmgr"
)

// Options configures a new Participant.
type Options struct {
	// Store is the shared backing store. Required.
	Store storage.Store
	// Transport sends exchange frames to other participants. Required.
	Transport exchange.Transport
	// Address is this participant's own transport address, embedded
	// in its minted session id.
	Address sessionid.Address
	// LeaseLength is the session lease duration (spec.md §6, default
	// 30s is the caller's responsibility via internal/config).
	LeaseLength time.Duration
	// CounterFile persists the session-id counter's high-water mark
	// across restarts (sessionid.PersistCounter/LoadPersistedCounter).
	CounterFile string
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
	// Clock defaults to time.Now; overridable for tests.
	Clock func() time.Time
}

// Participant is the peer-symmetric coordination-engine container: one
// session manager, entry cache, wait manager, lock manager and
// exchange manager, all scoped to a single local session.
type Participant struct {
	self        sessionid.ID
	leaseLength time.Duration
	clock       func() time.Time

	store    storage.Store
	cache    *cache.Cache
	lock     *lockmgr.Manager
	wait     *waitmgr.Manager
	exchange *exchange.Manager
	sessions *sessionmgr.Manager
	logger   *zap.Logger
	metrics  *metrics.Metrics

	cancel context.CancelFunc
	group  *errgroup.Group
}

// New mints a session id (restoring the counter's high-water mark
// from CounterFile if present), begins the session against Store, and
// wires the cache/wait/lock/exchange managers per spec.md §9. It does
// not start any background task; call Start for that.
func New(ctx context.Context, opts Options) (*Participant, error) {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	self, err := mintSelf(opts.CounterFile, opts.Address, clock)
	if err != nil {
		return nil, err
	}

	sessions := sessionmgr.New(opts.Store, clock, logger)
	if _, err := sessions.TryBegin(ctx, self, clock().Add(opts.LeaseLength)); err != nil {
		return nil, fmt.Errorf("participant: begin session %q: %w", self, err)
	}

	p := &Participant{
		self:        self,
		leaseLength: opts.LeaseLength,
		clock:       clock,
		store:       opts.Store,
		sessions:    sessions,
		logger:      logger,
		metrics:     opts.Metrics,
	}

	if err := p.ensureRoot(ctx); err != nil {
		return nil, fmt.Errorf("participant: bootstrap root entry: %w", err)
	}

	p.cache = cache.New(opts.Store, opts.Metrics)
	readDir := waitdir.New()
	writeDir := waitdir.New()

	// locks is nil at construction: the lock manager this exchange
	// manager calls back into on InvalidateCacheEntry receipt itself
	// depends on the exchange manager, so the field is wired in below
	// once the lock manager exists.
	p.exchange = exchange.NewManager(self, opts.Transport, sessions, p.cache, nil, readDir, writeDir, logger, opts.Metrics)
	p.wait = waitmgr.New(opts.Store, sessions, p.exchange, writeDir, readDir, logger)
	p.lock = lockmgr.New(self, opts.Store, p.cache, p.wait, sessions, p.exchange, logger, opts.Metrics)
	p.exchange.SetReadLockReleaser(p.lock)

	return p, nil
}

func mintSelf(counterFile string, addr sessionid.Address, clock func() time.Time) (sessionid.ID, error) {
	counter := sessionid.NewCounter(clock)
	persisted, err := sessionid.LoadPersistedCounter(counterFile)
	if err != nil {
		return "", fmt.Errorf("participant: load session counter: %w", err)
	}
	counter.Restore(persisted)

	self := sessionid.New(counter.Next(), addr)
	minted, err := self.Counter()
	if err != nil {
		return "", fmt.Errorf("participant: decode minted session counter: %w", err)
	}
	if err := sessionid.PersistCounter(counterFile, minted); err != nil {
		return "", fmt.Errorf("participant: persist session counter: %w", err)
	}
	return self, nil
}

// ensureRoot seeds the root entry "/" if no participant sharing Store
// has done so yet. Idempotent: a lost race against a concurrent
// bootstrap is not an error.
func (p *Participant) ensureRoot(ctx context.Context) error {
	root := coordpath.Root()
	existing, err := p.store.GetEntry(ctx, root)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	fresh := entrymodel.New(root, p.clock(), entrymodel.None)
	if _, err := p.store.UpdateEntry(ctx, &fresh, nil); err != nil && !errors.Is(err, storage.ErrVersionConflict) {
		return err
	}
	return nil
}

// Self returns the participant's own session id.
func (p *Participant) Self() sessionid.ID { return p.self }

// Handler returns the HTTP handler to register at the exchange frame
// path on the participant's own transport server.
func (p *Participant) Handler() *exchange.InboundHandler { return p.exchange.Handler() }

// Start launches the lease renewer, the dead-session cleaner and the
// exchange receive loop as supervised goroutines, and returns
// immediately. onFatal, if non-nil, is invoked once if any of them
// observes the local session has been terminated out from under it.
func (p *Participant) Start(ctx context.Context, onFatal func()) {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	group, groupCtx := errgroup.WithContext(runCtx)
	p.group = group

	terminate := func() {
		cancel()
		if onFatal != nil {
			onFatal()
		}
	}

	group.Go(func() error {
		p.sessions.RunRenewer(groupCtx, p.self, p.leaseLength, terminate)
		return nil
	})
	group.Go(func() error {
		p.sessions.RunCleaner(groupCtx, p.self, p.store, terminate)
		return nil
	})
	group.Go(func() error {
		return p.exchange.Run(groupCtx)
	})
	group.Go(func() error {
		p.runActiveSessionsGauge(groupCtx)
		return nil
	})
}

// runActiveSessionsGauge periodically reports the number of sessions
// currently observed alive to the active-sessions gauge (SPEC_FULL.md
// §6.3). Pure observability: a scan failure is logged and retried next
// tick rather than escalated, since the gauge is never load-bearing
// for correctness.
func (p *Participant) runActiveSessionsGauge(ctx context.Context) {
	if p.metrics == nil {
		return
	}
	ticker := time.NewTicker(p.leaseLength / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			live, err := p.sessions.LiveSessions(ctx)
			if err != nil {
				p.logger.Warn("participant: active-session gauge scan failed, retrying", zap.Error(err))
				continue
			}
			p.metrics.SetActiveSessions(len(live))
		}
	}
}

// Shutdown cancels the background tasks, waits for them to exit, and
// ends the local session.
func (p *Participant) Shutdown(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	if p.group != nil {
		if err := p.group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Warn("participant: background task exited with error", zap.Error(err))
		}
	}
	return p.sessions.End(ctx, p.self)
}

// Get returns the value stored at path, reading through the entry
// cache (spec.md §4.7).
func (p *Participant) Get(ctx context.Context, path coordpath.Path) ([]byte, error) {
	entry, err := p.cache.GetEntry(ctx, path, p.lock)
	if err != nil {
		return nil, p.translate(err)
	}
	if entry == nil {
		return nil, fmt.Errorf("participant: get %q: %w", path.String(), ErrEntryNotFound)
	}
	return entry.Value, nil
}

// Create inserts a new entry at path with the given value, registering
// it as a child of path's parent. ephemeral ties the entry's lifetime
// to this participant's session. Fails with ErrEntryNotFound if the
// parent does not exist, or ErrDuplicateEntry if path already does.
func (p *Participant) Create(ctx context.Context, path coordpath.Path, value []byte, ephemeral bool) error {
	parentPath, ok := path.Parent()
	if !ok {
		return fmt.Errorf("participant: create %q: %w", path.String(), ErrDuplicateEntry)
	}

	parent, err := p.lock.AcquireWrite(ctx, parentPath)
	if err != nil {
		return p.translate(err)
	}
	if parent == nil {
		return fmt.Errorf("participant: create %q: parent %q: %w", path.String(), parentPath.String(), ErrEntryNotFound)
	}
	defer func() { p.releaseWrite(ctx, parent) }()

	updatedParent := parent.AddChild(path.Base(), p.self)
	if updatedParent.StorageVersion != parent.StorageVersion {
		written, err := p.store.UpdateEntry(ctx, &updatedParent, parent)
		if err != nil {
			return p.translate(err)
		}
		parent = written
	}

	child, err := p.lock.AcquireWrite(ctx, path)
	if err != nil {
		return p.translate(err)
	}
	if child != nil {
		p.releaseWrite(ctx, child)
		return fmt.Errorf("participant: create %q: %w", path.String(), ErrDuplicateEntry)
	}

	owner := entrymodel.None
	if ephemeral {
		owner = entrymodel.Some(p.self)
	}
	fresh := entrymodel.New(path, p.clock(), owner).AcquireWriteLock(p.self)
	fresh = fresh.SetValue(value, p.self, p.clock())

	written, err := p.store.UpdateEntry(ctx, &fresh, nil)
	if err != nil {
		return p.translate(err)
	}

	if ephemeral {
		if err := p.sessions.AddEntry(ctx, p.self, path); err != nil {
			p.logger.Warn("participant: recording ephemeral ownership failed", zap.String("path", path.String()), zap.Error(err))
		}
	}

	p.releaseWrite(ctx, written)
	return nil
}

// SetValue overwrites the value stored at path. Fails with
// ErrEntryNotFound if path does not exist.
func (p *Participant) SetValue(ctx context.Context, path coordpath.Path, value []byte) error {
	entry, err := p.lock.AcquireWrite(ctx, path)
	if err != nil {
		return p.translate(err)
	}
	if entry == nil {
		return fmt.Errorf("participant: set_value %q: %w", path.String(), ErrEntryNotFound)
	}

	updated := entry.SetValue(value, p.self, p.clock())
	written, err := p.store.UpdateEntry(ctx, &updated, entry)
	if err != nil {
		p.releaseWrite(ctx, entry)
		return p.translate(err)
	}
	p.releaseWrite(ctx, written)
	return nil
}

// Delete removes the entry at path. If it has children and recursive
// is false, it fails with ErrHasChildren; otherwise children are
// removed first, in children-list order (spec.md §5, identical order
// on every participant so recursive deletes never cycle). Decrements
// the parent's child count exactly once on success.
func (p *Participant) Delete(ctx context.Context, path coordpath.Path, recursive bool) error {
	if err := p.deleteSubtree(ctx, path, recursive); err != nil {
		return err
	}
	if parentPath, ok := path.Parent(); ok {
		if err := p.decrementParentChild(ctx, parentPath, path.Base()); err != nil {
			p.logger.Warn("participant: decrementing parent child count after delete failed", zap.String("path", parentPath.String()), zap.Error(err))
		}
	}
	return nil
}

// deleteSubtree removes path (recursing into children first when
// recursive) without touching path's own parent: a descendant's
// deletion must never try to re-acquire the write-lock an ancestor
// delete in the same call chain is still holding.
func (p *Participant) deleteSubtree(ctx context.Context, path coordpath.Path, recursive bool) error {
	entry, err := p.lock.AcquireWrite(ctx, path)
	if err != nil {
		return p.translate(err)
	}
	if entry == nil {
		return fmt.Errorf("participant: delete %q: %w", path.String(), ErrEntryNotFound)
	}

	if len(entry.Children) > 0 && !recursive {
		p.releaseWrite(ctx, entry)
		return fmt.Errorf("participant: delete %q: %w", path.String(), ErrHasChildren)
	}

	remaining := *entry
	for _, child := range entry.Children {
		if err := p.deleteSubtree(ctx, path.Child(child), true); err != nil {
			p.releaseWrite(ctx, entry)
			return err
		}
		remaining = remaining.RemoveChild(child, p.self)
	}

	removed := entrymodel.Remove(remaining, p.self)
	if _, err := p.store.UpdateEntry(ctx, removed, entry); err != nil {
		p.releaseWrite(ctx, entry)
		return p.translate(err)
	}

	p.cache.Invalidate(path)
	p.exchange.NotifyWriteLockReleased(ctx, path)

	if entry.EphemeralOwner.Present {
		if err := p.sessions.RemoveEntry(ctx, entry.EphemeralOwner.ID, path); err != nil {
			p.logger.Warn("participant: clearing ephemeral ownership after delete failed", zap.String("path", path.String()), zap.Error(err))
		}
	}
	return nil
}

func (p *Participant) decrementParentChild(ctx context.Context, parentPath coordpath.Path, base string) error {
	parent, err := p.lock.AcquireWrite(ctx, parentPath)
	if err != nil {
		return err
	}
	if parent == nil {
		return nil
	}

	updated := parent.RemoveChild(base, p.self)
	if updated.StorageVersion != parent.StorageVersion {
		written, err := p.store.UpdateEntry(ctx, &updated, parent)
		if err != nil {
			p.releaseWrite(ctx, parent)
			return err
		}
		parent = written
	}
	p.releaseWrite(ctx, parent)
	return nil
}

func (p *Participant) releaseWrite(ctx context.Context, entry *entrymodel.Entry) {
	if entry == nil {
		return
	}
	if _, err := p.lock.ReleaseWrite(ctx, entry); err != nil {
		p.logger.Warn("participant: releasing write-lock failed", zap.String("path", entry.Path.String()), zap.Error(err))
	}
}

// translate maps an internal error onto the boundary taxonomy
// (spec.md §6/§7). A release failure during error unwind is expected
// to have already been escalated to ErrSessionTerminated by its
// caller before reaching here in practice; this is the single place
// that performs the mapping so every façade method stays consistent.
func (p *Participant) translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	case errors.Is(err, lockmgr.ErrSessionTerminated),
		errors.Is(err, sessionmgr.ErrSessionTerminated),
		errors.Is(err, waitmgr.ErrSelfTerminated),
		errors.Is(err, waitmgr.ErrResidualForeignReadLock):
		return fmt.Errorf("%w: %v", ErrSessionTerminated, err)
	default:
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
}
