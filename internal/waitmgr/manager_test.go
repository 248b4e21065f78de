package waitmgr

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/coordsvc/internal/coordpath"
	"github.com/dreamware/coordsvc/internal/entrymodel"
	"github.com/dreamware/coordsvc/internal/sessionid"
	"github.com/dreamware/coordsvc/internal/storage"
	"github.com/dreamware/coordsvc/internal/waitdir"
)

var ctx = context.Background()

type fakeSessions struct {
	mu    sync.Mutex
	alive map[sessionid.ID]bool
	term  map[sessionid.ID]chan struct{}
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{alive: make(map[sessionid.ID]bool), term: make(map[sessionid.ID]chan struct{})}
}

func (f *fakeSessions) setAlive(id sessionid.ID, alive bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive[id] = alive
	if !alive {
		if ch, ok := f.term[id]; ok {
			select {
			case <-ch:
			default:
				close(ch)
			}
		}
	}
}

func (f *fakeSessions) IsAlive(_ context.Context, id sessionid.ID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	alive, ok := f.alive[id]
	if !ok {
		return true, nil
	}
	return alive, nil
}

func (f *fakeSessions) WaitForTermination(id sessionid.ID) <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.term[id]
	if !ok {
		ch = make(chan struct{})
		f.term[id] = ch
	}
	return ch
}

type fakeInvalidator struct {
	mu    sync.Mutex
	count int
}

func (f *fakeInvalidator) RequestInvalidation(context.Context, sessionid.ID, sessionid.Address, coordpath.Path) {
	f.mu.Lock()
	f.count++
	f.mu.Unlock()
}

func TestWaitForWriteLockReleaseReturnsImmediatelyWhenFree(t *testing.T) {
	store := storage.NewMemoryStore()
	m := New(store, newFakeSessions(), &fakeInvalidator{}, waitdir.New(), waitdir.New(), nil)
	e := entrymodel.New(coordpath.MustParse("/a"), time.Unix(0, 0), entrymodel.None)

	got, err := m.WaitForWriteLockRelease(ctx, &e, sessionid.New(1, "addr-a"), false)
	require.NoError(t, err)
	assert.Same(t, &e, got)
}

func TestWaitForWriteLockReleaseAllowSelf(t *testing.T) {
	store := storage.NewMemoryStore()
	m := New(store, newFakeSessions(), &fakeInvalidator{}, waitdir.New(), waitdir.New(), nil)
	self := sessionid.New(1, "addr-a")
	e := entrymodel.New(coordpath.MustParse("/a"), time.Unix(0, 0), entrymodel.None).AcquireWriteLock(self)

	got, err := m.WaitForWriteLockRelease(ctx, &e, self, true)
	require.NoError(t, err)
	assert.Same(t, &e, got)
}

func TestWaitForWriteLockReleasePanicsWhenSelfHoldsAndDisallowed(t *testing.T) {
	store := storage.NewMemoryStore()
	m := New(store, newFakeSessions(), &fakeInvalidator{}, waitdir.New(), waitdir.New(), nil)
	self := sessionid.New(1, "addr-a")
	e := entrymodel.New(coordpath.MustParse("/a"), time.Unix(0, 0), entrymodel.None).AcquireWriteLock(self)

	assert.Panics(t, func() {
		_, _ = m.WaitForWriteLockRelease(ctx, &e, self, false)
	})
}

func TestWaitForWriteLockReleaseWakesOnNotification(t *testing.T) {
	path := coordpath.MustParse("/a")
	store := storage.NewMemoryStore()
	holder := sessionid.New(2, "addr-holder")
	self := sessionid.New(1, "addr-self")

	locked := entrymodel.New(path, time.Unix(0, 0), entrymodel.None).AcquireWriteLock(holder)
	_, err := store.UpdateEntry(ctx, &locked, nil)
	require.NoError(t, err)

	sessions := newFakeSessions()
	sessions.setAlive(holder, true)
	writeDir := waitdir.New()
	m := New(store, sessions, &fakeInvalidator{}, writeDir, waitdir.New(), nil)

	go func() {
		time.Sleep(20 * time.Millisecond)
		released := locked.ReleaseWriteLock(holder)
		_, err := store.UpdateEntry(ctx, &released, &locked)
		require.NoError(t, err)
		writeDir.Notify(holder, path)
	}()

	got, err := m.WaitForWriteLockRelease(ctx, &locked, self, false)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, got.WriteLock.Present)
}

func TestWaitForReadLocksReleaseSendsInvalidation(t *testing.T) {
	path := coordpath.MustParse("/a")
	store := storage.NewMemoryStore()
	holder := sessionid.New(2, "addr-holder")
	self := sessionid.New(1, "addr-self")

	e := entrymodel.New(path, time.Unix(0, 0), entrymodel.None)
	e.ReadLocks = []sessionid.ID{holder}
	_, err := store.UpdateEntry(ctx, &e, nil)
	require.NoError(t, err)

	sessions := newFakeSessions()
	sessions.setAlive(holder, true)
	readDir := waitdir.New()
	invalidator := &fakeInvalidator{}
	m := New(store, sessions, invalidator, waitdir.New(), readDir, nil)

	go func() {
		time.Sleep(20 * time.Millisecond)
		released := e.ReleaseReadLock(holder)
		_, err := store.UpdateEntry(ctx, &released, &e)
		require.NoError(t, err)
		readDir.Notify(holder, path)
	}()

	got, err := m.WaitForReadLocksRelease(ctx, &e, self)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Empty(t, got.ForeignReadLocks(self))
	assert.GreaterOrEqual(t, invalidator.count, 1)
}

func TestWaitForWriteLockReleaseCleansUpDeadHolder(t *testing.T) {
	path := coordpath.MustParse("/a")
	store := storage.NewMemoryStore()
	holder := sessionid.New(2, "addr-holder")
	self := sessionid.New(1, "addr-self")

	locked := entrymodel.New(path, time.Unix(0, 0), entrymodel.None).AcquireWriteLock(holder)
	_, err := store.UpdateEntry(ctx, &locked, nil)
	require.NoError(t, err)

	sessions := newFakeSessions()
	sessions.setAlive(holder, false)
	m := New(store, sessions, &fakeInvalidator{}, waitdir.New(), waitdir.New(), nil)

	got, err := m.WaitForWriteLockRelease(ctx, &locked, self, false)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, got.WriteLock.Present)

	stored, err := store.GetEntry(ctx, path)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.False(t, stored.WriteLock.Present)
}

func TestCleanupLocksOnSessionTerminationSelfTerminated(t *testing.T) {
	store := storage.NewMemoryStore()
	self := sessionid.New(1, "addr-self")
	m := New(store, newFakeSessions(), &fakeInvalidator{}, waitdir.New(), waitdir.New(), nil)

	_, err := m.cleanupLocksOnSessionTermination(ctx, nil, self, self)
	assert.ErrorIs(t, err, ErrSelfTerminated)
}

func TestSelfReadLockIsNotForeign(t *testing.T) {
	store := storage.NewMemoryStore()
	self := sessionid.New(1, "addr-self")
	e := entrymodel.New(coordpath.MustParse("/a"), time.Unix(0, 0), entrymodel.None)
	e.ReadLocks = []sessionid.ID{self}
	_, err := store.UpdateEntry(ctx, &e, nil)
	require.NoError(t, err)

	m := New(store, newFakeSessions(), &fakeInvalidator{}, waitdir.New(), waitdir.New(), nil)
	got, err := m.WaitForReadLocksRelease(ctx, &e, self)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []sessionid.ID{self}, got.ReadLocks)
}
