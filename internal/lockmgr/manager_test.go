package lockmgr

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/coordsvc/internal/cache"
	"github.com/dreamware/coordsvc/internal/coordpath"
	"github.com/dreamware/coordsvc/internal/entrymodel"
	"github.com/dreamware/coordsvc/internal/sessionid"
	"github.com/dreamware/coordsvc/internal/storage"
	"github.com/dreamware/coordsvc/internal/waitdir"
	"github.com/dreamware/coordsvc/internal/waitmgr"
)

var ctx = context.Background()

type alwaysAlive struct{}

func (alwaysAlive) IsAlive(context.Context, sessionid.ID) (bool, error) { return true, nil }
func (alwaysAlive) WaitForTermination(sessionid.ID) <-chan struct{}     { return make(chan struct{}) }

type fakeBroadcaster struct {
	mu          sync.Mutex
	writeCount  int
	readCount   int
	lastPath    coordpath.Path
	writeDir    *waitdir.Directory
	readDir     *waitdir.Directory
	self        sessionid.ID
}

func (f *fakeBroadcaster) NotifyWriteLockReleased(_ context.Context, path coordpath.Path) {
	f.mu.Lock()
	f.writeCount++
	f.lastPath = path
	f.mu.Unlock()
	if f.writeDir != nil {
		f.writeDir.Notify(f.self, path)
	}
}

func (f *fakeBroadcaster) NotifyReadLockReleased(_ context.Context, path coordpath.Path) {
	f.mu.Lock()
	f.readCount++
	f.lastPath = path
	f.mu.Unlock()
	if f.readDir != nil {
		f.readDir.Notify(f.self, path)
	}
}

func (f *fakeBroadcaster) writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writeCount
}

func (f *fakeBroadcaster) reads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readCount
}

func newManager(self sessionid.ID, store storage.EntryStore, writeDir, readDir *waitdir.Directory) (*Manager, *cache.Cache, *fakeBroadcaster) {
	c := cache.New(store, nil)
	w := waitmgr.New(store, alwaysAlive{}, &noopInvalidator{}, writeDir, readDir, nil)
	b := &fakeBroadcaster{writeDir: writeDir, readDir: readDir, self: self}
	return New(self, store, c, w, alwaysAlive{}, b, nil, nil), c, b
}

type noopInvalidator struct{}

func (noopInvalidator) RequestInvalidation(context.Context, sessionid.ID, sessionid.Address, coordpath.Path) {
}

func TestAcquireReleaseWriteRoundTrip(t *testing.T) {
	path := coordpath.MustParse("/a")
	self := sessionid.New(1, "self")
	store := storage.NewMemoryStore()

	e := entrymodel.New(path, time.Unix(0, 0), entrymodel.None)
	_, err := store.UpdateEntry(ctx, &e, nil)
	require.NoError(t, err)

	m, _, bcast := newManager(self, store, waitdir.New(), waitdir.New())

	acquired, err := m.AcquireWrite(ctx, path)
	require.NoError(t, err)
	require.NotNil(t, acquired)
	assert.True(t, acquired.WriteLock.Is(self))

	released, err := m.ReleaseWrite(ctx, acquired)
	require.NoError(t, err)
	require.NotNil(t, released)
	assert.False(t, released.WriteLock.Present)
	assert.Equal(t, 1, bcast.writes())
}

func TestAcquireWriteMissingEntry(t *testing.T) {
	path := coordpath.MustParse("/missing")
	self := sessionid.New(1, "self")
	store := storage.NewMemoryStore()
	m, _, _ := newManager(self, store, waitdir.New(), waitdir.New())

	got, err := m.AcquireWrite(ctx, path)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestReleaseWriteNoopWhenNotHolder(t *testing.T) {
	path := coordpath.MustParse("/a")
	self := sessionid.New(1, "self")
	other := sessionid.New(2, "other")
	store := storage.NewMemoryStore()

	locked := entrymodel.New(path, time.Unix(0, 0), entrymodel.None).AcquireWriteLock(other)
	_, err := store.UpdateEntry(ctx, &locked, nil)
	require.NoError(t, err)

	m, _, bcast := newManager(self, store, waitdir.New(), waitdir.New())
	got, err := m.ReleaseWrite(ctx, &locked)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.WriteLock.Is(other))
	assert.Equal(t, 0, bcast.writes())
}

func TestAcquireReadWaitsForWriteRelease(t *testing.T) {
	path := coordpath.MustParse("/a")
	writer := sessionid.New(1, "writer")
	reader := sessionid.New(2, "reader")
	store := storage.NewMemoryStore()

	locked := entrymodel.New(path, time.Unix(0, 0), entrymodel.None).AcquireWriteLock(writer)
	_, err := store.UpdateEntry(ctx, &locked, nil)
	require.NoError(t, err)

	writeDir := waitdir.New()
	readerMgr, _, _ := newManager(reader, store, writeDir, waitdir.New())
	writerMgr, _, _ := newManager(writer, store, writeDir, waitdir.New())

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, err := writerMgr.ReleaseWrite(ctx, &locked)
		require.NoError(t, err)
	}()

	got, err := readerMgr.AcquireRead(ctx, path)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.HasReadLock(reader))
	assert.False(t, got.WriteLock.Present)
}

func TestAcquireReadSelfWriteAllowed(t *testing.T) {
	path := coordpath.MustParse("/a")
	self := sessionid.New(1, "self")
	store := storage.NewMemoryStore()

	locked := entrymodel.New(path, time.Unix(0, 0), entrymodel.None).AcquireWriteLock(self)
	_, err := store.UpdateEntry(ctx, &locked, nil)
	require.NoError(t, err)

	m, _, _ := newManager(self, store, waitdir.New(), waitdir.New())
	got, err := m.AcquireRead(ctx, path)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.HasReadLock(self))
	assert.True(t, got.WriteLock.Is(self))
}

func TestReleaseLocalReadLockDropsSelfLock(t *testing.T) {
	path := coordpath.MustParse("/a")
	self := sessionid.New(1, "self")
	store := storage.NewMemoryStore()

	e := entrymodel.New(path, time.Unix(0, 0), entrymodel.None).AcquireReadLock(self)
	_, err := store.UpdateEntry(ctx, &e, nil)
	require.NoError(t, err)

	m, _, bcast := newManager(self, store, waitdir.New(), waitdir.New())
	err = m.ReleaseLocalReadLock(ctx, path, self)
	require.NoError(t, err)

	fresh, err := store.GetEntry(ctx, path)
	require.NoError(t, err)
	require.NotNil(t, fresh)
	assert.False(t, fresh.HasReadLock(self))
	assert.Equal(t, 1, bcast.reads())
}
