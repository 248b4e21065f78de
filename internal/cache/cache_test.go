package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/coordsvc/internal/coordpath"
	"github.com/dreamware/coordsvc/internal/entrymodel"
	"github.com/dreamware/coordsvc/internal/storage"
)

var ctx = context.Background()

type fakeLocker struct {
	entry       *entrymodel.Entry
	releaseHits int
}

func (f *fakeLocker) AcquireRead(context.Context, coordpath.Path) (*entrymodel.Entry, error) {
	return f.entry, nil
}

func (f *fakeLocker) ReleaseRead(context.Context, coordpath.Path, *entrymodel.Entry) error {
	f.releaseHits++
	return nil
}

func TestGetCreatesInvalidSlot(t *testing.T) {
	c := New(storage.NewMemoryStore(), nil)
	slot := c.Get(coordpath.MustParse("/a"))
	version, entry := slot.Version()
	assert.Equal(t, uint64(0), version)
	assert.Nil(t, entry)
}

func TestUpdateRejectsStaleObservedVersion(t *testing.T) {
	c := New(storage.NewMemoryStore(), nil)
	path := coordpath.MustParse("/a")
	slot := c.Get(path)
	c.Invalidate(path) // bump version to 1

	e := entrymodel.New(path, time.Unix(0, 0), entrymodel.None)
	ok := c.Update(slot, 0, &e)
	assert.False(t, ok)
}

func TestUpdateRejectsOlderStorageVersion(t *testing.T) {
	c := New(storage.NewMemoryStore(), nil)
	path := coordpath.MustParse("/a")
	slot := c.Get(path)

	newer := entrymodel.New(path, time.Unix(0, 0), entrymodel.None)
	newer.StorageVersion = 5
	ok := c.Update(slot, 0, &newer)
	require.True(t, ok)

	older := entrymodel.New(path, time.Unix(0, 0), entrymodel.None)
	older.StorageVersion = 2
	ok = c.Update(slot, 0, &older)
	assert.False(t, ok)
}

func TestGetEntryCacheHit(t *testing.T) {
	c := New(storage.NewMemoryStore(), nil)
	path := coordpath.MustParse("/a")
	slot := c.Get(path)
	e := entrymodel.New(path, time.Unix(0, 0), entrymodel.None)
	require.True(t, c.Update(slot, 0, &e))

	locker := &fakeLocker{}
	got, err := c.GetEntry(ctx, path, locker)
	require.NoError(t, err)
	assert.Same(t, &e, got)
	assert.Equal(t, 0, locker.releaseHits)
}

func TestGetEntryMissAcquiresReadLock(t *testing.T) {
	c := New(storage.NewMemoryStore(), nil)
	path := coordpath.MustParse("/a")
	e := entrymodel.New(path, time.Unix(0, 0), entrymodel.None)
	locker := &fakeLocker{entry: &e}

	got, err := c.GetEntry(ctx, path, locker)
	require.NoError(t, err)
	assert.Same(t, &e, got)

	version, cached := c.Get(path).Version()
	assert.Equal(t, uint64(0), version)
	assert.Same(t, &e, cached)
}

// racingLocker invalidates the slot out from under GetEntry while its
// AcquireRead is "in flight", simulating a concurrent invalidator
// winning the race between GetEntry's version read and its Update.
type racingLocker struct {
	fakeLocker
	cache *Cache
	path  coordpath.Path
}

func (r *racingLocker) AcquireRead(ctx context.Context, path coordpath.Path) (*entrymodel.Entry, error) {
	r.cache.Invalidate(r.path)
	return r.fakeLocker.AcquireRead(ctx, path)
}

func TestGetEntryReleasesOnLostRace(t *testing.T) {
	c := New(storage.NewMemoryStore(), nil)
	path := coordpath.MustParse("/a")
	e := entrymodel.New(path, time.Unix(0, 0), entrymodel.None)
	locker := &racingLocker{fakeLocker: fakeLocker{entry: &e}, cache: c, path: path}

	got, err := c.GetEntry(ctx, path, locker)
	require.NoError(t, err)
	assert.Same(t, &e, got)
	assert.Equal(t, 1, locker.releaseHits)

	_, cached := c.Get(path).Version()
	assert.Nil(t, cached)
}

// countingLocker records how many times AcquireRead is actually
// called and holds each call open briefly so concurrent callers
// genuinely overlap rather than happening to interleave serially.
type countingLocker struct {
	fakeLocker
	mu    sync.Mutex
	calls int
}

func (c *countingLocker) AcquireRead(ctx context.Context, path coordpath.Path) (*entrymodel.Entry, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	time.Sleep(10 * time.Millisecond)
	return c.fakeLocker.AcquireRead(ctx, path)
}

// TestGetEntrySerializesConcurrentMissesThroughReadMu confirms a
// stampede of concurrent misses on the same cold slot results in
// exactly one global read-lock acquisition: slot.ReadMu makes every
// caller after the first find the slot already warm.
func TestGetEntrySerializesConcurrentMissesThroughReadMu(t *testing.T) {
	c := New(storage.NewMemoryStore(), nil)
	path := coordpath.MustParse("/a")
	e := entrymodel.New(path, time.Unix(0, 0), entrymodel.None)
	locker := &countingLocker{fakeLocker: fakeLocker{entry: &e}}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := c.GetEntry(ctx, path, locker)
			require.NoError(t, err)
			assert.Same(t, &e, got)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, locker.calls)
}

func TestInvalidateAndReload(t *testing.T) {
	store := storage.NewMemoryStore()
	path := coordpath.MustParse("/a")
	e := entrymodel.New(path, time.Unix(0, 0), entrymodel.None)
	_, err := store.UpdateEntry(ctx, &e, nil)
	require.NoError(t, err)

	c := New(store, nil)
	require.NoError(t, c.InvalidateAndReload(ctx, path))

	_, cached := c.Get(path).Version()
	require.NotNil(t, cached)
	assert.True(t, cached.Path.Equal(path))
}
