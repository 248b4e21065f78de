package cache

import (
	"context"
	"sync"

	"github.com/dreamware/coordsvc/internal/coordpath"
	"github.com/dreamware/coordsvc/internal/entrymodel"
	"github.com/dreamware/coordsvc/internal/metrics"
	"github.com/dreamware/coordsvc/internal/storage"
)

// Slot is a single path's cache entry plus the two local mutexes the
// lock manager serializes its local-then-global write/read handshake
// through (spec.md §4.3: "Each path has two local mutexes in its cache
// slot").
type Slot struct {
	// WriteMu and ReadMu are exported so the lock manager (a separate
	// package, constructed with a reference to this cache) can take
	// them directly as part of its acquire/release sequencing.
	WriteMu sync.Mutex
	ReadMu  sync.Mutex

	mu      sync.Mutex
	version uint64
	entry   *entrymodel.Entry
}

// Version returns the slot's current cache-version and cached entry
// (nil if the slot is invalid).
func (s *Slot) Version() (uint64, *entrymodel.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version, s.entry
}

// Cache is the participant's full entry cache: a concurrent map of
// path to Slot, plus a reference to the backing store used to satisfy
// misses and invalidation-triggered reloads.
type Cache struct {
	store   storage.EntryStore
	metrics *metrics.Metrics

	mu    sync.Mutex
	slots map[string]*Slot
}

// New constructs an empty Cache backed by store. m may be nil
// (metrics.Disabled()).
func New(store storage.EntryStore, m *metrics.Metrics) *Cache {
	return &Cache{
		store:   store,
		metrics: m,
		slots:   make(map[string]*Slot),
	}
}

// Get returns the slot for path, creating one invalid slot (version 0,
// no cached entry) on first access.
func (c *Cache) Get(path coordpath.Path) *Slot {
	key := path.String()

	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.slots[key]
	if !ok {
		s = &Slot{}
		c.slots[key] = s
	}
	return s
}

// Update conditionally replaces slot's cached entry with entry, if
// slot's cache-version still equals observedVersion (no concurrent
// invalidation raced ahead of the caller) and entry's storage_version
// is not older than whatever is already cached. It reports whether the
// replacement happened.
func (c *Cache) Update(slot *Slot, observedVersion uint64, entry *entrymodel.Entry) bool {
	slot.mu.Lock()
	defer slot.mu.Unlock()

	if slot.version != observedVersion {
		return false
	}
	if slot.entry != nil && entry != nil && entry.StorageVersion < slot.entry.StorageVersion {
		return false
	}
	slot.entry = entry
	return true
}

// Invalidate drops slot's cached entry and bumps its cache-version,
// so any update racing against the invalidation (observing the old
// version) is rejected.
func (c *Cache) Invalidate(path coordpath.Path) {
	slot := c.Get(path)
	slot.mu.Lock()
	defer slot.mu.Unlock()
	slot.version++
	slot.entry = nil
}

// GlobalReadLocker is the narrow lock-manager capability the cache's
// read path needs: acquire/release the global read-lock for path.
// Passed as a parameter rather than stored, per spec.md §9's
// resolution of the cache/lock-manager dependency cycle.
type GlobalReadLocker interface {
	AcquireRead(ctx context.Context, path coordpath.Path) (*entrymodel.Entry, error)
	ReleaseRead(ctx context.Context, path coordpath.Path, entry *entrymodel.Entry) error
}

// GetEntry implements spec.md §4.7's read path: return the cached
// entry if the slot is valid; otherwise acquire the global read-lock,
// conditionally populate the slot, and return. If a concurrent
// invalidation wins the race (the slot is still invalid after Update),
// the freshly-acquired read-lock is released before returning so no
// orphan read-lock accumulates.
//
// Concurrent misses on the same slot are serialized through
// slot.ReadMu: without it, a stampede of callers racing a cold slot
// would each acquire their own global read-lock for the same path,
// all but one of them redundant. The first caller through does the
// acquire-and-populate; everyone else queued behind ReadMu finds the
// slot already warm and never calls the lock manager at all.
func (c *Cache) GetEntry(ctx context.Context, path coordpath.Path, locker GlobalReadLocker) (*entrymodel.Entry, error) {
	slot := c.Get(path)
	observedVersion, cached := slot.Version()
	if cached != nil {
		c.metrics.IncCacheHit()
		return cached, nil
	}

	slot.ReadMu.Lock()
	defer slot.ReadMu.Unlock()

	observedVersion, cached = slot.Version()
	if cached != nil {
		c.metrics.IncCacheHit()
		return cached, nil
	}
	c.metrics.IncCacheMiss()

	entry, err := locker.AcquireRead(ctx, path)
	if err != nil {
		return nil, err
	}

	if c.Update(slot, observedVersion, entry) {
		return entry, nil
	}

	// Lost the race to a concurrent invalidation: release the
	// just-acquired read-lock rather than leak it, and hand back the
	// freshly-read entry (still correct, just not cached).
	if releaseErr := locker.ReleaseRead(ctx, path, entry); releaseErr != nil {
		return entry, releaseErr
	}
	return entry, nil
}

// InvalidateAndReload implements exchange.CacheInvalidator: it drops
// the cached slot and eagerly reloads the entry from storage so a
// subsequent lock-manager release sees consistent staging, per
// spec.md §4.6's receipt handling for InvalidateCacheEntry.
func (c *Cache) InvalidateAndReload(ctx context.Context, path coordpath.Path) error {
	c.Invalidate(path)
	entry, err := c.store.GetEntry(ctx, path)
	if err != nil {
		return err
	}
	slot := c.Get(path)
	version, _ := slot.Version()
	c.Update(slot, version, entry)
	return nil
}
