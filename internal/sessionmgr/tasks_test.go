package sessionmgr

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/coordsvc/internal/coordpath"
	"github.com/dreamware/coordsvc/internal/entrymodel"
	"github.com/dreamware/coordsvc/internal/sessionid"
	"github.com/dreamware/coordsvc/internal/storage"
)

func TestCleanupDeadSessionDeletesEphemerals(t *testing.T) {
	store := storage.NewMemoryStore()
	m := New(store, fixedClock(time.Unix(0, 0)), nil)
	owner := sessionid.New(1, "addr-a")
	path := coordpath.MustParse("/e")

	_, err := m.TryBegin(ctx, owner, time.Unix(100, 0))
	require.NoError(t, err)
	require.NoError(t, m.AddEntry(ctx, owner, path))

	e := entrymodel.New(path, time.Unix(0, 0), entrymodel.Some(owner))
	_, err = store.UpdateEntry(ctx, &e, nil)
	require.NoError(t, err)

	m.cleanupDeadSession(ctx, owner, store)

	gone, err := store.GetEntry(ctx, path)
	require.NoError(t, err)
	assert.Nil(t, gone)

	s, err := store.GetSession(ctx, owner)
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestCleanupDeadSessionRemovesChildFromParent(t *testing.T) {
	store := storage.NewMemoryStore()
	m := New(store, fixedClock(time.Unix(0, 0)), nil)
	owner := sessionid.New(1, "addr-a")
	parentPath := coordpath.MustParse("/")
	path := coordpath.MustParse("/e")

	_, err := m.TryBegin(ctx, owner, time.Unix(100, 0))
	require.NoError(t, err)
	require.NoError(t, m.AddEntry(ctx, owner, path))

	parent := entrymodel.New(parentPath, time.Unix(0, 0), entrymodel.None).
		AcquireWriteLock(owner).
		AddChild("e", owner).
		ReleaseWriteLock(owner)
	writtenParent, err := store.UpdateEntry(ctx, &parent, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"e"}, writtenParent.Children)

	e := entrymodel.New(path, time.Unix(0, 0), entrymodel.Some(owner))
	_, err = store.UpdateEntry(ctx, &e, nil)
	require.NoError(t, err)

	m.cleanupDeadSession(ctx, owner, store)

	gone, err := store.GetEntry(ctx, path)
	require.NoError(t, err)
	assert.Nil(t, gone)

	gotParent, err := store.GetEntry(ctx, parentPath)
	require.NoError(t, err)
	require.NotNil(t, gotParent)
	assert.Empty(t, gotParent.Children)
}

func TestRunRenewerShutsDownOnTermination(t *testing.T) {
	store := storage.NewMemoryStore()
	m := New(store, fixedClock(time.Unix(0, 0)), nil)
	self := sessionid.New(1, "addr-a")
	// No session begun: Update will always see it as terminated.

	ctx2, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	terminated := make(chan struct{})
	m.RunRenewer(ctx2, self, 20*time.Millisecond, func() { close(terminated) })

	select {
	case <-terminated:
	default:
		t.Fatal("renewer did not report termination")
	}
}
