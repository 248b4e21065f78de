package sessionid

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewParseRoundTrip(t *testing.T) {
	id := New(0xdeadbeef, "addr-a:7100")
	counter, addr, err := Parse(string(id))
	require.NoError(t, err)
	assert.Equal(t, uint64(0xdeadbeef), counter)
	assert.Equal(t, Address("addr-a:7100"), addr)

	gotCounter, err := id.Counter()
	require.NoError(t, err)
	assert.Equal(t, uint64(0xdeadbeef), gotCounter)

	gotAddr, err := id.Address()
	require.NoError(t, err)
	assert.Equal(t, Address("addr-a:7100"), gotAddr)
}

func TestParseRejectsMalformedID(t *testing.T) {
	_, _, err := Parse("too-short")
	assert.ErrorIs(t, err, ErrMalformed)

	_, _, err = Parse("not-hex-not-hex-not-hex")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestCounterNextIsMonotoneAcrossClockStall(t *testing.T) {
	fixed := time.Unix(100, 0)
	c := NewCounter(func() time.Time { return fixed })

	a := c.Next()
	b := c.Next()
	d := c.Next()
	assert.Less(t, a, b)
	assert.Less(t, b, d)
}

func TestCounterNextIsMonotoneConcurrent(t *testing.T) {
	c := NewCounter(time.Now)
	const n = 200
	values := make([]uint64, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			values[i] = c.Next()
		}(i)
	}
	wg.Wait()

	seen := make(map[uint64]bool, n)
	for _, v := range values {
		assert.Falsef(t, seen[v], "counter value %d issued twice", v)
		seen[v] = true
	}
}

func TestCounterRestoreNeverMovesBackwards(t *testing.T) {
	fixed := time.Unix(0, 500)
	c := NewCounter(func() time.Time { return fixed })

	c.Restore(1000)
	assert.Greater(t, c.Next(), uint64(1000))

	c.Restore(1) // lower than the current high-water mark: no-op
	next := c.Next()
	assert.Greater(t, next, uint64(1000))
}

func TestPersistAndLoadCounterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counter")

	n, err := LoadPersistedCounter(path)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, PersistCounter(path, 424242))

	loaded, err := LoadPersistedCounter(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(424242), loaded)
}

func TestLoadPersistedCounterRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counter")
	require.NoError(t, os.WriteFile(path, []byte("not-a-number"), 0o600))

	_, err := LoadPersistedCounter(path)
	assert.Error(t, err)
}
