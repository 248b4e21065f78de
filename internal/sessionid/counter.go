package sessionid

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/natefinch/atomic"
)

// Clock returns the current wall-clock time. It is satisfied by
// time.Now and by fakes in tests.
type Clock func() time.Time

// Counter issues strictly increasing, time-based counter values for
// session-id minting. A counter value is ordinarily the current wall
// clock expressed in nanoseconds, but a call that lands on or before
// the previous value (clock stall, clock going backwards) is bumped to
// one past the previous value so monotonicity never depends on clock
// resolution or precision.
//
// Thread safety: Next is safe for concurrent use.
type Counter struct {
	mu   sync.Mutex
	now  Clock
	last uint64
}

// NewCounter returns a Counter driven by clock, starting from zero.
func NewCounter(clock Clock) *Counter {
	if clock == nil {
		clock = time.Now
	}
	return &Counter{now: clock}
}

// Next returns the next monotone counter value.
func (c *Counter) Next() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	candidate := uint64(c.now().UnixNano())
	if candidate <= c.last {
		candidate = c.last + 1
	}
	c.last = candidate
	return candidate
}

// Restore advances the counter's high-water mark to at least n,
// without ever moving it backwards. Used to seed a Counter from a
// persisted value after a restart so a restarted participant cannot
// reissue a session id it used before crashing.
func (c *Counter) Restore(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n > c.last {
		c.last = n
	}
}

// LoadPersistedCounter reads the high-water mark written by
// PersistCounter at path, returning 0 if the file does not exist.
func LoadPersistedCounter(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("sessionid: read counter file: %w", err)
	}
	n, err := strconv.ParseUint(string(bytes.TrimSpace(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("sessionid: parse counter file: %w", err)
	}
	return n, nil
}

// PersistCounter atomically writes n to path so a future process can
// restore the counter's high-water mark via LoadPersistedCounter. The
// write is atomic (via a temp-file-and-rename dance) so a crash mid-
// write never leaves a corrupt or partially-written counter file.
func PersistCounter(path string, n uint64) error {
	r := bytes.NewReader([]byte(strconv.FormatUint(n, 10)))
	if err := atomic.WriteFile(path, r); err != nil {
		return fmt.Errorf("sessionid: persist counter file: %w", err)
	}
	return nil
}
