package waitdir

import (
	"sync"

	"github.com/dreamware/coordsvc/internal/coordpath"
	"github.com/dreamware/coordsvc/internal/sessionid"
)

type key struct {
	session sessionid.ID
	path    string
}

type slot struct {
	ch    chan struct{}
	fired bool
	refs  int
}

// Directory is a ref-counted map from (session, path) to a one-shot
// notification. Notify is idempotent and fire-and-forget: it is valid
// to call Notify for a key with no current waiters.
type Directory struct {
	mu    sync.Mutex
	slots map[key]*slot
}

// New returns an empty Directory.
func New() *Directory {
	return &Directory{slots: make(map[key]*slot)}
}

// Wait registers interest in (session, path) and returns a channel
// that closes once Notify is called for that key, plus a release
// function the caller must call exactly once (typically via defer)
// whether or not the channel fired. The slot is torn down once its
// last waiter releases.
func (d *Directory) Wait(session sessionid.ID, path coordpath.Path) (<-chan struct{}, func()) {
	k := key{session: session, path: path.String()}

	d.mu.Lock()
	s, ok := d.slots[k]
	if !ok {
		s = &slot{ch: make(chan struct{})}
		d.slots[k] = s
	}
	s.refs++
	d.mu.Unlock()

	released := false
	release := func() {
		if released {
			return
		}
		released = true
		d.mu.Lock()
		s.refs--
		if s.refs <= 0 {
			if cur, ok := d.slots[k]; ok && cur == s {
				delete(d.slots, k)
			}
		}
		d.mu.Unlock()
	}
	return s.ch, release
}

// Notify fires the one-shot notification for (session, path), waking
// every current waiter. It is a no-op if nothing is waiting.
func (d *Directory) Notify(session sessionid.ID, path coordpath.Path) {
	k := key{session: session, path: path.String()}

	d.mu.Lock()
	s, ok := d.slots[k]
	if ok && !s.fired {
		s.fired = true
		close(s.ch)
	}
	d.mu.Unlock()
}
