package waitmgr

import "time"

const (
	backoffInitial = 200 * time.Millisecond
	backoffMax     = 12800 * time.Millisecond
)

// Backoff produces the exponential 200ms-to-12.8s polling interval
// used by every "wait for something that may be lost" loop in the
// system (spec.md §5 "Timeouts").
type Backoff struct {
	next time.Duration
}

// NewBackoff returns a Backoff starting at 200ms.
func NewBackoff() *Backoff {
	return &Backoff{next: backoffInitial}
}

// Duration returns the current interval and doubles it (capped at
// 12.8s) for the next call.
func (b *Backoff) Duration() time.Duration {
	d := b.next
	b.next *= 2
	if b.next > backoffMax {
		b.next = backoffMax
	}
	return d
}
