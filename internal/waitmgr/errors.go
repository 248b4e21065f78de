package waitmgr

import "errors"

// ErrResidualForeignReadLock is returned by WaitForReadLocksRelease
// when, after every foreign holder's race resolves, a reload still
// observes a foreign read-lock — a broken invariant under a held
// write-lock, per spec.md §4.4.
var ErrResidualForeignReadLock = errors.New("waitmgr: residual foreign read-lock after release race")

// ErrSelfTerminated is returned by cleanup when the session being
// cleaned up turns out to be the local session itself — meaning the
// local session has been terminated out from under the caller.
var ErrSelfTerminated = errors.New("waitmgr: local session observed terminated")
