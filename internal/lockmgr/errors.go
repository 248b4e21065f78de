package lockmgr

import "errors"

// ErrSessionTerminated is returned by Acquire* when the local session
// is no longer alive at the time of the call.
var ErrSessionTerminated = errors.New("lockmgr: local session terminated")
