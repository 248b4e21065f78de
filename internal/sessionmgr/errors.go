package sessionmgr

import "errors"

// ErrSessionTerminated is returned by update when the target session
// is gone or has already ended.
var ErrSessionTerminated = errors.New("sessionmgr: session terminated")
