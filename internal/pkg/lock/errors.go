package lock

import "errors"

// ErrLockTimeout is returned when another mutation keeps a key locked past
// the caller's timeout.
var ErrLockTimeout = errors.New("lock acquisition timeout")
