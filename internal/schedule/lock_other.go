//go:build !unix

package schedule

import "errors"

// ErrLocked means another process holds the run lock.
var ErrLocked = errors.New("schedule: another run is in progress")

// Lock is a no-op where flock is unavailable.
type Lock struct{}

// Acquire always succeeds without locking.
func Acquire(string) (*Lock, error) { return &Lock{}, nil }

// Release is a no-op.
func (*Lock) Release() error { return nil }
