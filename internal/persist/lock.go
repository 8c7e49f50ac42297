package persist

import (
	"fmt"

	"github.com/gofrs/flock"
)

// InstanceLock is an advisory file lock backing the server's "another
// server already running" startup check (the `-s` flag silences the
// resulting message but the check itself is not optional).
type InstanceLock struct {
	fl *flock.Flock
}

// Acquire takes an exclusive, non-blocking lock on path (server startup
// passes the socket path with a ".lock" suffix). ok is false
// if another process already holds it.
func Acquire(path string) (*InstanceLock, bool, error) {
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, false, fmt.Errorf("persist: lock %s: %w", path, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &InstanceLock{fl: fl}, true, nil
}

func (l *InstanceLock) Release() error {
	return l.fl.Unlock()
}
