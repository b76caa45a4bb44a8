package crawl

import (
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrAlreadyRunning indicates another crawl holds the state lock.
var ErrAlreadyRunning = fmt.Errorf("another crawl is already running")

// Lock guards the crawl state directory so two crawler processes never
// race each other's registry writes. Non-blocking: a held lock is an
// immediate error, not a wait.
type Lock struct {
	fl *flock.Flock
}

// AcquireLock takes the crawl lock in stateDir.
func AcquireLock(stateDir string) (*Lock, error) {
	fl := flock.New(filepath.Join(stateDir, "crawl.lock"))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring crawl lock: %w", err)
	}
	if !ok {
		return nil, ErrAlreadyRunning
	}
	return &Lock{fl: fl}, nil
}

// Release drops the lock.
func (l *Lock) Release() error {
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("releasing crawl lock: %w", err)
	}
	return nil
}
