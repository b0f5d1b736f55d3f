package sqlitedb

import (
	"fmt"

	"github.com/gofrs/flock"

	"github.com/randalmurphal/dbrecovery/pkg/dbrecovery"
)

// LockSuffix is appended to the database path to name its recovery lock.
const LockSuffix = ".recovery.lock"

// FileLock is an advisory lock on <path>.recovery.lock that keeps two
// processes from recovering the same database.
type FileLock struct {
	lock *flock.Flock
}

var _ dbrecovery.Locker = (*FileLock)(nil)

// NewFileLock creates the lock for the database at path.
func NewFileLock(path string) *FileLock {
	return &FileLock{lock: flock.New(path + LockSuffix)}
}

// Path returns the lock file path.
func (l *FileLock) Path() string {
	return l.lock.Path()
}

// Lock acquires the lock without waiting. It returns an error wrapping
// dbrecovery.ErrLocked if another owner holds it.
func (l *FileLock) Lock() error {
	locked, err := l.lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock %s: %w", l.lock.Path(), err)
	}
	if !locked {
		return fmt.Errorf("lock %s: %w", l.lock.Path(), dbrecovery.ErrLocked)
	}
	return nil
}

// Unlock releases the lock.
func (l *FileLock) Unlock() error {
	return l.lock.Unlock()
}
