package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrLockTimeout is returned when a lock cannot be acquired within the specified timeout
	ErrLockTimeout = errors.New("lock acquisition timeout")
	// ErrLockNotHeld is returned when attempting to release a lock that isn't held
	ErrLockNotHeld = errors.New("lock not held")
)

// DefaultStaleLockAge is how old a lock file must be before it is considered
// abandoned.
const DefaultStaleLockAge = 5 * time.Minute

// FileLock is an exclusive "<target>.lock" file, additionally flocked on
// platforms that support it. It guards writes to a container file.
type FileLock struct {
	path       string
	lockFile   *os.File
	staleAfter time.Duration
}

// NewFileLock creates a lock for the given target file.
func NewFileLock(target string) *FileLock {
	return &FileLock{
		path:       target + ".lock",
		staleAfter: DefaultStaleLockAge,
	}
}

// Path returns the lock file path.
func (fl *FileLock) Path() string {
	return fl.path
}

// Lock acquires the lock, retrying until timeout.
func (fl *FileLock) Lock(timeout time.Duration) error {
	if fl.lockFile != nil {
		return errors.New("lock already held")
	}

	if err := os.MkdirAll(filepath.Dir(fl.path), 0o700); err != nil {
		return err
	}

	start := time.Now()
	for {
		file, err := os.OpenFile(fl.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			if err := platformLock(file); err != nil {
				_ = file.Close()
				_ = os.Remove(fl.path)
				return fmt.Errorf("%w: %v", ErrLocked, err)
			}
			if _, err := file.WriteString(strconv.Itoa(os.Getpid())); err != nil {
				_ = platformUnlock(file)
				_ = file.Close()
				_ = os.Remove(fl.path)
				return err
			}
			fl.lockFile = file
			return nil
		}
		if !errors.Is(err, os.ErrExist) {
			return err
		}

		if fl.isLockStale() {
			_ = os.Remove(fl.path)
			continue
		}

		if time.Since(start) > timeout {
			return ErrLockTimeout
		}

		time.Sleep(50 * time.Millisecond)
	}
}

// Unlock releases the lock and removes the lock file.
func (fl *FileLock) Unlock() error {
	if fl.lockFile == nil {
		return ErrLockNotHeld
	}

	err := platformUnlock(fl.lockFile)
	if closeErr := fl.lockFile.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	fl.lockFile = nil

	if removeErr := os.Remove(fl.path); removeErr != nil && err == nil {
		err = removeErr
	}
	return err
}

// IsLocked returns true if this FileLock currently holds the lock.
func (fl *FileLock) IsLocked() bool {
	return fl.lockFile != nil
}

// Holder returns the pid recorded in an existing lock file.
func (fl *FileLock) Holder() (int, bool) {
	data, err := os.ReadFile(fl.path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false
	}
	return pid, true
}

// isLockStale reports whether the lock file outlived staleAfter. The
// recorded pid is not probed; pids are reused.
func (fl *FileLock) isLockStale() bool {
	info, err := os.Stat(fl.path)
	if err != nil {
		return false
	}
	return time.Since(info.ModTime()) > fl.staleAfter
}
