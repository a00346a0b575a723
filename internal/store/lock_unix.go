//go:build unix

package store

import (
	"os"

	"golang.org/x/sys/unix"
)

// platformLock takes a non-blocking exclusive flock.
func platformLock(file *os.File) error {
	return unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
}

func platformUnlock(file *os.File) error {
	return unix.Flock(int(file.Fd()), unix.LOCK_UN)
}
