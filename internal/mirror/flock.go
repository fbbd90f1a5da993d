package mirror

import (
	"log/slog"
	"os"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// Flock is an advisory, exclusive lock on an open file.
type Flock struct {
	File *os.File
}

// Lock acquires the lock without blocking.
// It fails with EWOULDBLOCK when another descriptor holds it.
func (f Flock) Lock() error {
	if err := unix.Flock(int(f.File.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return errors.Wrapf(err, "another mirrorselect run holds %s", f.File.Name())
	}
	return nil
}

// Unlock releases the lock.
func (f Flock) Unlock() error {
	return unix.Flock(int(f.File.Fd()), unix.LOCK_UN)
}

// AcquireLock opens (creating if needed) and locks the file at p.
// The returned function releases the lock and leaves the file in place, so
// every run locks the same inode.
func AcquireLock(p string) (func(), error) {
	if err := validateDirectoryPath(p); err != nil {
		return nil, errors.Wrap(err, "lock file")
	}
	file, err := os.OpenFile(p, os.O_RDONLY|os.O_CREATE, 0644) // #nosec G302,G304 - lock file path validated above
	if err != nil {
		return nil, errors.Wrapf(err, "opening lock file %s", p)
	}
	fl := Flock{file}
	if err := fl.Lock(); err != nil {
		file.Close()
		return nil, err
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			slog.Warn("failed to unlock file", "error", err)
		}
		if err := file.Close(); err != nil {
			slog.Warn("failed to close lock file", "error", err)
		}
	}, nil
}
