package lockfile

// The lock file is both the mutex and the ledger.
// Hold it for the whole run. Never delete it.
// Truncation is the only write after creation.

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// DefaultPath is used when no lock file is configured.
const DefaultPath = "runlock.lock"

// ErrLocked is returned when another process holds the exclusive lock.
var ErrLocked = errors.New("lock held by another process")

// Lock is an open lock file.
type Lock struct {
	path    string
	file    *os.File
	created bool
	locked  bool
}

// Acquire opens path, creating it with atime and mtime set to seed if it
// does not exist yet. Unless dryRun is set, an exclusive non-blocking flock
// is taken; a busy lock returns ErrLocked immediately.
func Acquire(path string, seed int64, dryRun bool) (*Lock, error) {
	l, err := Open(path, seed)
	if err != nil {
		return nil, err
	}

	if dryRun {
		return l, nil
	}

	if err := l.TryLock(); err != nil {
		l.Close()
		return nil, err
	}
	return l, nil
}

// Open opens or creates the lock file without locking it.
func Open(path string, seed int64) (*Lock, error) {
	if path == "" {
		path = DefaultPath
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
	if err == nil {
		l := &Lock{path: path, file: f, created: true}
		if err := l.seed(seed); err != nil {
			f.Close()
			return nil, err
		}
		return l, nil
	}

	if !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("open: %w", err)
	}

	f, err = os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	return &Lock{path: path, file: f}, nil
}

func (l *Lock) seed(ts int64) error {
	tv := unix.NsecToTimeval(ts * 1e9)
	if err := unix.Futimes(int(l.file.Fd()), []unix.Timeval{tv, tv}); err != nil {
		return fmt.Errorf("futimes: %w", err)
	}
	return nil
}

// TryLock takes the exclusive flock without blocking.
func (l *Lock) TryLock() error {
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err == nil {
		l.locked = true
		return nil
	}
	if errors.Is(err, unix.EWOULDBLOCK) {
		return ErrLocked
	}
	return fmt.Errorf("flock: %w", err)
}

// ModTime returns the recorded last-run time in whole seconds.
func (l *Lock) ModTime() (int64, error) {
	info, err := l.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("fstat: %w", err)
	}
	return info.ModTime().Unix(), nil
}

// Reset truncates the file, which moves its mtime to now.
func (l *Lock) Reset() error {
	if err := l.file.Truncate(0); err != nil {
		return fmt.Errorf("ftruncate: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Created reports whether this call created the file.
func (l *Lock) Created() bool {
	return l.created
}

// Locked reports whether the exclusive lock is held.
func (l *Lock) Locked() bool {
	return l.locked
}

// Close releases the lock and the descriptor. The kernel does the same on
// process exit, so callers that exit right away need not call it.
func (l *Lock) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	l.locked = false
	return err
}
