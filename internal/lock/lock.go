// Package lock provides the cross-process lock held around each sync cycle.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrBusy means another process holds the lock
var ErrBusy = errors.New("sync lock is held by another process")

// FileLock is an exclusive advisory lock on a file
type FileLock struct {
	path string
	file *os.File
}

// TryAcquire takes the lock without blocking. It returns ErrBusy if the lock is held.
func TryAcquire(path string) (*FileLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := tryLock(f); err != nil {
		f.Close()
		return nil, err
	}

	// the pid is informational only
	_ = f.Truncate(0)
	_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())

	return &FileLock{path: path, file: f}, nil
}

// Release unlocks and closes the lock file
func (l *FileLock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := unlock(l.file)
	if cerr := l.file.Close(); err == nil {
		err = cerr
	}
	l.file = nil
	return err
}
