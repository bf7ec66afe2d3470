// Package lock provides advisory file locks for cross-process exclusion of
// long critical sections. In-process contention is handled by component
// mutexes; these locks only stop a second process from running the same
// step concurrently.
package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// ErrHeld reports that another process holds the lock.
var ErrHeld = errors.New("lock held by another process")

// FileLock is an acquired advisory lock.
type FileLock struct {
	path string
	f    *os.File
}

type holderInfo struct {
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Acquire takes a non-blocking exclusive flock on path, creating the file
// if needed. Returns ErrHeld when another process owns it.
func Acquire(path string) (*FileLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir for lock %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock %s: %w", path, err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.EAGAIN) {
			return nil, ErrHeld
		}
		return nil, fmt.Errorf("flock %s: %w", path, err)
	}

	// Holder metadata is informational for operators inspecting the file.
	info, _ := json.Marshal(holderInfo{PID: os.Getpid(), AcquiredAt: time.Now().UTC()})
	_ = f.Truncate(0)
	_, _ = f.WriteAt(append(info, '\n'), 0)

	return &FileLock{path: path, f: f}, nil
}

// Release drops the flock and closes the file. The lock file itself stays
// on disk; its presence is part of the state-directory contract.
func (l *FileLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	cerr := l.f.Close()
	l.f = nil
	if err != nil {
		return fmt.Errorf("unlock %s: %w", l.path, err)
	}
	return cerr
}

// WithLock runs fn while holding the lock at path. When the lock is held
// elsewhere it returns ErrHeld without running fn.
func WithLock(path string, fn func() error) error {
	fl, err := Acquire(path)
	if err != nil {
		return err
	}
	defer fl.Release()
	return fn()
}
