// Package proclock serializes the interactive CLI and the unattended
// fail-safe runner around the shared state store. Both acquire the
// same flock(2)-backed lock before any read-revert-delete transition
// so the two processes cannot interleave mid-record.
package proclock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// ErrHeld is returned by TryAcquire when another process holds the lock.
var ErrHeld = errors.New("lock held by another process")

// acquirePoll is the retry interval for blocking Acquire.
const acquirePoll = 200 * time.Millisecond

// Lock is a held cross-process lock. Release it exactly once.
type Lock struct {
	path string
	file *os.File
}

// TryAcquire attempts to take the lock without blocking.
func TryAcquire(path string) (*Lock, error) {
	file, err := open(path)
	if err != nil {
		return nil, err
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.EAGAIN) {
			return nil, ErrHeld
		}
		return nil, fmt.Errorf("acquire lock: %w", err)
	}

	return &Lock{path: path, file: file}, nil
}

// Acquire blocks until the lock is taken or the timeout elapses.
// A zero timeout waits indefinitely.
func Acquire(path string, timeout time.Duration) (*Lock, error) {
	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		lock, err := TryAcquire(path)
		if err == nil {
			return lock, nil
		}
		if !errors.Is(err, ErrHeld) {
			return nil, err
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return nil, fmt.Errorf("timed out after %s: %w", timeout, ErrHeld)
		}
		time.Sleep(acquirePoll)
	}
}

// Release unlocks and closes the lock file. The file itself is kept
// so a crashed holder never leaves a stale lock: flock drops with the
// process.
func (l *Lock) Release() error {
	unlockErr := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	closeErr := l.file.Close()
	if unlockErr != nil {
		return fmt.Errorf("release lock: %w", unlockErr)
	}
	return closeErr
}

func open(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	return file, nil
}
