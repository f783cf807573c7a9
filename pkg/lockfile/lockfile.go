//go:build unix

// Package lockfile serializes crash store mutation across processes with
// an advisory flock(2) lock.
package lockfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/Sumatoshi-tech/crashtriage/pkg/clock"
)

// Lock wait defaults.
const (
	DefaultTimeout       = 5 * time.Minute
	CrashTestTimeout     = 1 * time.Second
	DefaultRetryInterval = 1 * time.Second
)

var (
	// ErrLocked is returned by TryLock when another holder has the lock.
	ErrLocked = errors.New("lock file is held by another process")
	// ErrTimeout is returned by Acquire when the final attempt fails.
	ErrTimeout = errors.New("timed out waiting for lock file")
)

// Lock is an open lock file.
type Lock struct {
	file *os.File
	held bool
}

// Open opens or creates the lock file at path without locking it.
func Open(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	return &Lock{file: f}, nil
}

// TryLock takes the exclusive lock without blocking.
func (l *Lock) TryLock() error {
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err != nil {
		if errors.Is(err, unix.EWOULDBLOCK) {
			return ErrLocked
		}

		return fmt.Errorf("flock %s: %w", l.file.Name(), err)
	}

	l.held = true

	return nil
}

// Unlock releases the lock and keeps the file open.
func (l *Lock) Unlock() error {
	if !l.held {
		return nil
	}

	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		return fmt.Errorf("unlock %s: %w", l.file.Name(), err)
	}

	l.held = false

	return nil
}

// Held reports whether this Lock holds the flock.
func (l *Lock) Held() bool {
	return l.held
}

// Close releases the lock and closes the file.
func (l *Lock) Close() error {
	l.held = false

	if err := l.file.Close(); err != nil {
		return fmt.Errorf("close lock file: %w", err)
	}

	return nil
}

// Acquire retries TryLock every retry interval until timeout has passed on
// clk, then makes one final attempt. The wait is measured on clk so tests
// can drive it with a fake clock.
func (l *Lock) Acquire(ctx context.Context, clk clock.Clock, timeout, retry time.Duration) error {
	if retry <= 0 {
		retry = DefaultRetryInterval
	}

	stop := clk.Now().Add(timeout)

	for clk.Now().Before(stop) {
		err := l.TryLock()
		if err == nil {
			return nil
		}

		if !errors.Is(err, ErrLocked) {
			return err
		}

		if err := clk.Sleep(ctx, retry); err != nil {
			return fmt.Errorf("wait for lock file: %w", err)
		}
	}

	if err := l.TryLock(); err != nil {
		if errors.Is(err, ErrLocked) {
			return fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}

		return err
	}

	return nil
}
