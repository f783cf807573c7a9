// Package ratelimit caps uploads per rolling window. Each accepted send is
// recorded as a small file whose modification time is the send time, so
// the cap survives restarts.
package ratelimit

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/Sumatoshi-tech/crashtriage/pkg/clock"
)

// Defaults.
const (
	DefaultMaxSends = 32
	DefaultWindow   = 24 * time.Hour

	stampPattern = "send-*"
)

// Limiter tracks sends in a directory of timestamp files.
type Limiter struct {
	dir      string
	maxSends int
	window   time.Duration
	clock    clock.Clock
}

// New creates a Limiter over dir. Non-positive limits select defaults.
func New(dir string, maxSends int, window time.Duration, clk clock.Clock) *Limiter {
	if maxSends <= 0 {
		maxSends = DefaultMaxSends
	}

	if window <= 0 {
		window = DefaultWindow
	}

	if clk == nil {
		clk = clock.Real()
	}

	return &Limiter{dir: dir, maxSends: maxSends, window: window, clock: clk}
}

// Count prunes timestamps older than the window and returns how many
// sends remain inside it.
func (l *Limiter) Count() (int, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}

		return 0, fmt.Errorf("read rate limit directory: %w", err)
	}

	now := l.clock.Now()
	count := 0

	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}

		fi, err := entry.Info()
		if err != nil {
			continue
		}

		if now.Sub(fi.ModTime()) >= l.window {
			if err := os.Remove(filepath.Join(l.dir, entry.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return 0, fmt.Errorf("prune rate limit stamp: %w", err)
			}

			continue
		}

		count++
	}

	return count, nil
}

// Allow reports whether one more send fits in the window.
func (l *Limiter) Allow() (bool, error) {
	n, err := l.Count()
	if err != nil {
		return false, err
	}

	return n < l.maxSends, nil
}

// Record stores one send at the current clock time.
func (l *Limiter) Record() error {
	if err := os.MkdirAll(l.dir, 0o700); err != nil {
		return fmt.Errorf("create rate limit directory: %w", err)
	}

	f, err := os.CreateTemp(l.dir, stampPattern)
	if err != nil {
		return fmt.Errorf("create rate limit stamp: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("close rate limit stamp: %w", err)
	}

	now := l.clock.Now()
	if err := os.Chtimes(f.Name(), now, now); err != nil {
		return fmt.Errorf("stamp rate limit file: %w", err)
	}

	return nil
}

// Max returns the configured cap.
func (l *Limiter) Max() int {
	return l.maxSends
}
