//go:build unix

package lockfile_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/crashtriage/pkg/clock"
	"github.com/Sumatoshi-tech/crashtriage/pkg/lockfile"
)

func openPair(t *testing.T) (*lockfile.Lock, *lockfile.Lock) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "crash_sender.lock")

	a, err := lockfile.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	b, err := lockfile.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	return a, b
}

func TestTryLock_Exclusive(t *testing.T) {
	t.Parallel()

	a, b := openPair(t)

	require.NoError(t, a.TryLock())
	assert.True(t, a.Held())
	require.ErrorIs(t, b.TryLock(), lockfile.ErrLocked)

	require.NoError(t, a.Unlock())
	require.NoError(t, a.Unlock())
	require.NoError(t, b.TryLock())
}

func TestAcquire_TimesOutAfterFinalAttempt(t *testing.T) {
	t.Parallel()

	a, b := openPair(t)
	require.NoError(t, a.TryLock())

	fc := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	err := b.Acquire(context.Background(), fc, 5*time.Second, time.Second)
	require.ErrorIs(t, err, lockfile.ErrTimeout)
	assert.Len(t, fc.Sleeps(), 5)
	assert.False(t, b.Held())
}

func TestAcquire_SucceedsOnceReleased(t *testing.T) {
	t.Parallel()

	a, b := openPair(t)
	require.NoError(t, a.TryLock())

	fc := &releasingClock{FakeClock: clock.Fake(time.Now()), release: a, after: 2}

	require.NoError(t, b.Acquire(context.Background(), fc, lockfile.DefaultTimeout, 0))
	assert.True(t, b.Held())
	assert.Len(t, fc.Sleeps(), 2)
}

func TestAcquire_ZeroTimeoutStillTriesOnce(t *testing.T) {
	t.Parallel()

	_, b := openPair(t)

	require.NoError(t, b.Acquire(context.Background(), clock.Fake(time.Now()), 0, time.Second))
	assert.True(t, b.Held())
}

// releasingClock unlocks the competing holder after a number of sleeps.
type releasingClock struct {
	*clock.FakeClock

	release *lockfile.Lock
	after   int
}

func (c *releasingClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := c.FakeClock.Sleep(ctx, d); err != nil {
		return err
	}

	if len(c.Sleeps()) == c.after {
		return c.release.Unlock()
	}

	return nil
}
