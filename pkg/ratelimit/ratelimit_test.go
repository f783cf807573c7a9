package ratelimit_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/crashtriage/pkg/clock"
	"github.com/Sumatoshi-tech/crashtriage/pkg/ratelimit"
)

const testMax = 3

func TestLimiter_CapsWithinWindow(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "timestamps")
	fc := clock.Fake(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	l := ratelimit.New(dir, testMax, time.Hour, fc)

	n, err := l.Count()
	require.NoError(t, err)
	assert.Zero(t, n)

	for range testMax {
		ok, err := l.Allow()
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, l.Record())
		fc.Advance(10 * time.Minute)
	}

	ok, err := l.Allow()
	require.NoError(t, err)
	assert.False(t, ok)

	// The first stamp leaves the window after one hour.
	fc.Advance(31 * time.Minute)

	ok, err = l.Allow()
	require.NoError(t, err)
	assert.True(t, ok)

	n, err = l.Count()
	require.NoError(t, err)
	assert.Equal(t, testMax-1, n)
}

func TestLimiter_SurvivesRestart(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fc := clock.Fake(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))

	first := ratelimit.New(dir, 1, 0, fc)
	require.NoError(t, first.Record())

	second := ratelimit.New(dir, 1, 0, fc)
	ok, err := second.Allow()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, second.Max())
}

func TestLimiter_Defaults(t *testing.T) {
	t.Parallel()

	l := ratelimit.New(t.TempDir(), 0, 0, nil)
	assert.Equal(t, ratelimit.DefaultMaxSends, l.Max())
}
