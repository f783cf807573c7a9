package dedup_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Sumatoshi-tech/crashtriage/pkg/dedup"
)

func TestWasAlreadySeen_FirstFalseThenTrue(t *testing.T) {
	t.Parallel()

	idx := dedup.New()

	for _, h := range []uint32{0, 1, 12345, 0xFFFFFFFF} {
		assert.False(t, idx.WasAlreadySeen(h), "first call for %d", h)
		assert.True(t, idx.WasAlreadySeen(h), "second call for %d", h)
		assert.True(t, idx.WasAlreadySeen(h), "third call for %d", h)
	}
}

func TestWasAlreadySeen_CollidesModuloSize(t *testing.T) {
	t.Parallel()

	idx := dedup.New()

	const base = uint32(42)

	assert.False(t, idx.WasAlreadySeen(base))
	assert.True(t, idx.WasAlreadySeen(base+dedup.Size))
}

func TestWasAlreadySeen_IndependentIndexes(t *testing.T) {
	t.Parallel()

	first := dedup.New()
	second := dedup.New()

	assert.False(t, first.WasAlreadySeen(7))
	assert.False(t, second.WasAlreadySeen(7))
}

func TestWasAlreadySeen_ConcurrentSingleWinner(t *testing.T) {
	t.Parallel()

	idx := dedup.New()

	const goroutines = 16

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		newCount int
	)

	for range goroutines {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if !idx.WasAlreadySeen(99) {
				mu.Lock()
				newCount++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, newCount)
	assert.Equal(t, 1, idx.PopCount())
}

func TestStringHash(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want uint32
	}{
		{name: "empty", in: "", want: 0},
		{name: "single", in: "a", want: 97},
		{name: "two", in: "ab", want: 97*33 + 98},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, dedup.StringHash(tt.in))
		})
	}
}

func TestStringHash_Deterministic(t *testing.T) {
	t.Parallel()

	assert.Equal(t, dedup.StringHash("crash-crash"), dedup.StringHash("crash-crash"))
	assert.NotEqual(t, dedup.StringHash("crash-crash"), dedup.StringHash("fresh-fresh"))
}
