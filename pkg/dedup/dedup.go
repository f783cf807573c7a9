// Package dedup provides a fixed-size approximate membership index keyed by a
// 32-bit signature hash.
//
// The index answers "seen before" for a hash by test-and-set of a single bit
// at hash mod Size. Collisions cause false suppression, and bits are never
// cleared, so an index only deduplicates for the lifetime of its owner.
package dedup

import (
	"math/bits"
	"sync"
)

const (
	// Size is the number of bits in an index.
	Size = 1 << 15

	// bitsPerWord is the number of bits in each uint64 word.
	bitsPerWord = 64

	// words is the number of uint64 words backing an index.
	words = Size / bitsPerWord

	// hashMultiplier is the multiplier of the djb2-style string hash.
	hashMultiplier = 33
)

// Index is a thread-safe fixed-size bitmap.
type Index struct {
	mu   sync.Mutex
	bits [words]uint64
}

// New creates an empty index.
func New() *Index {
	return &Index{}
}

// WasAlreadySeen sets the bit for hash and reports whether it was already set.
func (x *Index) WasAlreadySeen(hash uint32) bool {
	pos := hash % Size
	wordIdx := pos / bitsPerWord
	bitMask := uint64(1) << (pos % bitsPerWord)

	x.mu.Lock()
	defer x.mu.Unlock()

	seen := x.bits[wordIdx]&bitMask != 0
	x.bits[wordIdx] |= bitMask

	return seen
}

// PopCount returns the number of set bits.
func (x *Index) PopCount() int {
	x.mu.Lock()
	defer x.mu.Unlock()

	total := 0
	for _, w := range x.bits {
		total += bits.OnesCount64(w)
	}

	return total
}

// StringHash hashes s as hash = hash*33 + c over its bytes, wrapping at 32 bits.
func StringHash(s string) uint32 {
	var hash uint32

	for i := range len(s) {
		hash = hash*hashMultiplier + uint32(s[i])
	}

	return hash
}
