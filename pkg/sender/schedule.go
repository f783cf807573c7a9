package sender

import (
	"math/rand/v2"
	"time"
)

// RandFunc returns a uniformly random value in [0, n).
type RandFunc func(n int64) int64

// SleepTime returns how long to wait before sending a record last
// modified at lastModified: the longer of the remaining hold-off time and
// a random spread of whole seconds in [0, maxSpread].
func SleepTime(now, lastModified time.Time, holdOff, maxSpread time.Duration, rnd RandFunc) time.Duration {
	if rnd == nil {
		rnd = rand.Int64N
	}

	var spread time.Duration
	if secs := int64(maxSpread / time.Second); secs > 0 {
		spread = time.Duration(rnd(secs+1)) * time.Second
	}

	remaining := holdOff - now.Sub(lastModified)

	return max(spread, remaining, 0)
}
