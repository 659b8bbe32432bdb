package supervisor

import (
	"time"

	"github.com/outline-cli-ws/gatewayd/internal/rng"
)

// applyJitter adds a uniformly distributed +/- jitter to d, adapted from
// the teacher's internal/util.go helper of the same name.
func applyJitter(d, jitter time.Duration) time.Duration {
	if jitter <= 0 {
		return d
	}
	offset := time.Duration(rng.Int63n(int64(2*jitter))) - jitter
	out := d + offset
	if out < 0 {
		return 0
	}
	return out
}

func minDur(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
