// Package rng provides a mutex-guarded pseudo-random source for TCP
// initial sequence numbers, seeded from crypto/rand rather than wall-clock
// time so ISNs aren't predictable from a process start time.
package rng

import (
	"crypto/rand"
	"encoding/binary"
	mrand "math/rand"
	"sync"
)

var (
	mu  sync.Mutex
	src *mrand.Rand
)

func init() {
	var seedBytes [8]byte
	if _, err := rand.Read(seedBytes[:]); err != nil {
		// crypto/rand failing indicates a broken host; fall back rather
		// than panic so the gateway can still start and report via the
		// TCP handshake's observable (if less unpredictable) ISNs.
		src = mrand.New(mrand.NewSource(1))
		return
	}
	seed := int64(binary.BigEndian.Uint64(seedBytes[:]))
	src = mrand.New(mrand.NewSource(seed))
}

// Int63n returns a non-negative pseudo-random int64 in [0, n), following
// the teacher's mutex-protected single-Rand-source idiom.
func Int63n(n int64) int64 {
	mu.Lock()
	defer mu.Unlock()
	return src.Int63n(n)
}

// NextISN returns a new 32-bit TCP initial sequence number.
func NextISN() uint32 {
	return uint32(Int63n(1 << 32))
}
