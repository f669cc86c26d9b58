package testkit

import (
	"math/rand"
	"time"

	"github.com/agenthands/seqcas/pkg/core"
)

// RNG provides a deterministic random number generator.
// If seed is 0, it uses the current time.
func RNG(seed int64) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}

// RandomBytes generates a slice of random bytes of the given length.
func RandomBytes(r *rand.Rand, length int) []byte {
	b := make([]byte, length)
	for i := range b {
		b[i] = byte(r.Intn(256))
	}
	return b
}

// CompressibleBytes generates a slice of highly compressible bytes of the given length.
func CompressibleBytes(r *rand.Rand, length int) []byte {
	b := make([]byte, length)
	pattern := []byte("highly compressible repeating pattern ")
	pLen := len(pattern)
	for i := 0; i < length; i++ {
		b[i] = pattern[i%pLen]
	}

	// Sprinkle a tiny bit of randomness to avoid being 100% uniform if desired
	for i := 0; i < length/1024; i++ {
		b[r.Intn(length)] = byte(r.Intn(256))
	}

	return b
}

// RandomEntries generates n entries with lengths in [0, maxLen].
func RandomEntries(r *rand.Rand, n, maxLen int) []core.Entry {
	out := make([]core.Entry, n)
	for i := range out {
		out[i] = RandomBytes(r, r.Intn(maxLen+1))
	}
	return out
}

// Entries converts strings to entries.
func Entries(values ...string) []core.Entry {
	out := make([]core.Entry, len(values))
	for i, v := range values {
		out[i] = core.Entry(v)
	}
	return out
}
