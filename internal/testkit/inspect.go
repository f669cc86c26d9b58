package testkit

import (
	"errors"
	"io"
	"os"
	"testing"

	carv2 "github.com/ipld/go-car/v2"
)

// CountSnapshotBlocks returns the number of blocks in the data section of a CAR file.
func CountSnapshotBlocks(t testing.TB, path string) int {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open snapshot: %v", err)
	}
	defer f.Close()

	br, err := carv2.NewBlockReader(f, carv2.WithTrustedCAR(true))
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	n := 0
	for {
		_, err := br.Next()
		if errors.Is(err, io.EOF) {
			return n
		}
		if err != nil {
			t.Fatalf("read snapshot block: %v", err)
		}
		n++
	}
}

// CorruptBytes returns a copy of payload with the first byte flipped.
func CorruptBytes(payload []byte) []byte {
	out := make([]byte, len(payload))
	copy(out, payload)
	if len(out) > 0 {
		out[0] ^= 0xFF
	}
	return out
}
