package sequence

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/agenthands/seqcas/pkg/core"
)

// Version is a position in a Sequence, counted from the oldest entry or back
// from the newest one.
type Version struct {
	fromEnd bool
	n       uint64
}

// FromStart addresses the entry at absolute index n.
func FromStart(n uint64) Version { return Version{n: n} }

// FromEnd addresses the entry n steps back from the most recent; FromEnd(0) is the last entry.
func FromEnd(n uint64) Version { return Version{fromEnd: true, n: n} }

// Resolve maps v onto an absolute index in a log of the given length.
func (v Version) Resolve(length uint64) (uint64, bool) {
	if v.n >= length {
		return 0, false
	}
	if v.fromEnd {
		return length - 1 - v.n, true
	}
	return v.n, true
}

func (v Version) String() string {
	if v.fromEnd {
		return fmt.Sprintf("FromEnd(%d)", v.n)
	}
	return fmt.Sprintf("FromStart(%d)", v.n)
}

// ParseVersion accepts "start:N" or "end:N".
func ParseVersion(s string) (Version, error) {
	side, num, ok := strings.Cut(s, ":")
	if !ok {
		return Version{}, fmt.Errorf("%w: version %q must be start:N or end:N", core.ErrInvalidInput, s)
	}
	n, err := strconv.ParseUint(num, 10, 64)
	if err != nil {
		return Version{}, fmt.Errorf("%w: version %q: %v", core.ErrInvalidInput, s, err)
	}
	switch side {
	case "start":
		return FromStart(n), nil
	case "end":
		return FromEnd(n), nil
	default:
		return Version{}, fmt.Errorf("%w: version %q must be start:N or end:N", core.ErrInvalidInput, s)
	}
}
