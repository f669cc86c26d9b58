package sequence

import (
	"fmt"
	"testing"

	"github.com/agenthands/seqcas/pkg/core"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func filled(length uint64) *Sequence {
	s := NewPublic(core.Identifier{7}, 0)
	batch := make([]core.Entry, length)
	for i := range batch {
		batch[i] = core.Entry(fmt.Sprintf("e%d", i))
	}
	_, _ = s.Append(batch, Expect(0))
	return s
}

func genVersion() gopter.Gen {
	return gopter.CombineGens(gen.Bool(), gen.UInt64Range(0, 12)).Map(func(vals []interface{}) Version {
		if vals[0].(bool) {
			return FromEnd(vals[1].(uint64))
		}
		return FromStart(vals[1].(uint64))
	})
}

// TestInRangeProperties checks that a range is present iff both ends resolve
// and are ordered, and that it then holds exactly end-start+1 entries.
func TestInRangeProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("presence and length of InRange", prop.ForAll(
		func(length uint64, start, end Version) bool {
			s := filled(length)
			got, ok := s.InRange(start, end)

			from, okFrom := start.Resolve(length)
			to, okTo := end.Resolve(length)
			want := okFrom && okTo && from <= to
			if ok != want {
				return false
			}
			if !ok {
				return got == nil
			}
			if uint64(len(got)) != to-from+1 {
				return false
			}
			for i, e := range got {
				if string(e) != fmt.Sprintf("e%d", from+uint64(i)) {
					return false
				}
			}
			return true
		},
		gen.UInt64Range(0, 10),
		genVersion(),
		genVersion(),
	))

	properties.Property("FromStart(i) and FromEnd(L-1-i) agree", prop.ForAll(
		func(length, i uint64) bool {
			if i >= length {
				_, ok := FromStart(i).Resolve(length)
				return !ok
			}
			a, okA := FromStart(i).Resolve(length)
			b, okB := FromEnd(length - 1 - i).Resolve(length)
			return okA && okB && a == b
		},
		gen.UInt64Range(0, 64),
		gen.UInt64Range(0, 64),
	))

	properties.Property("append grows length by batch size or not at all", prop.ForAll(
		func(initial, k, guard uint64) bool {
			s := filled(initial)
			batch := make([]core.Entry, k)
			n, err := s.Append(batch, Expect(guard))
			if guard == initial {
				return err == nil && n == initial+k && s.Len() == initial+k
			}
			return err != nil && s.Len() == initial
		},
		gen.UInt64Range(0, 8),
		gen.UInt64Range(0, 8),
		gen.UInt64Range(0, 8),
	))

	properties.TestingRun(t)
}
