// Package verify checks a store's catalog for consistency and optionally
// sweeps entry blocks that no sequence references.
package verify

import (
	"context"
	"fmt"
	"sync"

	"github.com/agenthands/seqcas/pkg/catalog"
	"github.com/agenthands/seqcas/pkg/cidutil"
	"github.com/agenthands/seqcas/pkg/core"
	"github.com/agenthands/seqcas/pkg/transform"
	"github.com/cockroachdb/pebble"
)

// Problem locates one inconsistency.
type Problem struct {
	Address core.Address
	Index   uint64
	CID     core.CID
	Err     error
}

func (p Problem) String() string {
	return fmt.Sprintf("%s[%d] %s: %v", p.Address, p.Index, cidutil.String(p.CID), p.Err)
}

// Result contains statistics from a verification run.
type Result struct {
	Sequences int
	Entries   uint64
	Blocks    int
	Orphans   int
	Swept     int

	// Problems lists missing refs, missing blocks and blocks that fail
	// decoding or their CID check.
	Problems []Problem
}

// OK reports whether the run found no problems.
func (r Result) OK() bool { return len(r.Problems) == 0 }

// Options controls a run.
type Options struct {
	// Sweep deletes orphan blocks. The caller must keep writers out for the
	// duration of the run.
	Sweep bool
}

// Runner defines the verification interface.
type Runner interface {
	RunOnce(ctx context.Context, opts Options) (Result, error)
}

type runner struct {
	cat    catalog.Catalog
	cidHub cidutil.Builder
	tr     transform.Transform

	mu sync.Mutex
}

// NewRunner creates a new verification runner.
func NewRunner(cat catalog.Catalog, cidHub cidutil.Builder, tr transform.Transform) Runner {
	return &runner{
		cat:    cat,
		cidHub: cidHub,
		tr:     tr,
	}
}

func (r *runner) RunOnce(ctx context.Context, opts Options) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res Result

	// 1. Mark phase: every block referenced by a sequence
	live, err := r.mark(ctx, &res)
	if err != nil {
		return res, fmt.Errorf("mark phase failed: %w", err)
	}

	// 2. Check phase: decode and verify live blocks, collect orphans
	var orphans []core.CID
	err = r.cat.IterateBlocks(ctx, func(c core.CID, stored []byte) error {
		res.Blocks++
		refs, ok := live[string(c.Bytes)]
		if !ok {
			orphans = append(orphans, c)
			return nil
		}
		delete(live, string(c.Bytes))

		plain, err := r.tr.Decode(stored)
		if err == nil {
			err = r.cidHub.Verify(c, plain)
		}
		if err != nil {
			for _, p := range refs {
				p.Err = err
				res.Problems = append(res.Problems, p)
			}
		}
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("check phase failed: %w", err)
	}
	res.Orphans = len(orphans)

	// Whatever is still marked has no block.
	for _, refs := range live {
		for _, p := range refs {
			p.Err = fmt.Errorf("%w: block missing", core.ErrCorrupt)
			res.Problems = append(res.Problems, p)
		}
	}

	// 3. Sweep phase
	if opts.Sweep && len(orphans) > 0 {
		batch := r.cat.NewBatch()
		defer batch.Close()
		for _, c := range orphans {
			if err := r.cat.DeleteBlock(batch, c); err != nil {
				return res, err
			}
		}
		if err := batch.Commit(pebble.Sync); err != nil {
			return res, fmt.Errorf("sweep failed: %w", err)
		}
		res.Swept = len(orphans)
	}

	return res, nil
}

// mark maps each referenced block to the refs pointing at it.
func (r *runner) mark(ctx context.Context, res *Result) (map[string][]Problem, error) {
	live := make(map[string][]Problem)

	err := r.cat.IterateSequences(ctx, func(addr core.Address, m catalog.Meta) error {
		res.Sequences++

		next := uint64(0)
		err := r.cat.IterateEntryRefs(ctx, addr, 0, m.Length, func(idx uint64, c core.CID) error {
			for ; next < idx; next++ {
				res.Problems = append(res.Problems, Problem{
					Address: addr,
					Index:   next,
					Err:     fmt.Errorf("%w: entry ref missing", core.ErrCorrupt),
				})
			}
			next = idx + 1
			res.Entries++
			live[string(c.Bytes)] = append(live[string(c.Bytes)], Problem{Address: addr, Index: idx, CID: c})
			return nil
		})
		if err != nil {
			return err
		}
		for ; next < m.Length; next++ {
			res.Problems = append(res.Problems, Problem{
				Address: addr,
				Index:   next,
				Err:     fmt.Errorf("%w: entry ref missing", core.ErrCorrupt),
			})
		}
		return nil
	})

	return live, err
}
