package seqstore

import (
	"github.com/agenthands/seqcas/pkg/catalog"
	"github.com/agenthands/seqcas/pkg/cidutil"
	"github.com/agenthands/seqcas/pkg/snapshot"
	"github.com/agenthands/seqcas/pkg/transform"
)

// NewStoreForTest constructs a Store with injected dependencies. Test-only.
func NewStoreForTest(
	cfg Config,
	cid cidutil.Builder,
	snaps snapshot.Manager,
	cat catalog.Catalog,
	tr transform.Transform,
	opts ...Option,
) Store {
	return newStore(cfg, cid, snaps, cat, tr, opts...)
}
