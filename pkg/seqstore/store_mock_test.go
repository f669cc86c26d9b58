package seqstore_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/agenthands/seqcas/internal/testkit"
	"github.com/agenthands/seqcas/pkg/catalog"
	"github.com/agenthands/seqcas/pkg/cidutil"
	"github.com/agenthands/seqcas/pkg/core"
	"github.com/agenthands/seqcas/pkg/seqstore"
	"github.com/agenthands/seqcas/pkg/sequence"
	"github.com/agenthands/seqcas/pkg/snapshot"
	"github.com/agenthands/seqcas/pkg/transform"
	"github.com/agenthands/seqcas/pkg/verify"
	"github.com/cockroachdb/pebble"
)

var errMock = errors.New("mock error")

// ---------- Mock Catalog ----------

type mockCatalog struct {
	catalog.Catalog

	getMetaErr  error
	putMetaErr  error
	putBlockErr error
	corruptGet  bool
	putBlocks   atomic.Int64
}

func (m *mockCatalog) GetMeta(ctx context.Context, addr core.Address) (catalog.Meta, bool, error) {
	if m.getMetaErr != nil {
		return catalog.Meta{}, false, m.getMetaErr
	}
	return m.Catalog.GetMeta(ctx, addr)
}

func (m *mockCatalog) PutMeta(batch *pebble.Batch, addr core.Address, meta catalog.Meta) error {
	if m.putMetaErr != nil {
		return m.putMetaErr
	}
	return m.Catalog.PutMeta(batch, addr, meta)
}

func (m *mockCatalog) PutBlock(batch *pebble.Batch, c core.CID, stored []byte) error {
	if m.putBlockErr != nil {
		return m.putBlockErr
	}
	m.putBlocks.Add(1)
	return m.Catalog.PutBlock(batch, c, stored)
}

func (m *mockCatalog) GetBlock(ctx context.Context, c core.CID) ([]byte, bool, error) {
	b, ok, err := m.Catalog.GetBlock(ctx, c)
	if m.corruptGet && ok {
		b = testkit.CorruptBytes(b)
	}
	return b, ok, err
}

func newMockStore(t *testing.T, tr transform.Transform) (seqstore.Store, *mockCatalog) {
	t.Helper()
	dir := t.TempDir()
	base, err := catalog.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	mc := &mockCatalog{Catalog: base}

	snaps, err := snapshot.NewManager(core.SnapshotConfig{Dir: t.TempDir()}, core.LimitsConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if tr == nil {
		tr = transform.NewNone()
	}
	s := seqstore.NewStoreForTest(seqstore.Config{Dir: dir}, cidutil.NewBuilder(), snaps, mc, tr)
	t.Cleanup(func() { s.Close() })
	return s, mc
}

func TestStore_CatalogErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("GetMeta", func(t *testing.T) {
		s, mc := newMockStore(t, nil)
		mc.getMetaErr = errMock
		if err := s.Create(ctx, randomAddr(t, 0), sequence.Public); !errors.Is(err, errMock) {
			t.Errorf("expected mock error, got %v", err)
		}
		if _, err := s.Len(ctx, randomAddr(t, 0)); !errors.Is(err, errMock) {
			t.Errorf("expected mock error, got %v", err)
		}
	})

	t.Run("PutBlockLeavesNothing", func(t *testing.T) {
		s, mc := newMockStore(t, nil)
		addr := randomAddr(t, 0)
		_ = s.Create(ctx, addr, sequence.Public)
		_, _ = s.Append(ctx, addr, testkit.Entries("a"), nil)

		// Warm the cache, then fail the next commit.
		if _, _, err := s.InRange(ctx, addr, sequence.FromStart(0), sequence.FromEnd(0)); err != nil {
			t.Fatal(err)
		}
		mc.putBlockErr = errMock
		n, err := s.Append(ctx, addr, testkit.Entries("b", "c"), nil)
		if !errors.Is(err, errMock) {
			t.Fatalf("expected mock error, got %v", err)
		}
		if n != 1 {
			t.Errorf("expected reported length 1, got %d", n)
		}

		mc.putBlockErr = nil
		if l, _ := s.Len(ctx, addr); l != 1 {
			t.Errorf("failed append changed persisted length to %d", l)
		}
		got, _, err := s.InRange(ctx, addr, sequence.FromStart(0), sequence.FromEnd(0))
		if err != nil {
			t.Fatal(err)
		}
		assertEntries(t, got, "a")
	})

	t.Run("PutMeta", func(t *testing.T) {
		s, mc := newMockStore(t, nil)
		mc.putMetaErr = errMock
		if err := s.Create(ctx, randomAddr(t, 0), sequence.Public); !errors.Is(err, errMock) {
			t.Errorf("expected mock error, got %v", err)
		}
	})

	t.Run("CorruptBlock", func(t *testing.T) {
		s, mc := newMockStore(t, nil)
		addr := randomAddr(t, 0)
		_ = s.Create(ctx, addr, sequence.Public)
		_, _ = s.Append(ctx, addr, testkit.Entries("hello"), nil)

		mc.corruptGet = true
		if _, err := s.Load(ctx, addr); !errors.Is(err, seqstore.ErrCorrupt) {
			t.Errorf("expected ErrCorrupt, got %v", err)
		}
	})

	t.Run("CorruptCompressedBlock", func(t *testing.T) {
		z, err := transform.NewZstd(3)
		if err != nil {
			t.Fatal(err)
		}
		s, mc := newMockStore(t, z)
		addr := randomAddr(t, 0)
		_ = s.Create(ctx, addr, sequence.Public)
		_, _ = s.Append(ctx, addr, []seqstore.Entry{testkit.CompressibleBytes(testkit.RNG(1), 4096)}, nil)

		mc.corruptGet = true
		if _, err := s.Load(ctx, addr); !errors.Is(err, seqstore.ErrCorrupt) {
			t.Errorf("expected ErrCorrupt, got %v", err)
		}
	})
}

func TestStore_Dedupe(t *testing.T) {
	ctx := context.Background()
	s, mc := newMockStore(t, nil)

	a, b := randomAddr(t, 0), randomAddr(t, 0)
	_ = s.Create(ctx, a, sequence.Public)
	_ = s.Create(ctx, b, sequence.Public)

	if _, err := s.Append(ctx, a, testkit.Entries("same", "same", "other"), nil); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Append(ctx, b, testkit.Entries("same", "other"), nil); err != nil {
		t.Fatal(err)
	}
	if n := mc.putBlocks.Load(); n != 2 {
		t.Errorf("expected 2 distinct blocks written, got %d", n)
	}

	got, _, _ := s.InRange(ctx, a, sequence.FromStart(0), sequence.FromEnd(0))
	assertEntries(t, got, "same", "same", "other")
}

func TestStore_Canceled(t *testing.T) {
	s, _ := newMockStore(t, nil)
	addr := randomAddr(t, 0)
	_ = s.Create(context.Background(), addr, sequence.Public)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Append(ctx, addr, testkit.Entries("a"), nil); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if l, _ := s.Len(context.Background(), addr); l != 0 {
		t.Errorf("canceled append changed length to %d", l)
	}
}

func TestStore_Verify(t *testing.T) {
	ctx := context.Background()
	s, mc := newMockStore(t, nil)
	addr := randomAddr(t, 0)
	_ = s.Create(ctx, addr, sequence.Public)
	_, _ = s.Append(ctx, addr, testkit.Entries("a", "b", "a"), nil)

	res, err := s.Verify(ctx, verify.Options{})
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !res.OK() || res.Entries != 3 || res.Blocks != 2 {
		t.Errorf("unexpected result %+v", res)
	}

	orphan, _ := cidutil.NewBuilder().EntryCID([]byte("orphan"))
	stored, _ := transform.NewNone().Encode([]byte("orphan"))
	if err := mc.Catalog.PutBlock(nil, orphan, stored); err != nil {
		t.Fatal(err)
	}
	res, err = s.Verify(ctx, verify.Options{Sweep: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.Orphans != 1 || res.Swept != 1 {
		t.Errorf("expected one orphan swept, got %+v", res)
	}

	got, _, err := s.InRange(ctx, addr, sequence.FromStart(0), sequence.FromEnd(0))
	if err != nil {
		t.Fatal(err)
	}
	assertEntries(t, got, "a", "b", "a")
}
