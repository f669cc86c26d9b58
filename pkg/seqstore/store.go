package seqstore

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/agenthands/seqcas/pkg/catalog"
	"github.com/agenthands/seqcas/pkg/cidutil"
	"github.com/agenthands/seqcas/pkg/sequence"
	"github.com/agenthands/seqcas/pkg/snapshot"
	"github.com/agenthands/seqcas/pkg/transform"
	"github.com/agenthands/seqcas/pkg/verify"
	"github.com/cockroachdb/pebble"
	"github.com/rs/zerolog"
)

type store struct {
	cfg  Config
	opts options
	log  zerolog.Logger

	cidHub    cidutil.Builder
	snapshots snapshot.Manager
	catalog   catalog.Catalog
	transform transform.Transform

	closed atomic.Bool

	// maint is held shared by writers and exclusively by a sweeping Verify.
	maint sync.RWMutex

	mu    sync.Mutex
	locks map[Address]*sync.Mutex
	cache map[Address]*sequence.Sequence
}

// Open initializes and opens a sequence store.
func Open(ctx context.Context, cfg Config, opts ...Option) (Store, error) {
	// Defaults for directory layout
	if cfg.Catalog.Dir == "" {
		cfg.Catalog.Dir = filepath.Join(cfg.Dir, "catalog")
	}
	if cfg.Snapshot.Dir == "" {
		cfg.Snapshot.Dir = filepath.Join(cfg.Dir, "snapshots")
	}

	tr, err := transform.New(cfg.Transform)
	if err != nil {
		return nil, err
	}

	snaps, err := snapshot.NewManager(cfg.Snapshot, cfg.Limits)
	if err != nil {
		return nil, err
	}

	cat, err := catalog.Open(cfg.Catalog.Dir, catalog.WithLogger(baseLogger(cfg)))
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}

	s := newStore(cfg, cidutil.NewBuilder(), snaps, cat, tr, opts...)
	s.log.Debug().Str("dir", cfg.Dir).Str("transform", tr.Name()).Msg("store opened")
	return s, nil
}

func newStore(cfg Config, cids cidutil.Builder, snaps snapshot.Manager, cat catalog.Catalog, tr transform.Transform, opts ...Option) *store {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	return &store{
		cfg:       cfg,
		opts:      o,
		log:       baseLogger(cfg).With().Str("component", "seqstore").Logger(),
		cidHub:    cids,
		snapshots: snaps,
		catalog:   cat,
		transform: tr,
		locks:     make(map[Address]*sync.Mutex),
		cache:     make(map[Address]*sequence.Sequence),
	}
}

func baseLogger(cfg Config) zerolog.Logger {
	if cfg.Logger != nil {
		return *cfg.Logger
	}
	return zerolog.Nop()
}

func (s *store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.catalog.Close()
}

func (s *store) checkOpen() error {
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

// lockFor returns the mutex serializing writes to addr.
func (s *store) lockFor(addr Address) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[addr]
	if !ok {
		l = new(sync.Mutex)
		s.locks[addr] = l
	}
	return l
}

func (s *store) cached(addr Address) *sequence.Sequence {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache[addr]
}

func (s *store) setCached(addr Address, seq *sequence.Sequence) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq == nil {
		delete(s.cache, addr)
		return
	}
	s.cache[addr] = seq
}

func (s *store) writeOpts() *pebble.WriteOptions {
	if s.cfg.Catalog.NoSync {
		return pebble.NoSync
	}
	return pebble.Sync
}

func (s *store) Create(ctx context.Context, addr Address, kind Kind) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if !kind.Valid() {
		return fmt.Errorf("%w: unknown sequence kind %d", ErrInvalidInput, uint8(kind))
	}

	s.maint.RLock()
	defer s.maint.RUnlock()

	l := s.lockFor(addr)
	l.Lock()
	defer l.Unlock()

	_, ok, err := s.catalog.GetMeta(ctx, addr)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("%w: sequence %s", ErrExists, addr)
	}

	batch := s.catalog.NewBatch()
	defer batch.Close()
	if err := s.catalog.PutMeta(batch, addr, catalog.Meta{Kind: kind}); err != nil {
		return err
	}
	if err := batch.Commit(s.writeOpts()); err != nil {
		return err
	}

	s.log.Debug().Stringer("addr", addr).Stringer("kind", kind).Msg("sequence created")
	return nil
}

func (s *store) Append(ctx context.Context, addr Address, entries []Entry, expected *uint64) (uint64, error) {
	return s.appendBatch(ctx, addr, entries, expected, nil)
}

func (s *store) AppendSigned(ctx context.Context, req sequence.SignedAppend) (uint64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	if err := req.Verify(); err != nil {
		return 0, err
	}
	if s.opts.authorizer != nil {
		if err := s.opts.authorizer.AuthorizeAppend(req.Request.Address, req.Author); err != nil {
			return 0, err
		}
	}
	return s.appendBatch(ctx, req.Request.Address, req.Request.Entries, req.Request.ExpectedVersion, &req)
}

// appendBatch is the transactional check-and-append. The guard is evaluated
// against the persisted length under the address lock, and blocks, refs, the
// author record and the new meta are committed in one batch.
func (s *store) appendBatch(ctx context.Context, addr Address, entries []Entry, expected *uint64, signed *sequence.SignedAppend) (uint64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	if err := s.checkLimits(entries); err != nil {
		return 0, err
	}

	s.maint.RLock()
	defer s.maint.RUnlock()

	l := s.lockFor(addr)
	l.Lock()
	defer l.Unlock()

	meta, ok, err := s.catalog.GetMeta(ctx, addr)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: sequence %s", ErrNotFound, addr)
	}

	private := meta.Kind == sequence.Private
	if private && signed == nil {
		return meta.Length, fmt.Errorf("%w: %s is private", ErrIdentityRequired, addr)
	}

	if err := sequence.CheckExpected(expected, meta.Length); err != nil {
		return meta.Length, err
	}
	if len(entries) == 0 {
		return meta.Length, nil
	}
	if err := ctx.Err(); err != nil {
		return meta.Length, err
	}

	var authors []sequence.Authorship
	if private {
		authors = []sequence.Authorship{signed.AuthorshipAt(meta.Length)}
	}

	newLen, err := s.commit(ctx, addr, meta, entries, authors)
	if err != nil {
		s.setCached(addr, nil)
		s.log.Warn().Err(err).Stringer("addr", addr).Msg("append failed, cache invalidated")
		return meta.Length, err
	}

	s.applyCached(addr, meta.Length, entries, signed)

	s.log.Debug().Stringer("addr", addr).Int("entries", len(entries)).Uint64("length", newLen).Msg("appended")
	return newLen, nil
}

// applyCached mirrors a committed append into the cached sequence, if any.
func (s *store) applyCached(addr Address, oldLen uint64, entries []Entry, signed *sequence.SignedAppend) {
	seq := s.cached(addr)
	if seq == nil {
		return
	}

	var err error
	if seq.Kind() == sequence.Private {
		_, err = seq.AppendSigned(*signed, nil)
	} else {
		_, err = seq.Append(entries, sequence.Expect(oldLen))
	}
	if err != nil {
		s.setCached(addr, nil)
		s.log.Warn().Err(err).Stringer("addr", addr).Msg("cache out of step, invalidated")
	}
}

// commit writes entries (and authors) after meta.Length and the updated meta
// in one pebble batch.
func (s *store) commit(ctx context.Context, addr Address, meta catalog.Meta, entries []Entry, authors []sequence.Authorship) (uint64, error) {
	batch := s.catalog.NewBatch()
	defer batch.Close()

	seen := make(map[string]struct{}, len(entries))
	for i, e := range entries {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		cid, err := s.cidHub.EntryCID(e)
		if err != nil {
			return 0, err
		}

		// Dedupe against the catalog and this batch
		if _, dup := seen[string(cid.Bytes)]; !dup {
			exists, err := s.catalog.HasBlock(ctx, cid)
			if err != nil {
				return 0, err
			}
			if !exists {
				stored, err := s.transform.Encode(e)
				if err != nil {
					return 0, err
				}
				if err := s.catalog.PutBlock(batch, cid, stored); err != nil {
					return 0, err
				}
			}
			seen[string(cid.Bytes)] = struct{}{}
		}

		if err := s.catalog.PutEntryRef(batch, addr, meta.Length+uint64(i), cid); err != nil {
			return 0, err
		}
	}

	for _, a := range authors {
		if err := s.catalog.PutAuthor(batch, addr, a); err != nil {
			return 0, err
		}
	}

	meta.Length += uint64(len(entries))
	if err := s.catalog.PutMeta(batch, addr, meta); err != nil {
		return 0, err
	}

	if err := batch.Commit(s.writeOpts()); err != nil {
		return 0, err
	}
	return meta.Length, nil
}

func (s *store) checkLimits(entries []Entry) error {
	lim := s.cfg.Limits
	if lim.MaxEntriesPerAppend > 0 && len(entries) > lim.MaxEntriesPerAppend {
		return fmt.Errorf("%w: %d entries > %d", ErrTooLarge, len(entries), lim.MaxEntriesPerAppend)
	}
	if lim.MaxEntryBytes > 0 {
		for i, e := range entries {
			if uint64(len(e)) > lim.MaxEntryBytes {
				return fmt.Errorf("%w: entry %d is %d bytes > %d", ErrTooLarge, i, len(e), lim.MaxEntryBytes)
			}
		}
	}
	return nil
}

func (s *store) InRange(ctx context.Context, addr Address, start, end Version) ([]Entry, bool, error) {
	seq, err := s.load(ctx, addr)
	if err != nil {
		return nil, false, err
	}
	entries, ok := seq.InRange(start, end)
	return entries, ok, nil
}

func (s *store) Len(ctx context.Context, addr Address) (uint64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	meta, ok, err := s.catalog.GetMeta(ctx, addr)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: sequence %s", ErrNotFound, addr)
	}
	return meta.Length, nil
}

func (s *store) Load(ctx context.Context, addr Address) (*sequence.Sequence, error) {
	seq, err := s.load(ctx, addr)
	if err != nil {
		return nil, err
	}
	return sequence.Restore(seq.Address(), seq.Kind(), seq.Entries(), seq.Authors())
}

// load returns the cached sequence for addr, reading it from the catalog on a
// miss. The address lock keeps a concurrent append from landing between the
// catalog read and the cache fill.
func (s *store) load(ctx context.Context, addr Address) (*sequence.Sequence, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if seq := s.cached(addr); seq != nil {
		return seq, nil
	}

	l := s.lockFor(addr)
	l.Lock()
	defer l.Unlock()

	if seq := s.cached(addr); seq != nil {
		return seq, nil
	}

	seq, err := s.read(ctx, addr)
	if err != nil {
		return nil, err
	}
	s.setCached(addr, seq)
	return seq, nil
}

// read rebuilds a sequence from the catalog, verifying every entry block.
func (s *store) read(ctx context.Context, addr Address) (*sequence.Sequence, error) {
	meta, ok, err := s.catalog.GetMeta(ctx, addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: sequence %s", ErrNotFound, addr)
	}

	entries := make([]Entry, 0, meta.Length)
	err = s.catalog.IterateEntryRefs(ctx, addr, 0, meta.Length, func(idx uint64, cid CID) error {
		if idx != uint64(len(entries)) {
			return fmt.Errorf("%w: %s is missing entry %d", ErrCorrupt, addr, len(entries))
		}
		plain, err := s.getEntry(ctx, cid)
		if err != nil {
			return err
		}
		entries = append(entries, plain)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if uint64(len(entries)) != meta.Length {
		return nil, fmt.Errorf("%w: %s has %d of %d entries", ErrCorrupt, addr, len(entries), meta.Length)
	}

	var authors []sequence.Authorship
	err = s.catalog.IterateAuthors(ctx, addr, func(a sequence.Authorship) error {
		authors = append(authors, a)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return sequence.Restore(addr, meta.Kind, entries, authors)
}

func (s *store) getEntry(ctx context.Context, cid CID) (Entry, error) {
	stored, ok, err := s.catalog.GetBlock(ctx, cid)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: block %s missing", ErrCorrupt, cidutil.String(cid))
	}

	plain, err := s.transform.Decode(stored)
	if err != nil {
		return nil, err
	}

	if err := s.cidHub.Verify(cid, plain); err != nil {
		return nil, err
	}
	return plain, nil
}

func (s *store) List(ctx context.Context, fn func(Info) error) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.catalog.IterateSequences(ctx, func(addr Address, m catalog.Meta) error {
		return fn(Info{Address: addr, Kind: m.Kind, Length: m.Length})
	})
}

func (s *store) Export(ctx context.Context, addr Address, path string) (CID, error) {
	seq, err := s.load(ctx, addr)
	if err != nil {
		return CID{}, err
	}

	root, err := s.snapshots.Write(ctx, path, seq)
	if err != nil {
		return CID{}, err
	}

	s.log.Debug().Stringer("addr", addr).Str("path", s.snapshots.Path(path)).Str("root", cidutil.String(root)).Msg("exported")
	return root, nil
}

// Import merges the snapshot at path. A missing sequence is created; an
// existing one must be a prefix of the snapshot (the missing suffix is
// appended) or have the snapshot as its prefix (nothing to do). Anything else
// is ErrDiverged. Every authorship record in the snapshot must carry a valid
// signature, and newly imported batches pass the store's authorizer.
func (s *store) Import(ctx context.Context, path string) (Address, error) {
	if err := s.checkOpen(); err != nil {
		return Address{}, err
	}

	snap, root, err := s.snapshots.Read(ctx, path)
	if err != nil {
		return Address{}, err
	}
	addr := snap.Address()

	if err := snap.VerifyAuthors(); err != nil {
		return Address{}, fmt.Errorf("snapshot %s: %w", s.snapshots.Path(path), err)
	}

	s.maint.RLock()
	defer s.maint.RUnlock()

	l := s.lockFor(addr)
	l.Lock()
	defer l.Unlock()

	meta, ok, err := s.catalog.GetMeta(ctx, addr)
	if err != nil {
		return Address{}, err
	}
	if !ok {
		meta = catalog.Meta{Kind: snap.Kind()}
	} else if meta.Kind != snap.Kind() {
		return Address{}, fmt.Errorf("%w: %s is %s locally, %s in snapshot", ErrDiverged, addr, meta.Kind, snap.Kind())
	}

	entries := snap.Entries()
	authors := snap.Authors()

	if ok {
		if err := s.checkPrefix(ctx, addr, meta.Length, entries); err != nil {
			return Address{}, err
		}
		authors, err = s.matchAuthors(ctx, addr, meta.Length, uint64(len(entries)), authors)
		if err != nil {
			return Address{}, err
		}
		if meta.Length >= uint64(len(entries)) {
			s.log.Debug().Stringer("addr", addr).Msg("import: already up to date")
			return addr, nil
		}
		entries = entries[meta.Length:]
	}

	if s.opts.authorizer != nil {
		for _, a := range authors {
			if err := s.opts.authorizer.AuthorizeAppend(addr, a.Author); err != nil {
				return Address{}, err
			}
		}
	}

	newLen, err := s.commit(ctx, addr, meta, entries, authors)
	if err != nil {
		s.setCached(addr, nil)
		s.log.Warn().Err(err).Stringer("addr", addr).Msg("import failed, cache invalidated")
		return Address{}, err
	}
	// The cache reloads lazily with the imported authorship records.
	s.setCached(addr, nil)

	s.log.Debug().Stringer("addr", addr).Str("root", cidutil.String(root)).Uint64("length", newLen).Msg("imported")
	return addr, nil
}

// checkPrefix reports ErrDiverged unless the first min(localLen, len(snap))
// local entries match the snapshot.
func (s *store) checkPrefix(ctx context.Context, addr Address, localLen uint64, snap []Entry) error {
	n := localLen
	if uint64(len(snap)) < n {
		n = uint64(len(snap))
	}
	return s.catalog.IterateEntryRefs(ctx, addr, 0, n, func(idx uint64, cid CID) error {
		want, err := s.cidHub.EntryCID(snap[idx])
		if err != nil {
			return err
		}
		if !bytes.Equal(want.Bytes, cid.Bytes) {
			return fmt.Errorf("%w: %s differs from snapshot at entry %d", ErrDiverged, addr, idx)
		}
		return nil
	})
}

// matchAuthors checks that local and snapshot authorship agree over the
// entries both hold and returns the snapshot records after localLen.
func (s *store) matchAuthors(ctx context.Context, addr Address, localLen, snapLen uint64, snap []sequence.Authorship) ([]sequence.Authorship, error) {
	var local []sequence.Authorship
	err := s.catalog.IterateAuthors(ctx, addr, func(a sequence.Authorship) error {
		local = append(local, a)
		return nil
	})
	if err != nil {
		return nil, err
	}

	shared := localLen
	if snapLen < shared {
		shared = snapLen
	}

	i := 0
	for ; i < len(snap) && snap[i].Start < shared; i++ {
		a := snap[i]
		if a.Start+a.Count > shared {
			return nil, fmt.Errorf("%w: %s ends inside a snapshot batch", ErrDiverged, addr)
		}
		if i >= len(local) || local[i].Start != a.Start || local[i].Count != a.Count || !local[i].Author.Equal(a.Author) {
			return nil, fmt.Errorf("%w: %s authorship differs from snapshot", ErrDiverged, addr)
		}
	}
	if i < len(local) && local[i].Start < shared {
		return nil, fmt.Errorf("%w: %s authorship differs from snapshot", ErrDiverged, addr)
	}
	return snap[i:], nil
}

func (s *store) Verify(ctx context.Context, opts verify.Options) (verify.Result, error) {
	if err := s.checkOpen(); err != nil {
		return verify.Result{}, err
	}
	if opts.Sweep {
		s.maint.Lock()
		defer s.maint.Unlock()
	} else {
		s.maint.RLock()
		defer s.maint.RUnlock()
	}

	res, err := verify.NewRunner(s.catalog, s.cidHub, s.transform).RunOnce(ctx, opts)
	if err != nil {
		return res, err
	}

	ev := s.log.Debug()
	if !res.OK() {
		ev = s.log.Warn()
	}
	ev.Int("sequences", res.Sequences).Uint64("entries", res.Entries).Int("blocks", res.Blocks).
		Int("orphans", res.Orphans).Int("swept", res.Swept).Int("problems", len(res.Problems)).Msg("verified")
	return res, nil
}
