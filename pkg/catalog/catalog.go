package catalog

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/agenthands/seqcas/pkg/codec"
	"github.com/agenthands/seqcas/pkg/core"
	"github.com/agenthands/seqcas/pkg/sequence"
	"github.com/cockroachdb/pebble"
	"github.com/rs/zerolog"
)

var (
	PrefixSeqMeta = []byte("sq:")
	PrefixEntry   = []byte("se:")
	PrefixBlock   = []byte("eb:")
	PrefixAuthor  = []byte("sa:")
)

const addrKeyLen = core.IdentifierLen + 8

// Meta is the persisted header of one sequence.
type Meta struct {
	Kind   sequence.Kind `cbor:"kind"`
	Length uint64        `cbor:"length"`
}

// Catalog defines the interface for the embedded KV store.
type Catalog interface {
	GetMeta(ctx context.Context, addr core.Address) (Meta, bool, error)
	PutMeta(batch *pebble.Batch, addr core.Address, m Meta) error
	IterateSequences(ctx context.Context, fn func(addr core.Address, m Meta) error) error

	PutEntryRef(batch *pebble.Batch, addr core.Address, index uint64, c core.CID) error
	// IterateEntryRefs visits the refs with from <= index < to in order.
	IterateEntryRefs(ctx context.Context, addr core.Address, from, to uint64, fn func(index uint64, c core.CID) error) error

	HasBlock(ctx context.Context, c core.CID) (bool, error)
	GetBlock(ctx context.Context, c core.CID) ([]byte, bool, error)
	PutBlock(batch *pebble.Batch, c core.CID, stored []byte) error
	DeleteBlock(batch *pebble.Batch, c core.CID) error
	IterateBlocks(ctx context.Context, fn func(c core.CID, stored []byte) error) error

	PutAuthor(batch *pebble.Batch, addr core.Address, a sequence.Authorship) error
	IterateAuthors(ctx context.Context, addr core.Address, fn func(a sequence.Authorship) error) error

	NewBatch() *pebble.Batch
	Close() error
}

type pebbleCatalog struct {
	db *pebble.DB
}

// Option adjusts the pebble options a catalog is opened with.
type Option func(*pebble.Options)

// WithLogger routes pebble's own log lines through l at debug level.
func WithLogger(l zerolog.Logger) Option {
	return func(o *pebble.Options) {
		o.Logger = pebbleLogger{log: l.With().Str("component", "pebble").Logger()}
	}
}

type pebbleLogger struct {
	log zerolog.Logger
}

func (l pebbleLogger) Infof(format string, args ...interface{}) {
	l.log.Debug().Msgf(format, args...)
}

func (l pebbleLogger) Fatalf(format string, args ...interface{}) {
	l.log.WithLevel(zerolog.FatalLevel).Msgf(format, args...)
	os.Exit(1)
}

// Open opens a Pebble-based catalog in the specified directory.
func Open(dir string, opts ...Option) (Catalog, error) {
	po := &pebble.Options{Logger: pebbleLogger{log: zerolog.Nop()}}
	for _, opt := range opts {
		opt(po)
	}
	db, err := pebble.Open(dir, po)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db: %w", err)
	}
	return &pebbleCatalog{db: db}, nil
}

func (c *pebbleCatalog) Close() error {
	return c.db.Close()
}

func (c *pebbleCatalog) NewBatch() *pebble.Batch {
	return c.db.NewBatch()
}

func (c *pebbleCatalog) set(batch *pebble.Batch, key, val []byte) error {
	if batch != nil {
		return batch.Set(key, val, nil)
	}
	return c.db.Set(key, val, pebble.Sync)
}

// get returns a copy of the value stored under key.
func (c *pebbleCatalog) get(key []byte) ([]byte, bool, error) {
	val, closer, err := c.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer closer.Close()

	res := make([]byte, len(val))
	copy(res, val)
	return res, true, nil
}

func (c *pebbleCatalog) GetMeta(ctx context.Context, addr core.Address) (Meta, bool, error) {
	val, ok, err := c.get(makeKey(PrefixSeqMeta, addrKey(addr)))
	if err != nil || !ok {
		return Meta{}, false, err
	}
	var m Meta
	if err := codec.Deserialize(val, &m); err != nil {
		return Meta{}, false, fmt.Errorf("%w: sequence meta for %s: %v", core.ErrCorrupt, addr, err)
	}
	return m, true, nil
}

func (c *pebbleCatalog) PutMeta(batch *pebble.Batch, addr core.Address, m Meta) error {
	val, err := codec.Serialize(m)
	if err != nil {
		return err
	}
	return c.set(batch, makeKey(PrefixSeqMeta, addrKey(addr)), val)
}

func (c *pebbleCatalog) IterateSequences(ctx context.Context, fn func(addr core.Address, m Meta) error) error {
	return c.iterate(ctx, PrefixSeqMeta, incrementByte(PrefixSeqMeta), func(key, val []byte) error {
		addr, err := parseAddrKey(key[len(PrefixSeqMeta):])
		if err != nil {
			return err
		}
		var m Meta
		if err := codec.Deserialize(val, &m); err != nil {
			return fmt.Errorf("%w: sequence meta for %s: %v", core.ErrCorrupt, addr, err)
		}
		return fn(addr, m)
	})
}

func (c *pebbleCatalog) PutEntryRef(batch *pebble.Batch, addr core.Address, index uint64, cid core.CID) error {
	return c.set(batch, makeKey(PrefixEntry, addrKey(addr), u64(index)), cid.Bytes)
}

func (c *pebbleCatalog) IterateEntryRefs(ctx context.Context, addr core.Address, from, to uint64, fn func(index uint64, c core.CID) error) error {
	if from >= to {
		return nil
	}
	ak := addrKey(addr)
	lower := makeKey(PrefixEntry, ak, u64(from))
	upper := makeKey(PrefixEntry, ak, u64(to))

	return c.iterate(ctx, lower, upper, func(key, val []byte) error {
		idx := binary.BigEndian.Uint64(key[len(key)-8:])
		ref := make([]byte, len(val))
		copy(ref, val)
		return fn(idx, core.CID{Bytes: ref})
	})
}

func (c *pebbleCatalog) HasBlock(ctx context.Context, cid core.CID) (bool, error) {
	_, ok, err := c.get(makeKey(PrefixBlock, cid.Bytes))
	return ok, err
}

func (c *pebbleCatalog) GetBlock(ctx context.Context, cid core.CID) ([]byte, bool, error) {
	return c.get(makeKey(PrefixBlock, cid.Bytes))
}

func (c *pebbleCatalog) PutBlock(batch *pebble.Batch, cid core.CID, stored []byte) error {
	return c.set(batch, makeKey(PrefixBlock, cid.Bytes), stored)
}

func (c *pebbleCatalog) DeleteBlock(batch *pebble.Batch, cid core.CID) error {
	key := makeKey(PrefixBlock, cid.Bytes)
	if batch != nil {
		return batch.Delete(key, nil)
	}
	return c.db.Delete(key, pebble.Sync)
}

func (c *pebbleCatalog) IterateBlocks(ctx context.Context, fn func(c core.CID, stored []byte) error) error {
	return c.iterate(ctx, PrefixBlock, incrementByte(PrefixBlock), func(key, val []byte) error {
		ref := make([]byte, len(key)-len(PrefixBlock))
		copy(ref, key[len(PrefixBlock):])
		stored := make([]byte, len(val))
		copy(stored, val)
		return fn(core.CID{Bytes: ref}, stored)
	})
}

func (c *pebbleCatalog) PutAuthor(batch *pebble.Batch, addr core.Address, a sequence.Authorship) error {
	val, err := codec.Serialize(a)
	if err != nil {
		return err
	}
	return c.set(batch, makeKey(PrefixAuthor, addrKey(addr), u64(a.Start)), val)
}

func (c *pebbleCatalog) IterateAuthors(ctx context.Context, addr core.Address, fn func(a sequence.Authorship) error) error {
	lower := makeKey(PrefixAuthor, addrKey(addr))
	return c.iterate(ctx, lower, incrementByte(lower), func(key, val []byte) error {
		var a sequence.Authorship
		if err := codec.Deserialize(val, &a); err != nil {
			return fmt.Errorf("%w: authorship for %s: %v", core.ErrCorrupt, addr, err)
		}
		return fn(a)
	})
}

func (c *pebbleCatalog) iterate(ctx context.Context, lower, upper []byte, fn func(key, val []byte) error) error {
	iter, err := c.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: upper,
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

// addrKey is name | big-endian tag, so one sequence's keys sort together.
func addrKey(addr core.Address) []byte {
	k := make([]byte, 0, addrKeyLen)
	k = append(k, addr.Name[:]...)
	return append(k, u64(addr.Tag)...)
}

func parseAddrKey(k []byte) (core.Address, error) {
	if len(k) != addrKeyLen {
		return core.Address{}, fmt.Errorf("%w: malformed sequence key", core.ErrCorrupt)
	}
	var addr core.Address
	copy(addr.Name[:], k[:core.IdentifierLen])
	addr.Tag = binary.BigEndian.Uint64(k[core.IdentifierLen:])
	return addr, nil
}

func makeKey(prefix []byte, parts ...[]byte) []byte {
	n := len(prefix)
	for _, p := range parts {
		n += len(p)
	}
	k := make([]byte, 0, n)
	k = append(k, prefix...)
	for _, p := range parts {
		k = append(k, p...)
	}
	return k
}

func u64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func incrementByte(b []byte) []byte {
	res := make([]byte, len(b))
	copy(res, b)
	for i := len(res) - 1; i >= 0; i-- {
		res[i]++
		if res[i] != 0 {
			return res
		}
	}
	return nil
}
