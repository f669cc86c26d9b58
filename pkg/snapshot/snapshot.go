// Package snapshot exports a sequence to a CARv2 file and reads it back.
//
// The file has a single root, the dag-cbor Header, followed by one raw block per
// distinct entry. Entries are stored as plaintext so any CAR tool can verify them.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/agenthands/seqcas/pkg/cidutil"
	"github.com/agenthands/seqcas/pkg/core"
	"github.com/agenthands/seqcas/pkg/sequence"
	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	carv2 "github.com/ipld/go-car/v2"
	"github.com/ipld/go-car/v2/blockstore"
)

// Manager defines the interface for writing and reading snapshot files.
type Manager interface {
	Write(ctx context.Context, path string, seq *sequence.Sequence) (core.CID, error)
	Read(ctx context.Context, path string) (*sequence.Sequence, core.CID, error)
	// Path resolves a snapshot name against the snapshot directory.
	Path(name string) string
}

type manager struct {
	cfg   core.SnapshotConfig
	codec Codec
	cids  cidutil.Builder
}

// NewManager creates a snapshot manager. Relative paths are resolved against cfg.Dir.
func NewManager(cfg core.SnapshotConfig, limits core.LimitsConfig) (Manager, error) {
	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
		}
	}
	return &manager{
		cfg:   cfg,
		codec: NewCodec(limits),
		cids:  cidutil.NewBuilder(),
	}, nil
}

func (m *manager) Path(name string) string {
	if filepath.IsAbs(name) || m.cfg.Dir == "" {
		return name
	}
	return filepath.Join(m.cfg.Dir, name)
}

func (m *manager) Write(ctx context.Context, path string, seq *sequence.Sequence) (core.CID, error) {
	if err := ctx.Err(); err != nil {
		return core.CID{}, err
	}
	addr := seq.Address()
	entries := seq.Entries()
	h := &Header{
		Version: HeaderVersion,
		Name:    addr.Name,
		Tag:     addr.Tag,
		Kind:    seq.Kind(),
		Length:  uint64(len(entries)),
		Entries: make([][]byte, len(entries)),
		Authors: seq.Authors(),
	}

	blks := make([]blocks.Block, 0, len(entries)+1)
	for i, e := range entries {
		c, err := m.cids.EntryCID(e)
		if err != nil {
			return core.CID{}, err
		}
		h.Entries[i] = c.Bytes
		blk, err := newBlock(c, e)
		if err != nil {
			return core.CID{}, err
		}
		blks = append(blks, blk)
	}

	hb, err := m.codec.Encode(h)
	if err != nil {
		return core.CID{}, err
	}
	root, err := m.cids.HeaderCID(hb)
	if err != nil {
		return core.CID{}, err
	}
	rootBlk, err := newBlock(root, hb)
	if err != nil {
		return core.CID{}, err
	}
	rootID := rootBlk.Cid()

	path = m.Path(path)
	tmp := path + ".tmp"
	_ = os.Remove(tmp)

	bs, err := blockstore.OpenReadWrite(tmp, []cid.Cid{rootID})
	if err != nil {
		return core.CID{}, fmt.Errorf("failed to create snapshot %s: %w", path, err)
	}
	if err := bs.Put(ctx, rootBlk); err != nil {
		bs.Discard()
		_ = os.Remove(tmp)
		return core.CID{}, fmt.Errorf("failed to write snapshot header: %w", err)
	}
	for _, blk := range blks {
		if err := ctx.Err(); err != nil {
			bs.Discard()
			_ = os.Remove(tmp)
			return core.CID{}, err
		}
		if err := bs.Put(ctx, blk); err != nil {
			bs.Discard()
			_ = os.Remove(tmp)
			return core.CID{}, fmt.Errorf("failed to write snapshot entry: %w", err)
		}
	}
	if err := bs.Finalize(); err != nil {
		_ = os.Remove(tmp)
		return core.CID{}, fmt.Errorf("failed to finalize snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return core.CID{}, fmt.Errorf("failed to publish snapshot: %w", err)
	}

	return root, nil
}

// Read decodes the snapshot at path. Every block is checked against its CID
// before the sequence is rebuilt.
func (m *manager) Read(ctx context.Context, path string) (*sequence.Sequence, core.CID, error) {
	f, err := os.Open(m.Path(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, core.CID{}, fmt.Errorf("%w: snapshot %s", core.ErrNotFound, path)
		}
		return nil, core.CID{}, err
	}
	defer f.Close()

	br, err := carv2.NewBlockReader(f, carv2.WithTrustedCAR(true))
	if err != nil {
		return nil, core.CID{}, fmt.Errorf("%w: not a snapshot: %v", core.ErrCorrupt, err)
	}
	if len(br.Roots) != 1 {
		return nil, core.CID{}, fmt.Errorf("%w: snapshot has %d roots, want 1", core.ErrCorrupt, len(br.Roots))
	}
	root := core.CID{Bytes: br.Roots[0].Bytes()}

	data := make(map[string][]byte)
	for {
		if err := ctx.Err(); err != nil {
			return nil, core.CID{}, err
		}
		blk, err := br.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, core.CID{}, fmt.Errorf("%w: failed to read block: %v", core.ErrCorrupt, err)
		}
		c := core.CID{Bytes: blk.Cid().Bytes()}
		if err := m.cids.Verify(c, blk.RawData()); err != nil {
			return nil, core.CID{}, err
		}
		data[string(c.Bytes)] = blk.RawData()
	}

	hb, ok := data[string(root.Bytes)]
	if !ok {
		return nil, core.CID{}, fmt.Errorf("%w: snapshot header block missing", core.ErrCorrupt)
	}
	h, err := m.codec.Decode(hb)
	if err != nil {
		return nil, core.CID{}, err
	}

	entries := make([]core.Entry, len(h.Entries))
	for i, ref := range h.Entries {
		e, ok := data[string(ref)]
		if !ok {
			return nil, core.CID{}, fmt.Errorf("%w: entry %d (%s) missing from snapshot", core.ErrCorrupt, i, cidutil.String(core.CID{Bytes: ref}))
		}
		entries[i] = e
	}

	seq, err := sequence.Restore(h.Address(), h.Kind, entries, h.Authors)
	if err != nil {
		return nil, core.CID{}, err
	}
	return seq, root, nil
}

func newBlock(c core.CID, data []byte) (blocks.Block, error) {
	id, err := cidutil.Cast(c)
	if err != nil {
		return nil, err
	}
	return blocks.NewBlockWithCid(data, id)
}
