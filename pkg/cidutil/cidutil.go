package cidutil

import (
	"bytes"
	"fmt"

	"github.com/agenthands/seqcas/pkg/core"
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// Builder defines the interface for creating and verifying CIDs.
type Builder interface {
	EntryCID(plain []byte) (core.CID, error)
	HeaderCID(dagCbor []byte) (core.CID, error)
	Verify(c core.CID, plain []byte) error
}

type builder struct {
	mhType uint64
}

// NewBuilder returns a CID builder hashing with SHA2-256.
func NewBuilder() Builder {
	return &builder{mhType: multihash.SHA2_256}
}

// EntryCID addresses one sequence entry as a raw block.
func (b *builder) EntryCID(plain []byte) (core.CID, error) {
	return b.build(cid.Raw, plain)
}

// HeaderCID addresses a dag-cbor snapshot header.
func (b *builder) HeaderCID(dagCbor []byte) (core.CID, error) {
	return b.build(cid.DagCBOR, dagCbor)
}

func (b *builder) build(codec uint64, data []byte) (core.CID, error) {
	hash, err := multihash.Sum(data, b.mhType, -1)
	if err != nil {
		return core.CID{}, fmt.Errorf("failed to compute multihash: %w", err)
	}
	return core.CID{Bytes: cid.NewCidV1(codec, hash).Bytes()}, nil
}

func (b *builder) Verify(c core.CID, plain []byte) error {
	id, err := Cast(c)
	if err != nil {
		return err
	}

	prefix := id.Prefix()
	hash, err := multihash.Sum(plain, prefix.MhType, prefix.MhLength)
	if err != nil {
		return fmt.Errorf("failed to compute multihash for verification: %w", err)
	}

	if !bytes.Equal(id.Hash(), hash) {
		return fmt.Errorf("%w: CID mismatch for %s", core.ErrCorrupt, id)
	}
	return nil
}

// Cast parses binary CID bytes.
func Cast(c core.CID) (cid.Cid, error) {
	id, err := cid.Cast(c.Bytes)
	if err != nil {
		return cid.Undef, fmt.Errorf("%w: invalid CID bytes: %v", core.ErrCorrupt, err)
	}
	return id, nil
}

// String renders c in its canonical text form, or "<invalid>".
func String(c core.CID) string {
	id, err := cid.Cast(c.Bytes)
	if err != nil {
		return "<invalid>"
	}
	return id.String()
}
