package snapshot

import (
	"fmt"

	"github.com/agenthands/seqcas/pkg/codec"
	"github.com/agenthands/seqcas/pkg/core"
	"github.com/agenthands/seqcas/pkg/sequence"
)

// HeaderVersion is the only snapshot header layout this package reads.
const HeaderVersion = 1

// Header is the dag-cbor root block of a snapshot.
type Header struct {
	Version uint16                `cbor:"version"`
	Name    core.Identifier       `cbor:"name"`
	Tag     uint64                `cbor:"tag"`
	Kind    sequence.Kind         `cbor:"kind"`
	Length  uint64                `cbor:"length"`
	Entries [][]byte              `cbor:"entries"`
	Authors []sequence.Authorship `cbor:"authors,omitempty"`
}

// Address returns the address of the snapshotted sequence.
func (h *Header) Address() core.Address {
	return core.Address{Name: h.Name, Tag: h.Tag}
}

// Codec defines the interface for header encoding/decoding and validation.
type Codec interface {
	Encode(h *Header) ([]byte, error)
	Decode(b []byte) (*Header, error)
}

type headerCodec struct {
	limits core.LimitsConfig
}

// NewCodec returns a header Codec enforcing limits.
func NewCodec(limits core.LimitsConfig) Codec {
	return &headerCodec{limits: limits}
}

func (c *headerCodec) Encode(h *Header) ([]byte, error) {
	if err := c.validate(h); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidInput, err)
	}
	return codec.Serialize(h)
}

func (c *headerCodec) Decode(b []byte) (*Header, error) {
	var h Header
	if err := codec.Deserialize(b, &h); err != nil {
		return nil, fmt.Errorf("%w: failed to decode snapshot header: %v", core.ErrCorrupt, err)
	}

	if err := c.validate(&h); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrCorrupt, err)
	}

	return &h, nil
}

func (c *headerCodec) validate(h *Header) error {
	if h.Version != HeaderVersion {
		return fmt.Errorf("unsupported snapshot version %d", h.Version)
	}
	if !h.Kind.Valid() {
		return fmt.Errorf("unknown sequence kind %d", uint8(h.Kind))
	}

	if uint64(len(h.Entries)) != h.Length {
		return fmt.Errorf("length mismatch: header says %d, lists %d entries", h.Length, len(h.Entries))
	}
	if c.limits.MaxSnapshotEntries > 0 && h.Length > c.limits.MaxSnapshotEntries {
		return fmt.Errorf("too many entries: %d > %d", h.Length, c.limits.MaxSnapshotEntries)
	}

	for i, e := range h.Entries {
		if len(e) == 0 {
			return fmt.Errorf("entry %d has empty CID", i)
		}
	}

	if h.Kind == sequence.Public && len(h.Authors) > 0 {
		return fmt.Errorf("public sequence carries %d authorship records", len(h.Authors))
	}

	return nil
}
