// Package transform wraps stored entry blocks in a small versioned envelope,
// optionally compressing the payload.
package transform

import (
	"fmt"

	"github.com/agenthands/seqcas/pkg/core"
	"github.com/klauspost/compress/zstd"
)

const (
	Magic   = "SEQE"
	Version = 1

	headerLen = len(Magic) + 3
)

const (
	FlagCompressed = 1 << 0
)

const (
	AlgNone = 0
	AlgZstd = 1
)

// Transform encodes entry payloads for storage and decodes them back.
type Transform interface {
	Name() string
	Encode(plain []byte) ([]byte, error)
	Decode(stored []byte) ([]byte, error)
}

// New selects a transform by configured name.
func New(cfg core.TransformConfig) (Transform, error) {
	switch cfg.Name {
	case "", "none":
		return NewNone(), nil
	case "zstd":
		return NewZstd(cfg.ZstdLevel)
	default:
		return nil, fmt.Errorf("%w: unsupported transform %q", core.ErrInvalidInput, cfg.Name)
	}
}

type noneTransform struct {
	dec *zstd.Decoder
}

// NewNone stores payloads uncompressed. It still decodes compressed envelopes,
// so a store can switch transforms without rewriting old blocks.
func NewNone() Transform {
	dec, _ := zstd.NewReader(nil)
	return &noneTransform{dec: dec}
}

func (t *noneTransform) Name() string { return "none" }

func (t *noneTransform) Encode(plain []byte) ([]byte, error) {
	return envelope(0, AlgNone, plain), nil
}

func (t *noneTransform) Decode(stored []byte) ([]byte, error) {
	return open(stored, t.dec)
}

type zstdTransform struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewZstd compresses payloads at the given zstd level.
func NewZstd(level int) (Transform, error) {
	if level == 0 {
		level = 3
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd writer: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd reader: %w", err)
	}
	return &zstdTransform{encoder: enc, decoder: dec}, nil
}

func (t *zstdTransform) Name() string { return "zstd" }

func (t *zstdTransform) Encode(plain []byte) ([]byte, error) {
	compressed := t.encoder.EncodeAll(plain, nil)
	if len(compressed) >= len(plain) {
		return envelope(0, AlgNone, plain), nil
	}
	return envelope(FlagCompressed, AlgZstd, compressed), nil
}

func (t *zstdTransform) Decode(stored []byte) ([]byte, error) {
	return open(stored, t.decoder)
}

func envelope(flags, alg byte, payload []byte) []byte {
	out := make([]byte, 0, headerLen+len(payload))
	out = append(out, Magic...)
	out = append(out, Version, flags, alg)
	return append(out, payload...)
}

func open(stored []byte, dec *zstd.Decoder) ([]byte, error) {
	if len(stored) < headerLen {
		return nil, fmt.Errorf("%w: block too small for envelope", core.ErrCorrupt)
	}
	if string(stored[:len(Magic)]) != Magic {
		return nil, fmt.Errorf("%w: invalid magic", core.ErrCorrupt)
	}
	if v := stored[len(Magic)]; v != Version {
		return nil, fmt.Errorf("%w: unsupported version %d", core.ErrCorrupt, v)
	}

	flags := stored[len(Magic)+1]
	alg := stored[len(Magic)+2]
	payload := stored[headerLen:]

	if flags&FlagCompressed == 0 {
		return append([]byte{}, payload...), nil
	}
	if alg != AlgZstd {
		return nil, fmt.Errorf("%w: unsupported compression algorithm %d", core.ErrCorrupt, alg)
	}
	plain, err := dec.DecodeAll(payload, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrCorrupt, err)
	}
	return plain, nil
}
