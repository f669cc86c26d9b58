package core

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
)

// IdentifierLen is the length in bytes of an Identifier.
const IdentifierLen = 32

// Identifier is a fixed-length opaque address. It names a Sequence and can be
// derived from a public key.
type Identifier [IdentifierLen]byte

// RandomIdentifier reads a fresh Identifier from r.
func RandomIdentifier(r io.Reader) (Identifier, error) {
	var id Identifier
	if _, err := io.ReadFull(r, id[:]); err != nil {
		return Identifier{}, fmt.Errorf("failed to read identifier: %w", err)
	}
	return id, nil
}

// IdentifierFromBytes copies b into an Identifier. b must be exactly IdentifierLen bytes.
func IdentifierFromBytes(b []byte) (Identifier, error) {
	var id Identifier
	if len(b) != IdentifierLen {
		return id, fmt.Errorf("%w: identifier must be %d bytes, got %d", ErrInvalidInput, IdentifierLen, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// ParseIdentifier decodes a hex-encoded Identifier.
func ParseIdentifier(s string) (Identifier, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Identifier{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return IdentifierFromBytes(b)
}

// Compare orders identifiers by byte value.
func (id Identifier) Compare(other Identifier) int {
	return bytes.Compare(id[:], other[:])
}

func (id Identifier) String() string {
	return hex.EncodeToString(id[:])
}

// Address identifies a Sequence: its name plus an application-defined tag.
type Address struct {
	Name Identifier `cbor:"name"`
	Tag  uint64     `cbor:"tag"`
}

func (a Address) String() string {
	return fmt.Sprintf("%s/%d", a.Name, a.Tag)
}

// Entry is one opaque unit of appended data.
type Entry []byte

// CID represents binary CID bytes.
type CID struct {
	Bytes []byte
}
