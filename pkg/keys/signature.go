package keys

import (
	"bytes"
	"crypto/ed25519"
	"fmt"

	"github.com/agenthands/seqcas/pkg/codec"
	"github.com/agenthands/seqcas/pkg/core"
)

// Signature is an Ed25519, BLS or BLS share signature.
type Signature struct {
	scheme Scheme
	raw    []byte
}

// SignatureFromBytes wraps a native signature of the given scheme. Only the
// length is checked; validity is decided by PublicKey.Verify.
func SignatureFromBytes(scheme Scheme, b []byte) (Signature, error) {
	want := 0
	switch scheme {
	case SchemeEd25519:
		want = ed25519.SignatureSize
	case SchemeBLS, SchemeBLSShare:
		want = BLSSignatureSize
	default:
		return Signature{}, fmt.Errorf("%w: unknown signature scheme %d", core.ErrInvalidInput, uint8(scheme))
	}
	if len(b) != want {
		return Signature{}, fmt.Errorf("%w: %s signature must be %d bytes, got %d", core.ErrInvalidInput, scheme, want, len(b))
	}
	return Signature{scheme: scheme, raw: append([]byte(nil), b...)}, nil
}

func (s Signature) Scheme() Scheme { return s.scheme }

// Bytes returns a copy of the native signature bytes.
func (s Signature) Bytes() []byte {
	return append([]byte(nil), s.raw...)
}

// Compare orders signatures by their canonical serialization.
func (s Signature) Compare(other Signature) int {
	return bytes.Compare(canonical(s), canonical(other))
}

func (s Signature) Equal(other Signature) bool {
	return s.Compare(other) == 0
}

func (s Signature) String() string {
	return s.scheme.String() + "(..)"
}

func (s Signature) MarshalCBOR() ([]byte, error) {
	if !s.scheme.valid() {
		return nil, fmt.Errorf("%w: empty signature", core.ErrInvalidInput)
	}
	return codec.Serialize(wire{Scheme: s.scheme, Bytes: s.raw})
}

func (s *Signature) UnmarshalCBOR(data []byte) error {
	var w wire
	if err := codec.Deserialize(data, &w); err != nil {
		return err
	}
	parsed, err := SignatureFromBytes(w.Scheme, w.Bytes)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrFailedToParse, err)
	}
	*s = parsed
	return nil
}
