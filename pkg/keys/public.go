package keys

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"

	"github.com/agenthands/seqcas/pkg/codec"
	"github.com/agenthands/seqcas/pkg/core"
	"github.com/cloudflare/circl/sign/bls"
)

// PublicKey is an Ed25519, BLS or BLS share public key.
type PublicKey struct {
	scheme Scheme
	ed     ed25519.PublicKey
	bls    *blsPublicKey
}

// PublicKeyFromEd25519 wraps a native Ed25519 public key.
func PublicKeyFromEd25519(pub ed25519.PublicKey) (PublicKey, error) {
	if len(pub) != ed25519.PublicKeySize {
		return PublicKey{}, fmt.Errorf("%w: ed25519 public key must be %d bytes, got %d", core.ErrInvalidInput, ed25519.PublicKeySize, len(pub))
	}
	return PublicKey{scheme: SchemeEd25519, ed: append(ed25519.PublicKey(nil), pub...)}, nil
}

// PublicKeyFromBytes parses the native byte form of a key of the given scheme.
func PublicKeyFromBytes(scheme Scheme, b []byte) (PublicKey, error) {
	switch scheme {
	case SchemeEd25519:
		return PublicKeyFromEd25519(b)
	case SchemeBLS, SchemeBLSShare:
		if len(b) != BLSPublicKeySize {
			return PublicKey{}, fmt.Errorf("%w: bls public key must be %d bytes, got %d", core.ErrInvalidInput, BLSPublicKeySize, len(b))
		}
		pk := new(blsPublicKey)
		if err := pk.UnmarshalBinary(b); err != nil {
			return PublicKey{}, fmt.Errorf("%w: invalid bls public key: %v", core.ErrInvalidInput, err)
		}
		return PublicKey{scheme: scheme, bls: pk}, nil
	default:
		return PublicKey{}, fmt.Errorf("%w: unknown key scheme %d", core.ErrInvalidInput, uint8(scheme))
	}
}

// Scheme reports the variant. The zero PublicKey has no valid scheme.
func (pk PublicKey) Scheme() Scheme { return pk.scheme }

// IsZero reports whether pk holds no key.
func (pk PublicKey) IsZero() bool { return !pk.scheme.valid() }

// Bytes returns the native byte form of the key.
func (pk PublicKey) Bytes() []byte {
	switch pk.scheme {
	case SchemeEd25519:
		return append([]byte(nil), pk.ed...)
	case SchemeBLS, SchemeBLSShare:
		b, err := pk.bls.MarshalBinary()
		if err != nil {
			return nil
		}
		return b
	default:
		return nil
	}
}

// BLS returns the underlying key when pk is a BLS group key.
func (pk PublicKey) BLS() (*bls.PublicKey[bls.KeyG1SigG2], bool) {
	if pk.scheme != SchemeBLS {
		return nil, false
	}
	return pk.bls, true
}

// Verify returns nil if signature matches data, core.ErrSchemeMismatch if the
// signature was made with a different scheme, and core.ErrInvalidSignature otherwise.
func (pk PublicKey) Verify(signature Signature, data []byte) error {
	if !pk.scheme.valid() {
		return fmt.Errorf("%w: empty public key", core.ErrInvalidInput)
	}
	if pk.scheme != signature.scheme {
		return fmt.Errorf("%w: %s key, %s signature", core.ErrSchemeMismatch, pk.scheme, signature.scheme)
	}

	var valid bool
	switch pk.scheme {
	case SchemeEd25519:
		valid = len(signature.raw) == ed25519.SignatureSize && ed25519.Verify(pk.ed, data, signature.raw)
	case SchemeBLS, SchemeBLSShare:
		valid = len(signature.raw) == BLSSignatureSize && bls.Verify(pk.bls, data, signature.raw)
	}
	if !valid {
		return core.ErrInvalidSignature
	}
	return nil
}

// Name projects the key onto the address space. Ed25519 keys are used as is;
// BLS keys contribute the first IdentifierLen bytes of their compressed form.
func (pk PublicKey) Name() core.Identifier {
	var id core.Identifier
	copy(id[:], pk.Bytes())
	return id
}

// EncodeToZBase32 returns the key serialized and encoded in multibase z-base-32.
func (pk PublicKey) EncodeToZBase32() (string, error) {
	return codec.EncodeZBase32(pk)
}

// DecodePublicKeyFromZBase32 parses the output of EncodeToZBase32.
func DecodePublicKeyFromZBase32(s string) (PublicKey, error) {
	var pk PublicKey
	if err := codec.DecodeZBase32(s, &pk); err != nil {
		return PublicKey{}, err
	}
	return pk, nil
}

// Compare orders keys by their canonical serialization.
func (pk PublicKey) Compare(other PublicKey) int {
	return bytes.Compare(canonical(pk), canonical(other))
}

func (pk PublicKey) Equal(other PublicKey) bool {
	return pk.Compare(other) == 0
}

// MapKey returns a string usable as a map key for pk.
func (pk PublicKey) MapKey() string {
	return string(canonical(pk))
}

func (pk PublicKey) String() string {
	b := pk.Bytes()
	if len(b) > 4 {
		b = b[:4]
	}
	return fmt.Sprintf("%s(%s..)", pk.scheme, hex.EncodeToString(b))
}

func (pk PublicKey) MarshalCBOR() ([]byte, error) {
	if !pk.scheme.valid() {
		return nil, fmt.Errorf("%w: empty public key", core.ErrInvalidInput)
	}
	return codec.Serialize(wire{Scheme: pk.scheme, Bytes: pk.Bytes()})
}

func (pk *PublicKey) UnmarshalCBOR(data []byte) error {
	var w wire
	if err := codec.Deserialize(data, &w); err != nil {
		return err
	}
	parsed, err := PublicKeyFromBytes(w.Scheme, w.Bytes)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrFailedToParse, err)
	}
	*pk = parsed
	return nil
}

// canonical never fails for a valid key; the zero key sorts first.
func canonical(v interface{ MarshalCBOR() ([]byte, error) }) []byte {
	b, err := v.MarshalCBOR()
	if err != nil {
		return nil
	}
	return b
}
