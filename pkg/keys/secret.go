package keys

import (
	"crypto/ed25519"
	"crypto/subtle"
	"fmt"
	"io"

	"github.com/agenthands/seqcas/pkg/codec"
	"github.com/agenthands/seqcas/pkg/core"
	"github.com/cloudflare/circl/sign/bls"
)

// SecretKey is an Ed25519, BLS or BLS share secret key.
type SecretKey struct {
	scheme Scheme
	ed     ed25519.PrivateKey
	bls    *blsPrivateKey
}

// NewEd25519SecretKey generates a random Ed25519 secret key.
func NewEd25519SecretKey(rand io.Reader) (SecretKey, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(rand, seed); err != nil {
		return SecretKey{}, fmt.Errorf("failed to read ed25519 seed: %w", err)
	}
	return SecretKey{scheme: SchemeEd25519, ed: ed25519.NewKeyFromSeed(seed)}, nil
}

// NewBLSSecretKey generates a random BLS group secret key.
func NewBLSSecretKey(rand io.Reader) (SecretKey, error) {
	ikm := make([]byte, BLSSecretKeySize)
	if _, err := io.ReadFull(rand, ikm); err != nil {
		return SecretKey{}, fmt.Errorf("failed to read bls key material: %w", err)
	}
	sk, err := bls.KeyGen[bls.KeyG1SigG2](ikm, blsKeyGenSalt, nil)
	if err != nil {
		return SecretKey{}, fmt.Errorf("bls key generation failed: %w", err)
	}
	return SecretKey{scheme: SchemeBLS, bls: sk}, nil
}

// SecretKeyShareFromBytes loads one participant's share of a threshold group
// secret, as handed out by the dealer, from its 32-byte scalar encoding.
func SecretKeyShareFromBytes(share []byte) (SecretKey, error) {
	return SecretKeyFromBytes(SchemeBLSShare, share)
}

// SecretKeyFromBytes parses the native byte form of a secret key: the seed for
// Ed25519, the scalar for BLS and BLS shares.
func SecretKeyFromBytes(scheme Scheme, b []byte) (SecretKey, error) {
	switch scheme {
	case SchemeEd25519:
		if len(b) != ed25519.SeedSize {
			return SecretKey{}, fmt.Errorf("%w: ed25519 seed must be %d bytes, got %d", core.ErrInvalidInput, ed25519.SeedSize, len(b))
		}
		return SecretKey{scheme: scheme, ed: ed25519.NewKeyFromSeed(b)}, nil
	case SchemeBLS, SchemeBLSShare:
		if len(b) != BLSSecretKeySize {
			return SecretKey{}, fmt.Errorf("%w: bls secret key must be %d bytes, got %d", core.ErrInvalidInput, BLSSecretKeySize, len(b))
		}
		sk := new(blsPrivateKey)
		if err := sk.UnmarshalBinary(b); err != nil {
			return SecretKey{}, fmt.Errorf("%w: invalid bls secret key: %v", core.ErrInvalidInput, err)
		}
		return SecretKey{scheme: scheme, bls: sk}, nil
	default:
		return SecretKey{}, fmt.Errorf("%w: unknown key scheme %d", core.ErrInvalidInput, uint8(scheme))
	}
}

func (sk SecretKey) Scheme() Scheme { return sk.scheme }

// PublicKey returns the corresponding public key.
func (sk SecretKey) PublicKey() PublicKey {
	switch sk.scheme {
	case SchemeEd25519:
		return PublicKey{scheme: SchemeEd25519, ed: append(ed25519.PublicKey(nil), sk.ed.Public().(ed25519.PublicKey)...)}
	case SchemeBLS, SchemeBLSShare:
		return PublicKey{scheme: sk.scheme, bls: sk.bls.PublicKey()}
	default:
		return PublicKey{}
	}
}

// Sign signs data. The zero SecretKey yields the zero Signature.
func (sk SecretKey) Sign(data []byte) Signature {
	switch sk.scheme {
	case SchemeEd25519:
		return Signature{scheme: SchemeEd25519, raw: ed25519.Sign(sk.ed, data)}
	case SchemeBLS, SchemeBLSShare:
		return Signature{scheme: sk.scheme, raw: bls.Sign(sk.bls, data)}
	default:
		return Signature{}
	}
}

func (sk SecretKey) bytes() []byte {
	switch sk.scheme {
	case SchemeEd25519:
		return append([]byte(nil), sk.ed.Seed()...)
	case SchemeBLS, SchemeBLSShare:
		b, err := sk.bls.MarshalBinary()
		if err != nil {
			return nil
		}
		return b
	default:
		return nil
	}
}

// Equal compares in constant time. Secret keys deliberately have no ordering.
func (sk SecretKey) Equal(other SecretKey) bool {
	if sk.scheme != other.scheme {
		return false
	}
	return subtle.ConstantTimeCompare(sk.bytes(), other.bytes()) == 1
}

func (sk SecretKey) String() string {
	return sk.scheme.String() + "(..)"
}

func (sk SecretKey) MarshalCBOR() ([]byte, error) {
	if !sk.scheme.valid() {
		return nil, fmt.Errorf("%w: empty secret key", core.ErrInvalidInput)
	}
	return codec.Serialize(wire{Scheme: sk.scheme, Bytes: sk.bytes()})
}

func (sk *SecretKey) UnmarshalCBOR(data []byte) error {
	var w wire
	if err := codec.Deserialize(data, &w); err != nil {
		return err
	}
	parsed, err := SecretKeyFromBytes(w.Scheme, w.Bytes)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrFailedToParse, err)
	}
	*sk = parsed
	return nil
}
