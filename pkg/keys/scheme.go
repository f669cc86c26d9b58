package keys

import (
	"fmt"

	"github.com/cloudflare/circl/sign/bls"
)

// Scheme tags the variant held by a key, signature or keypair.
type Scheme uint8

const (
	SchemeEd25519 Scheme = iota + 1
	SchemeBLS
	SchemeBLSShare
)

func (s Scheme) String() string {
	switch s {
	case SchemeEd25519:
		return "Ed25519"
	case SchemeBLS:
		return "Bls"
	case SchemeBLSShare:
		return "BlsShare"
	default:
		return fmt.Sprintf("Scheme(%d)", uint8(s))
	}
}

func (s Scheme) valid() bool {
	return s >= SchemeEd25519 && s <= SchemeBLSShare
}

// Public keys in G1 (48 bytes compressed), signatures in G2 (96 bytes compressed).
type (
	blsPublicKey  = bls.PublicKey[bls.KeyG1SigG2]
	blsPrivateKey = bls.PrivateKey[bls.KeyG1SigG2]
)

const (
	BLSPublicKeySize = 48
	BLSSignatureSize = 96
	BLSSecretKeySize = 32
)

var blsKeyGenSalt = []byte("BLS-SIG-KEYGEN-SALT-")

// wire is the canonical serialized form shared by every union type.
type wire struct {
	_      struct{} `cbor:",toarray"`
	Scheme Scheme
	Bytes  []byte
}
