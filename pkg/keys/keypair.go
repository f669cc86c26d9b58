package keys

import (
	"fmt"
	"io"

	"github.com/agenthands/seqcas/pkg/codec"
	"github.com/agenthands/seqcas/pkg/core"
)

// Keypair bundles a SecretKey with its PublicKey. It is the unit an identity
// holder generates and stores.
type Keypair struct {
	secret SecretKey
	public PublicKey
}

// NewEd25519Keypair constructs a random Ed25519 keypair.
func NewEd25519Keypair(rand io.Reader) (Keypair, error) {
	sk, err := NewEd25519SecretKey(rand)
	if err != nil {
		return Keypair{}, err
	}
	return KeypairFromSecretKey(sk)
}

// NewBLSKeypair constructs a random BLS keypair.
func NewBLSKeypair(rand io.Reader) (Keypair, error) {
	sk, err := NewBLSSecretKey(rand)
	if err != nil {
		return Keypair{}, err
	}
	return KeypairFromSecretKey(sk)
}

// NewBLSShareKeypair constructs the keypair for one share of a threshold group secret.
func NewBLSShareKeypair(share SecretKey) (Keypair, error) {
	if share.scheme != SchemeBLSShare {
		return Keypair{}, fmt.Errorf("%w: expected %s secret key, got %s", core.ErrInvalidInput, SchemeBLSShare, share.scheme)
	}
	return KeypairFromSecretKey(share)
}

// KeypairFromSecretKey derives the public half of sk.
func KeypairFromSecretKey(sk SecretKey) (Keypair, error) {
	if !sk.scheme.valid() {
		return Keypair{}, fmt.Errorf("%w: empty secret key", core.ErrInvalidInput)
	}
	return Keypair{secret: sk, public: sk.PublicKey()}, nil
}

func (kp Keypair) Scheme() Scheme             { return kp.secret.scheme }
func (kp Keypair) PublicKey() PublicKey       { return kp.public }
func (kp Keypair) SecretKey() SecretKey       { return kp.secret }
func (kp Keypair) Sign(data []byte) Signature { return kp.secret.Sign(data) }

func (kp Keypair) Equal(other Keypair) bool {
	return kp.secret.Equal(other.secret) && kp.public.Equal(other.public)
}

func (kp Keypair) String() string {
	return kp.secret.scheme.String() + "(..)"
}

type keypairWire struct {
	_      struct{} `cbor:",toarray"`
	Secret SecretKey
	Public PublicKey
}

func (kp Keypair) MarshalCBOR() ([]byte, error) {
	if !kp.secret.scheme.valid() {
		return nil, fmt.Errorf("%w: empty keypair", core.ErrInvalidInput)
	}
	return codec.Serialize(keypairWire{Secret: kp.secret, Public: kp.public})
}

func (kp *Keypair) UnmarshalCBOR(data []byte) error {
	var w keypairWire
	if err := codec.Deserialize(data, &w); err != nil {
		return err
	}
	if w.Secret.scheme != w.Public.scheme || !w.Secret.PublicKey().Equal(w.Public) {
		return fmt.Errorf("%w: public key does not match secret key", core.ErrFailedToParse)
	}
	kp.secret = w.Secret
	kp.public = w.Public
	return nil
}

// EncodeToZBase32 exports the keypair, secret included, as portable text.
func (kp Keypair) EncodeToZBase32() (string, error) {
	return codec.EncodeZBase32(kp)
}

// DecodeKeypairFromZBase32 parses the output of Keypair.EncodeToZBase32.
func DecodeKeypairFromZBase32(s string) (Keypair, error) {
	var kp Keypair
	if err := codec.DecodeZBase32(s, &kp); err != nil {
		return Keypair{}, err
	}
	return kp, nil
}
