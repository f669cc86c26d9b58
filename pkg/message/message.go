// Package message authenticates protocol messages: a signature always covers the
// canonical serialization of the pair (message, message id).
package message

import (
	"fmt"
	"io"

	"github.com/agenthands/seqcas/pkg/codec"
	"github.com/agenthands/seqcas/pkg/core"
	"github.com/agenthands/seqcas/pkg/keys"
)

// ID uniquely names one message.
type ID core.Identifier

// NewID reads a random ID from r.
func NewID(r io.Reader) (ID, error) {
	id, err := core.RandomIdentifier(r)
	if err != nil {
		return ID{}, err
	}
	return ID(id), nil
}

func (id ID) String() string {
	return core.Identifier(id).String()
}

// Payload returns the bytes that are signed for msg under id.
func Payload[M any](msg M, id ID) ([]byte, error) {
	b, err := codec.Serialize([]any{msg, id})
	if err != nil {
		return nil, fmt.Errorf("failed to serialise message: %w", err)
	}
	return b, nil
}

// Sign signs the (msg, id) pair with kp.
func Sign[M any](kp keys.Keypair, msg M, id ID) (keys.Signature, error) {
	payload, err := Payload(msg, id)
	if err != nil {
		return keys.Signature{}, err
	}
	return kp.Sign(payload), nil
}

// VerifySignature checks that signature is valid for the (msg, id) pair under publicKey.
func VerifySignature[M any](signature keys.Signature, publicKey keys.PublicKey, msg M, id ID) error {
	payload, err := Payload(msg, id)
	if err != nil {
		return err
	}
	return publicKey.Verify(signature, payload)
}
