// Package codec is the canonical serialization used for hashing, signing payloads
// and portable text encoding. Every byte string that is signed or compared in
// seqcas comes out of Serialize.
package codec

import (
	"fmt"

	"github.com/agenthands/seqcas/pkg/core"
	"github.com/fxamacker/cbor/v2"
	"github.com/multiformats/go-base32"
	"github.com/multiformats/go-multibase"
)

// ZBase32Prefix is the multibase code for z-base-32.
const ZBase32Prefix = 'h'

const zbase32Alphabet = "ybndrfg8ejkmcpqxot1uwisza345h769"

// ZBase32 is the unpadded z-base-32 encoding.
var ZBase32 = base32.NewEncoding(zbase32Alphabet).WithPadding(base32.NoPadding)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	// Core Deterministic Encoding Requirements
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("codec: canonical enc mode: %v", err))
	}
	dm, err := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyEnforcedAPF,
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("codec: strict dec mode: %v", err))
	}
	encMode = em
	decMode = dm
}

// Serialize returns the canonical CBOR encoding of v.
func Serialize(v any) ([]byte, error) {
	b, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidInput, err)
	}
	return b, nil
}

// Deserialize decodes b into v. Unknown fields, duplicate keys and trailing bytes are rejected.
func Deserialize(b []byte, v any) error {
	if err := decMode.Unmarshal(b, v); err != nil {
		return fmt.Errorf("%w: %v", core.ErrFailedToParse, err)
	}
	return nil
}

// EncodeZBase32 serializes v and wraps it as a multibase z-base-32 string.
func EncodeZBase32(v any) (string, error) {
	b, err := Serialize(v)
	if err != nil {
		return "", err
	}
	return string(ZBase32Prefix) + ZBase32.EncodeToString(b), nil
}

// DecodeZBase32 reverses EncodeZBase32. Strings tagged with any other multibase are rejected.
func DecodeZBase32(s string, v any) error {
	if s == "" {
		return fmt.Errorf("%w: empty input", core.ErrFailedToParse)
	}
	if s[0] != ZBase32Prefix {
		return fmt.Errorf("%w: expected z-base-32 encoding, but got %s", core.ErrFailedToParse, baseName(s))
	}
	b, err := ZBase32.DecodeString(s[1:])
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrFailedToParse, err)
	}
	return Deserialize(b, v)
}

func baseName(s string) string {
	enc, _, err := multibase.Decode(s)
	if err != nil {
		return fmt.Sprintf("unknown base %q", s[0])
	}
	if name, ok := multibase.EncodingToStr[enc]; ok {
		return name
	}
	return fmt.Sprintf("base %q", s[0])
}
