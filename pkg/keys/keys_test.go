package keys

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"sort"
	"testing"

	"github.com/agenthands/seqcas/internal/testkit"
	"github.com/agenthands/seqcas/pkg/codec"
	"github.com/agenthands/seqcas/pkg/core"
	"github.com/multiformats/go-multibase"
)

func mustEd25519(t testing.TB) Keypair {
	t.Helper()
	kp, err := NewEd25519Keypair(rand.Reader)
	if err != nil {
		t.Fatalf("NewEd25519Keypair: %v", err)
	}
	return kp
}

func mustBLS(t testing.TB) Keypair {
	t.Helper()
	kp, err := NewBLSKeypair(rand.Reader)
	if err != nil {
		t.Fatalf("NewBLSKeypair: %v", err)
	}
	return kp
}

// mustBLSShare stands in for a dealer: any valid scalar is a valid share.
func mustBLSShare(t testing.TB) Keypair {
	t.Helper()
	dealer := mustBLS(t)
	scalar := dealer.SecretKey().bytes()
	share, err := SecretKeyShareFromBytes(scalar)
	if err != nil {
		t.Fatalf("SecretKeyShareFromBytes: %v", err)
	}
	kp, err := NewBLSShareKeypair(share)
	if err != nil {
		t.Fatalf("NewBLSShareKeypair: %v", err)
	}
	return kp
}

func allKeypairs(t testing.TB) []Keypair {
	return []Keypair{mustEd25519(t), mustBLS(t), mustBLSShare(t)}
}

func TestVerify(t *testing.T) {
	data := []byte("append batch payload")

	for _, kp := range allKeypairs(t) {
		kp := kp
		t.Run(kp.Scheme().String(), func(t *testing.T) {
			sig := kp.Sign(data)
			if sig.Scheme() != kp.Scheme() {
				t.Fatalf("signature scheme %s, want %s", sig.Scheme(), kp.Scheme())
			}
			if err := kp.PublicKey().Verify(sig, data); err != nil {
				t.Fatalf("Verify failed for genuine signature: %v", err)
			}

			flipped := append([]byte(nil), data...)
			flipped[0] ^= 0x01
			if err := kp.PublicKey().Verify(sig, flipped); !errors.Is(err, core.ErrInvalidSignature) {
				t.Errorf("expected ErrInvalidSignature for flipped data, got %v", err)
			}

			raw := sig.Bytes()
			for _, i := range []int{0, len(raw) / 2, len(raw) - 1} {
				corrupt := append([]byte(nil), raw...)
				corrupt[i] ^= 0x01
				bad, err := SignatureFromBytes(sig.Scheme(), corrupt)
				if err != nil {
					t.Fatal(err)
				}
				if err := kp.PublicKey().Verify(bad, data); !errors.Is(err, core.ErrInvalidSignature) {
					t.Errorf("byte %d: expected ErrInvalidSignature for flipped signature, got %v", i, err)
				}
			}
		})
	}

	t.Run("WrongKeySameScheme", func(t *testing.T) {
		a, b := mustEd25519(t), mustEd25519(t)
		if err := b.PublicKey().Verify(a.Sign(data), data); !errors.Is(err, core.ErrInvalidSignature) {
			t.Errorf("expected ErrInvalidSignature, got %v", err)
		}
	})

	t.Run("ZeroKey", func(t *testing.T) {
		var pk PublicKey
		err := pk.Verify(mustEd25519(t).Sign(data), data)
		if err == nil || errors.Is(err, core.ErrInvalidSignature) {
			t.Errorf("expected input error for zero key, got %v", err)
		}
	})
}

func TestVerify_SchemeMismatch(t *testing.T) {
	data := []byte("payload")
	kps := allKeypairs(t)

	for _, signer := range kps {
		sig := signer.Sign(data)
		for _, verifier := range kps {
			if verifier.Scheme() == signer.Scheme() {
				continue
			}
			err := verifier.PublicKey().Verify(sig, data)
			if !errors.Is(err, core.ErrSchemeMismatch) {
				t.Errorf("%s key vs %s signature: expected ErrSchemeMismatch, got %v", verifier.Scheme(), signer.Scheme(), err)
			}
		}
	}
}

func TestPublicKey_ZBase32(t *testing.T) {
	for _, kp := range allKeypairs(t) {
		key := kp.PublicKey()
		encoded, err := key.EncodeToZBase32()
		if err != nil {
			t.Fatalf("%s: EncodeToZBase32: %v", key.Scheme(), err)
		}
		decoded, err := DecodePublicKeyFromZBase32(encoded)
		if err != nil {
			t.Fatalf("%s: DecodePublicKeyFromZBase32: %v", key.Scheme(), err)
		}
		if !decoded.Equal(key) {
			t.Errorf("%s: round trip mismatch: %s != %s", key.Scheme(), decoded, key)
		}
	}

	t.Run("RejectsOtherBase", func(t *testing.T) {
		b, _ := codec.Serialize(mustEd25519(t).PublicKey())
		for _, enc := range []multibase.Encoding{multibase.Base32, multibase.Base58BTC, multibase.Base64} {
			s, err := multibase.Encode(enc, b)
			if err != nil {
				t.Fatal(err)
			}
			if _, err := DecodePublicKeyFromZBase32(s); !errors.Is(err, core.ErrFailedToParse) {
				t.Errorf("%s: expected ErrFailedToParse, got %v", multibase.EncodingToStr[enc], err)
			}
		}
	})

	t.Run("RejectsNonKeyPayload", func(t *testing.T) {
		s, _ := codec.EncodeZBase32([]string{"not", "a", "key"})
		if _, err := DecodePublicKeyFromZBase32(s); !errors.Is(err, core.ErrFailedToParse) {
			t.Errorf("expected ErrFailedToParse, got %v", err)
		}

		s, _ = codec.EncodeZBase32(wire{Scheme: Scheme(9), Bytes: make([]byte, 32)})
		if _, err := DecodePublicKeyFromZBase32(s); !errors.Is(err, core.ErrFailedToParse) {
			t.Errorf("unknown scheme: expected ErrFailedToParse, got %v", err)
		}

		s, _ = codec.EncodeZBase32(wire{Scheme: SchemeEd25519, Bytes: make([]byte, 31)})
		if _, err := DecodePublicKeyFromZBase32(s); !errors.Is(err, core.ErrFailedToParse) {
			t.Errorf("short key: expected ErrFailedToParse, got %v", err)
		}
	})
}

func TestSerialisation(t *testing.T) {
	for _, kp := range allKeypairs(t) {
		kp := kp
		t.Run(kp.Scheme().String(), func(t *testing.T) {
			pkBytes, err := codec.Serialize(kp.PublicKey())
			if err != nil {
				t.Fatal(err)
			}
			var pk PublicKey
			if err := codec.Deserialize(pkBytes, &pk); err != nil {
				t.Fatalf("deserialise public key: %v", err)
			}
			if !pk.Equal(kp.PublicKey()) {
				t.Error("public key mismatch after round trip")
			}

			skBytes, err := codec.Serialize(kp.SecretKey())
			if err != nil {
				t.Fatal(err)
			}
			var sk SecretKey
			if err := codec.Deserialize(skBytes, &sk); err != nil {
				t.Fatalf("deserialise secret key: %v", err)
			}
			if !sk.Equal(kp.SecretKey()) {
				t.Error("secret key mismatch after round trip")
			}
			if !sk.PublicKey().Equal(kp.PublicKey()) {
				t.Error("restored secret key derives a different public key")
			}

			sig := kp.Sign([]byte("m"))
			sigBytes, _ := codec.Serialize(sig)
			var sig2 Signature
			if err := codec.Deserialize(sigBytes, &sig2); err != nil {
				t.Fatalf("deserialise signature: %v", err)
			}
			if !sig2.Equal(sig) {
				t.Error("signature mismatch after round trip")
			}

			encoded, err := kp.EncodeToZBase32()
			if err != nil {
				t.Fatal(err)
			}
			kp2, err := DecodeKeypairFromZBase32(encoded)
			if err != nil {
				t.Fatalf("DecodeKeypairFromZBase32: %v", err)
			}
			if !kp2.Equal(kp) {
				t.Error("keypair mismatch after round trip")
			}
		})
	}

	t.Run("MismatchedKeypair", func(t *testing.T) {
		a, b := mustEd25519(t), mustEd25519(t)
		bad, _ := codec.Serialize(keypairWire{Secret: a.SecretKey(), Public: b.PublicKey()})
		var kp Keypair
		if err := codec.Deserialize(bad, &kp); !errors.Is(err, core.ErrFailedToParse) {
			t.Errorf("expected ErrFailedToParse, got %v", err)
		}
	})

	t.Run("ZeroValues", func(t *testing.T) {
		if _, err := codec.Serialize(PublicKey{}); err == nil {
			t.Error("expected error serialising zero public key")
		}
		if _, err := codec.Serialize(SecretKey{}); err == nil {
			t.Error("expected error serialising zero secret key")
		}
	})
}

func TestName(t *testing.T) {
	ed := mustEd25519(t).PublicKey()
	name := ed.Name()
	if !bytes.Equal(name[:], ed.Bytes()) {
		t.Error("ed25519 name must equal the 32-byte key")
	}

	for _, kp := range []Keypair{mustBLS(t), mustBLSShare(t)} {
		pk := kp.PublicKey()
		raw := pk.Bytes()
		if len(raw) != BLSPublicKeySize {
			t.Fatalf("%s key is %d bytes, want %d", pk.Scheme(), len(raw), BLSPublicKeySize)
		}
		n := pk.Name()
		if !bytes.Equal(n[:], raw[:core.IdentifierLen]) {
			t.Errorf("%s name must be the first %d bytes of the key", pk.Scheme(), core.IdentifierLen)
		}
	}

	seen := make(map[core.Identifier]bool)
	for i := 0; i < 16; i++ {
		n := mustEd25519(t).PublicKey().Name()
		if seen[n] {
			t.Fatal("distinct keys mapped to the same name")
		}
		seen[n] = true
	}
}

func TestOrdering(t *testing.T) {
	var pks []PublicKey
	var sigs []Signature
	for i := 0; i < 4; i++ {
		for _, kp := range allKeypairs(t) {
			pks = append(pks, kp.PublicKey())
			sigs = append(sigs, kp.Sign([]byte("order")))
		}
	}
	sort.Slice(pks, func(i, j int) bool { return pks[i].Compare(pks[j]) < 0 })

	for i := 1; i < len(pks); i++ {
		if pks[i-1].Compare(pks[i]) > 0 {
			t.Fatal("keys not sorted")
		}
		if pks[i].Compare(pks[i-1]) < 0 {
			t.Fatal("Compare is not antisymmetric")
		}
	}

	a := pks[0]
	b, _ := PublicKeyFromBytes(a.Scheme(), a.Bytes())
	if a.Compare(b) != 0 || !a.Equal(b) || a.MapKey() != b.MapKey() {
		t.Error("equal keys must compare equal and share a map key")
	}

	t.Run("Signatures", func(t *testing.T) {
		sort.Slice(sigs, func(i, j int) bool { return sigs[i].Compare(sigs[j]) < 0 })
		for i := 1; i < len(sigs); i++ {
			if sigs[i-1].Compare(sigs[i]) > 0 || sigs[i].Compare(sigs[i-1]) < 0 {
				t.Fatal("signatures not consistently ordered")
			}
		}

		s := sigs[0]
		dup, err := SignatureFromBytes(s.Scheme(), s.Bytes())
		if err != nil {
			t.Fatal(err)
		}
		if s.Compare(dup) != 0 || !s.Equal(dup) {
			t.Error("equal signatures must compare equal")
		}

		// Same bytes, different scheme tag.
		group := mustBLS(t).Sign([]byte("order"))
		share, err := SignatureFromBytes(SchemeBLSShare, group.Bytes())
		if err != nil {
			t.Fatal(err)
		}
		if share.Compare(group) == 0 || share.Equal(group) {
			t.Error("signatures of different schemes must not compare equal")
		}
	})
}

func TestConstructors(t *testing.T) {
	t.Run("ReaderFailure", func(t *testing.T) {
		r := testkit.NewErrorReader(bytes.NewReader(make([]byte, 64)), 4, nil)
		if _, err := NewEd25519Keypair(r); !errors.Is(err, testkit.ErrInjectedFault) {
			t.Errorf("expected injected fault, got %v", err)
		}
		r = testkit.NewErrorReader(bytes.NewReader(make([]byte, 64)), 4, nil)
		if _, err := NewBLSKeypair(r); !errors.Is(err, testkit.ErrInjectedFault) {
			t.Errorf("expected injected fault, got %v", err)
		}
	})

	t.Run("DeterministicEd25519", func(t *testing.T) {
		seed := bytes.Repeat([]byte{0x42}, ed25519.SeedSize)
		a, err := NewEd25519Keypair(bytes.NewReader(seed))
		if err != nil {
			t.Fatal(err)
		}
		want := ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey)
		if !bytes.Equal(a.PublicKey().Bytes(), want) {
			t.Error("keypair does not match the native key for the same seed")
		}
		native, err := PublicKeyFromEd25519(want)
		if err != nil || !native.Equal(a.PublicKey()) {
			t.Errorf("PublicKeyFromEd25519 mismatch: %v", err)
		}
	})

	t.Run("ShareRequiresShareScheme", func(t *testing.T) {
		if _, err := NewBLSShareKeypair(mustBLS(t).SecretKey()); !errors.Is(err, core.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("BadLengths", func(t *testing.T) {
		if _, err := SecretKeyShareFromBytes(make([]byte, 31)); !errors.Is(err, core.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
		if _, err := SignatureFromBytes(SchemeBLS, make([]byte, 64)); !errors.Is(err, core.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
		if _, err := PublicKeyFromBytes(SchemeBLS, make([]byte, BLSPublicKeySize)); err == nil {
			t.Error("expected error for all-zero bls public key bytes")
		}
	})

	t.Run("BLSAccessor", func(t *testing.T) {
		if _, ok := mustBLS(t).PublicKey().BLS(); !ok {
			t.Error("expected BLS() to return the group key")
		}
		if _, ok := mustBLSShare(t).PublicKey().BLS(); ok {
			t.Error("share keys are not group keys")
		}
	})
}

func TestStringers(t *testing.T) {
	kp := mustEd25519(t)
	if got := kp.SecretKey().String(); got != "Ed25519(..)" {
		t.Errorf("secret key must not leak material, got %q", got)
	}
	if got := kp.PublicKey().String(); len(got) != len("Ed25519(12345678..)") {
		t.Errorf("unexpected public key rendering %q", got)
	}
	if got := Scheme(7).String(); got != "Scheme(7)" {
		t.Errorf("got %q", got)
	}
}
