package cidutil

import (
	"bytes"
	"strings"
	"testing"

	"github.com/agenthands/seqcas/internal/testkit"
	"github.com/agenthands/seqcas/pkg/core"
	"github.com/ipfs/go-cid"
)

func TestCIDBuilder(t *testing.T) {
	builder := NewBuilder()

	t.Run("EntryCID", func(t *testing.T) {
		data := []byte("hello world")
		c, err := builder.EntryCID(data)
		if err != nil {
			t.Fatalf("EntryCID failed: %v", err)
		}
		id, err := Cast(c)
		if err != nil {
			t.Fatal(err)
		}
		if id.Prefix().Codec != cid.Raw {
			t.Errorf("expected raw codec, got %x", id.Prefix().Codec)
		}
		if err := builder.Verify(c, data); err != nil {
			t.Errorf("Verify failed for correct data: %v", err)
		}
		if err := builder.Verify(c, []byte("wrong data")); err == nil {
			t.Error("Verify should have failed for wrong data")
		}
	})

	t.Run("HeaderCID", func(t *testing.T) {
		data := []byte{0xa1, 0x61, 0x61, 0x01} // {"a": 1}
		c, err := builder.HeaderCID(data)
		if err != nil {
			t.Fatalf("HeaderCID failed: %v", err)
		}
		id, _ := Cast(c)
		if id.Prefix().Codec != cid.DagCBOR {
			t.Errorf("expected dag-cbor codec, got %x", id.Prefix().Codec)
		}
		if err := builder.Verify(c, data); err != nil {
			t.Errorf("Verify failed for correct data: %v", err)
		}
		if !strings.HasPrefix(String(c), "bafy") {
			t.Errorf("unexpected CIDv1 text form %s", String(c))
		}
	})

	t.Run("Determinism", func(t *testing.T) {
		data := []byte("deterministic content")
		c1, _ := builder.EntryCID(data)
		c2, _ := builder.EntryCID(data)
		if !bytes.Equal(c1.Bytes, c2.Bytes) {
			t.Error("CIDs for same content should be identical")
		}
	})

	t.Run("EmptyEntry", func(t *testing.T) {
		c, err := builder.EntryCID(nil)
		if err != nil {
			t.Fatal(err)
		}
		if err := builder.Verify(c, []byte{}); err != nil {
			t.Errorf("empty entries must be addressable: %v", err)
		}
	})

	t.Run("MalformedCIDBytes", func(t *testing.T) {
		if err := builder.Verify(core.CID{Bytes: []byte{0x00, 0x01}}, []byte("x")); err == nil {
			t.Error("expected Verify to fail on malformed CID bytes")
		}
		if String(core.CID{}) != "<invalid>" {
			t.Error("expected <invalid> for empty CID")
		}
	})

	t.Run("LargePayload", func(t *testing.T) {
		data := testkit.RandomBytes(testkit.RNG(42), 4*1024*1024)
		c, err := builder.EntryCID(data)
		if err != nil {
			t.Fatal(err)
		}
		if err := builder.Verify(c, data); err != nil {
			t.Fatal(err)
		}
	})
}
