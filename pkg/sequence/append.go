package sequence

import (
	"fmt"

	"github.com/agenthands/seqcas/pkg/core"
	"github.com/agenthands/seqcas/pkg/keys"
	"github.com/agenthands/seqcas/pkg/message"
)

// Expect returns a version guard for Append.
func Expect(length uint64) *uint64 {
	return &length
}

// CheckExpected applies the optimistic concurrency guard: a nil expected
// version always passes, otherwise it must equal length.
func CheckExpected(expected *uint64, length uint64) error {
	if expected != nil && *expected != length {
		return fmt.Errorf("%w: expected version %d, current %d", core.ErrVersionMismatch, *expected, length)
	}
	return nil
}

// AppendRequest is the message an author signs to append to a sequence.
type AppendRequest struct {
	Address         core.Address `cbor:"address"`
	Entries         []core.Entry `cbor:"entries"`
	ExpectedVersion *uint64      `cbor:"expected_version,omitempty"`
}

// SignedAppend is an AppendRequest together with the author's signature over
// the (request, message id) pair.
type SignedAppend struct {
	Request   AppendRequest  `cbor:"request"`
	MessageID message.ID     `cbor:"message_id"`
	Author    keys.PublicKey `cbor:"author"`
	Signature keys.Signature `cbor:"signature"`
}

// canonical returns r with nil entries replaced by empty ones, so the signed
// bytes do not change when the entries come back from storage.
func (r AppendRequest) canonical() AppendRequest {
	out := r
	out.Entries = make([]core.Entry, len(r.Entries))
	for i, e := range r.Entries {
		if e == nil {
			e = core.Entry{}
		}
		out.Entries[i] = e
	}
	return out
}

// SignAppend signs req with kp under message id.
func SignAppend(kp keys.Keypair, req AppendRequest, id message.ID) (SignedAppend, error) {
	sig, err := message.Sign(kp, req.canonical(), id)
	if err != nil {
		return SignedAppend{}, err
	}
	return SignedAppend{
		Request:   req,
		MessageID: id,
		Author:    kp.PublicKey(),
		Signature: sig,
	}, nil
}

// Verify checks the author's signature over the request.
func (s SignedAppend) Verify() error {
	if s.Author.IsZero() {
		return fmt.Errorf("%w: missing author", core.ErrIdentityRequired)
	}
	return message.VerifySignature(s.Signature, s.Author, s.Request.canonical(), s.MessageID)
}

// AuthorshipAt returns the record for this request's entries appended at start.
func (s SignedAppend) AuthorshipAt(start uint64) Authorship {
	var expected *uint64
	if s.Request.ExpectedVersion != nil {
		expected = Expect(*s.Request.ExpectedVersion)
	}
	return Authorship{
		Start:     start,
		Count:     uint64(len(s.Request.Entries)),
		Author:    s.Author,
		Expected:  expected,
		MessageID: s.MessageID,
		Signature: s.Signature,
	}
}

// Authorizer decides whether a verified author may append to a sequence.
// Policy lives entirely outside this package.
type Authorizer interface {
	AuthorizeAppend(addr core.Address, author keys.PublicKey) error
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(addr core.Address, author keys.PublicKey) error

func (f AuthorizerFunc) AuthorizeAppend(addr core.Address, author keys.PublicKey) error {
	return f(addr, author)
}
