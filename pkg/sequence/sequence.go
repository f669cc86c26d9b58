// Package sequence implements the append-only, versioned entry log.
//
// A Sequence only grows. Entries are addressed with a Version, either from the
// start or back from the end, and are appended in batches guarded by an
// expected version (the length the writer last observed).
package sequence

import (
	"fmt"
	"sync"

	"github.com/agenthands/seqcas/pkg/core"
	"github.com/agenthands/seqcas/pkg/keys"
	"github.com/agenthands/seqcas/pkg/message"
)

// Kind classifies a sequence's visibility.
type Kind uint8

const (
	Public Kind = iota + 1
	Private
)

func (k Kind) String() string {
	switch k {
	case Public:
		return "public"
	case Private:
		return "private"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Valid reports whether k is Public or Private.
func (k Kind) Valid() bool {
	return k == Public || k == Private
}

// Authorship attributes a batch of entries in a Private sequence to its author.
// It keeps the signed request's guard, message id and signature so the batch
// can be verified again wherever the record travels.
type Authorship struct {
	Start     uint64         `cbor:"start"`
	Count     uint64         `cbor:"count"`
	Author    keys.PublicKey `cbor:"author"`
	Expected  *uint64        `cbor:"expected,omitempty"`
	MessageID message.ID     `cbor:"message_id"`
	Signature keys.Signature `cbor:"signature"`
}

// Verify checks that the record's signature covers batch appended to addr.
func (a Authorship) Verify(addr core.Address, batch []core.Entry) error {
	if uint64(len(batch)) != a.Count {
		return fmt.Errorf("%w: authorship covers %d entries, got %d", core.ErrInvalidInput, a.Count, len(batch))
	}
	if a.Expected != nil && *a.Expected != a.Start {
		return fmt.Errorf("%w: batch at %d was signed for version %d", core.ErrInvalidSignature, a.Start, *a.Expected)
	}
	signed := SignedAppend{
		Request:   AppendRequest{Address: addr, Entries: batch, ExpectedVersion: a.Expected},
		MessageID: a.MessageID,
		Author:    a.Author,
		Signature: a.Signature,
	}
	return signed.Verify()
}

// Sequence is an append-only log of entries. It is safe for concurrent use:
// appends hold the write lock across the version check and the mutation, so
// readers see either the whole batch or none of it.
type Sequence struct {
	mu sync.RWMutex

	addr    core.Address
	kind    Kind
	entries []core.Entry
	authors []Authorship
}

// NewPublic creates an empty Public sequence.
func NewPublic(name core.Identifier, tag uint64) *Sequence {
	return &Sequence{addr: core.Address{Name: name, Tag: tag}, kind: Public}
}

// NewPrivate creates an empty Private sequence.
func NewPrivate(name core.Identifier, tag uint64) *Sequence {
	return &Sequence{addr: core.Address{Name: name, Tag: tag}, kind: Private}
}

// New creates an empty sequence of the given kind.
func New(addr core.Address, kind Kind) (*Sequence, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown sequence kind %d", core.ErrInvalidInput, uint8(kind))
	}
	return &Sequence{addr: addr, kind: kind}, nil
}

// Restore rebuilds a sequence from persisted state. A Private sequence needs
// authorship records that tile its entries exactly; a Public one carries none.
// Signatures are not checked here, see VerifyAuthors.
func Restore(addr core.Address, kind Kind, entries []core.Entry, authors []Authorship) (*Sequence, error) {
	s, err := New(addr, kind)
	if err != nil {
		return nil, err
	}
	if kind == Public && len(authors) > 0 {
		return nil, fmt.Errorf("%w: public sequence carries %d authorship records", core.ErrCorrupt, len(authors))
	}
	var next uint64
	for _, a := range authors {
		if a.Count == 0 || a.Start != next || a.Count > uint64(len(entries))-a.Start || a.Author.IsZero() {
			return nil, fmt.Errorf("%w: authorship [%d,+%d) out of bounds", core.ErrCorrupt, a.Start, a.Count)
		}
		next = a.Start + a.Count
	}
	if kind == Private && next != uint64(len(entries)) {
		return nil, fmt.Errorf("%w: entries from %d have no author", core.ErrCorrupt, next)
	}
	s.entries = copyEntries(entries)
	s.authors = append([]Authorship(nil), authors...)
	return s, nil
}

func (s *Sequence) Address() core.Address { return s.addr }
func (s *Sequence) Name() core.Identifier { return s.addr.Name }
func (s *Sequence) Tag() uint64           { return s.addr.Tag }
func (s *Sequence) Kind() Kind            { return s.kind }

// Len returns the current version count.
func (s *Sequence) Len() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.entries))
}

// InRange returns the entries from start through end inclusive. It returns
// false when either version falls outside the log or start resolves after end.
func (s *Sequence) InRange(start, end Version) ([]core.Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	length := uint64(len(s.entries))
	from, ok := start.Resolve(length)
	if !ok {
		return nil, false
	}
	to, ok := end.Resolve(length)
	if !ok || from > to {
		return nil, false
	}
	return copyEntries(s.entries[from : to+1]), true
}

// Get returns the entry at v.
func (s *Sequence) Get(v Version) (core.Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := v.Resolve(uint64(len(s.entries)))
	if !ok {
		return nil, false
	}
	return append(core.Entry{}, s.entries[i]...), true
}

// Last returns the most recent entry.
func (s *Sequence) Last() (core.Entry, bool) {
	return s.Get(FromEnd(0))
}

// Entries returns a copy of the whole log.
func (s *Sequence) Entries() []core.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyEntries(s.entries)
}

// Authors returns the authorship records of a Private sequence, oldest first.
func (s *Sequence) Authors() []Authorship {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Authorship(nil), s.authors...)
}

// VerifyAuthors checks every authorship record's signature against the entries
// it covers.
func (s *Sequence) VerifyAuthors() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.authors {
		if err := a.Verify(s.addr, s.entries[a.Start:a.Start+a.Count]); err != nil {
			return fmt.Errorf("%s entries [%d,+%d): %w", s.addr, a.Start, a.Count, err)
		}
	}
	return nil
}

// AuthorOf returns the author of the entry at v, if one was recorded.
func (s *Sequence) AuthorOf(v Version) (keys.PublicKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := v.Resolve(uint64(len(s.entries)))
	if !ok {
		return keys.PublicKey{}, false
	}
	for _, a := range s.authors {
		if i >= a.Start && i < a.Start+a.Count {
			return a.Author, true
		}
	}
	return keys.PublicKey{}, false
}

// Append adds entries to a Public sequence and returns the new length. If
// expected is non-nil it must equal the current length, otherwise nothing is
// appended and core.ErrVersionMismatch is returned. Private sequences only
// accept AppendSigned.
func (s *Sequence) Append(entries []core.Entry, expected *uint64) (uint64, error) {
	if s.kind == Private {
		return 0, fmt.Errorf("%w: %s is private", core.ErrIdentityRequired, s.addr)
	}
	return s.commit(entries, expected, nil)
}

// AppendSigned verifies req, hands the verified author to auth (if any) and then
// appends like Append. Private sequences record the author of the batch.
func (s *Sequence) AppendSigned(req SignedAppend, auth Authorizer) (uint64, error) {
	if req.Request.Address != s.addr {
		return 0, fmt.Errorf("%w: request for %s sent to %s", core.ErrInvalidInput, req.Request.Address, s.addr)
	}
	if err := req.Verify(); err != nil {
		return 0, err
	}
	if auth != nil {
		if err := auth.AuthorizeAppend(s.addr, req.Author); err != nil {
			return 0, err
		}
	}

	var signed *SignedAppend
	if s.kind == Private {
		signed = &req
	}
	return s.commit(req.Request.Entries, req.Request.ExpectedVersion, signed)
}

func (s *Sequence) commit(entries []core.Entry, expected *uint64, signed *SignedAppend) (uint64, error) {
	batch := copyEntries(entries)

	s.mu.Lock()
	defer s.mu.Unlock()

	length := uint64(len(s.entries))
	if err := CheckExpected(expected, length); err != nil {
		return length, err
	}
	if len(batch) == 0 {
		return length, nil
	}

	s.entries = append(s.entries, batch...)
	if signed != nil {
		s.authors = append(s.authors, signed.AuthorshipAt(length))
	}
	return uint64(len(s.entries)), nil
}

func copyEntries(entries []core.Entry) []core.Entry {
	out := make([]core.Entry, len(entries))
	for i, e := range entries {
		out[i] = append(core.Entry{}, e...)
	}
	return out
}
