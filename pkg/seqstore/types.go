package seqstore

import (
	"context"

	"github.com/agenthands/seqcas/pkg/core"
	"github.com/agenthands/seqcas/pkg/sequence"
	"github.com/agenthands/seqcas/pkg/verify"
)

type CID = core.CID
type Address = core.Address
type Entry = core.Entry
type Kind = sequence.Kind
type Version = sequence.Version

// Info summarizes one stored sequence.
type Info struct {
	Address Address
	Kind    Kind
	Length  uint64
}

// Store is a persistent set of sequences keyed by Address.
type Store interface {
	Create(ctx context.Context, addr Address, kind Kind) error

	// Append adds entries to a Public sequence and returns the new length.
	// A non-nil expected must equal the persisted length.
	Append(ctx context.Context, addr Address, entries []Entry, expected *uint64) (uint64, error)
	// AppendSigned verifies and authorizes req before appending. Private
	// sequences record the author of the batch.
	AppendSigned(ctx context.Context, req sequence.SignedAppend) (uint64, error)

	InRange(ctx context.Context, addr Address, start, end Version) ([]Entry, bool, error)
	Len(ctx context.Context, addr Address) (uint64, error)
	// Load returns a detached copy of the sequence with every entry verified.
	Load(ctx context.Context, addr Address) (*sequence.Sequence, error)
	List(ctx context.Context, fn func(Info) error) error

	Export(ctx context.Context, addr Address, path string) (CID, error)
	Import(ctx context.Context, path string) (Address, error)

	// Verify checks every stored entry against its CID. With Sweep it also
	// deletes blocks no sequence references, excluding writers meanwhile.
	Verify(ctx context.Context, opts verify.Options) (verify.Result, error)

	Close() error
}

// Option configures a Store.
type Option func(*options)

type options struct {
	authorizer sequence.Authorizer
}

// WithAuthorizer installs the policy consulted by AppendSigned with the
// verified author.
func WithAuthorizer(a sequence.Authorizer) Option {
	return func(o *options) { o.authorizer = a }
}
