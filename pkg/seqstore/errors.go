package seqstore

import (
	"github.com/agenthands/seqcas/pkg/core"
)

var (
	ErrNotFound         = core.ErrNotFound
	ErrExists           = core.ErrExists
	ErrInvalidInput     = core.ErrInvalidInput
	ErrCorrupt          = core.ErrCorrupt
	ErrTooLarge         = core.ErrTooLarge
	ErrClosed           = core.ErrClosed
	ErrVersionMismatch  = core.ErrVersionMismatch
	ErrIdentityRequired = core.ErrIdentityRequired
	ErrDiverged         = core.ErrDiverged
	ErrInvalidSignature = core.ErrInvalidSignature
)
