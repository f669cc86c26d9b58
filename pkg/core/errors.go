package core

import (
	"errors"
)

var (
	ErrNotFound     = errors.New("seqcas: not found")
	ErrExists       = errors.New("seqcas: already exists")
	ErrInvalidInput = errors.New("seqcas: invalid input")
	ErrCorrupt      = errors.New("seqcas: corrupt data")
	ErrTooLarge     = errors.New("seqcas: too large")
	ErrClosed       = errors.New("seqcas: store closed")

	// ErrSchemeMismatch is returned when a key and a signature belong to different schemes.
	ErrSchemeMismatch   = errors.New("seqcas: signing key type mismatch")
	ErrInvalidSignature = errors.New("seqcas: invalid signature")
	ErrFailedToParse    = errors.New("seqcas: failed to parse")

	// ErrVersionMismatch is returned when an append's expected version is stale.
	ErrVersionMismatch  = errors.New("seqcas: version mismatch")
	ErrIdentityRequired = errors.New("seqcas: signed append required")
	ErrDiverged         = errors.New("seqcas: histories diverged")
)
