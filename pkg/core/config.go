package core

import (
	"github.com/rs/zerolog"
)

type Config struct {
	Dir string // repo root

	Catalog   CatalogConfig
	Snapshot  SnapshotConfig
	Limits    LimitsConfig
	Transform TransformConfig

	// Logger receives store events. Nil disables logging.
	Logger *zerolog.Logger
}

type CatalogConfig struct {
	Dir string
	// NoSync commits appends without fsync. Only for tests and benchmarks.
	NoSync bool
}

type SnapshotConfig struct {
	Dir string
}

type TransformConfig struct {
	Name      string
	ZstdLevel int
}

type LimitsConfig struct {
	MaxEntryBytes       uint64
	MaxEntriesPerAppend int
	MaxSnapshotEntries  uint64
}
