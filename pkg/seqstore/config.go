package seqstore

import (
	"github.com/agenthands/seqcas/pkg/core"
)

type Config = core.Config
type CatalogConfig = core.CatalogConfig
type SnapshotConfig = core.SnapshotConfig
type TransformConfig = core.TransformConfig
type LimitsConfig = core.LimitsConfig
