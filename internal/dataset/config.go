// Package fricon implements the dataset manager: the high-level
// orchestrator that ties the catalog, workspace root, write-session
// registry, and dataset reader together into the dataset lifecycle
// (create/read/update/delete).
package fricon

import (
	"time"

	"github.com/fricon-project/fricon/internal/chunkwriter"
	"github.com/fricon-project/fricon/internal/session"
)

// Config holds tunables as first-class fields rather than buried
// constants, so a CLI or config-loading layer has something concrete
// to bind flags or file values to. The zero value is not meant to be
// used directly; callers pass nil to Open to get DefaultConfig().
type Config struct {
	// Limits are the chunk writer's coalesce/rotation thresholds.
	Limits chunkwriter.Limits
	// WriteChannelCapacity bounds the ingestion-task-to-writer-goroutine
	// channel; this is the engine's only backpressure point.
	WriteChannelCapacity int
	// ShutdownDrainTimeout bounds how long Shutdown waits for active
	// write sessions to finish committing or aborting before giving up
	// and releasing the workspace lock anyway.
	ShutdownDrainTimeout time.Duration
}

// DefaultConfig returns the production-tuned defaults: the chunk
// writer's default limits, a write channel capacity of 32, and a 10s
// shutdown drain timeout.
func DefaultConfig() Config {
	return Config{
		Limits:               chunkwriter.DefaultLimits(),
		WriteChannelCapacity: session.DefaultBatchChanCapacity,
		ShutdownDrainTimeout: 10 * time.Second,
	}
}
