package kstorage

import (
	"time"

	"github.com/ValentinKolb/kStorage/lib/reclaim"
)

// MaxGroups is the fixed capacity of the group table
const MaxGroups = 4

// Options configures a Store during initialization
type Options struct {
	ReclaimMode      reclaim.Mode  // How superseded entries and snapshots are freed (default async)
	ReclaimInterval  time.Duration // Max delay before the async reclaimer flushes a partial batch (0 = default)
	ReclaimBatchSize int           // Retired objects per grace period in async mode (0 = default)
	MemoryLimit      int64         // Byte budget for entries and snapshots incl. retired ones (0 = unlimited)
	Copier           Copier        // Cross-domain copy capability (nil = LocalCopier)
	MetricsLabels    string        // Extra labels for every metric, e.g. `shard="100"`
}

// DefaultOptions returns the default store options
func DefaultOptions() *Options {
	return &Options{
		ReclaimMode: reclaim.ModeAsync,
		Copier:      LocalCopier{},
	}
}
