// Package snapshotstore persists and retrieves the latest snapshot of an
// aggregate's state (C2 in the core design), optionally fronted by a hot
// cache. The hot cache is advisory; correctness holds when it is cold.
package snapshotstore

import (
	"context"
	"time"
)

// Snapshot is the persisted state of an aggregate at a known version.
type Snapshot struct {
	StreamID       string
	State          []byte // codec-encoded aggregate state
	Version        int64  // domain event index after which this was taken; -1 means no events
	StreamPosition int64  // log revision covered by this snapshot
	TakenAt        time.Time
}

// LoadResult is the result of LoadLatest.
type LoadResult struct {
	Snapshot *Snapshot // nil if none exists
	CacheHit bool
}

// Stats describes whether a snapshot exists for a stream and, if so, its
// version — without loading the full state.
type Stats struct {
	Exists  bool
	Version int64
}

// Store is the C2 contract: O(1) latest-snapshot lookup, append-only
// save (older snapshots remain in the log), and a stats probe.
type Store interface {
	// LoadLatest returns the highest-version snapshot durably
	// acknowledged for streamID, consulting a hot cache first when one
	// is configured.
	LoadLatest(ctx context.Context, streamID string) (LoadResult, error)

	// Save appends a new snapshot; older snapshots for the same stream
	// are never overwritten or deleted.
	Save(ctx context.Context, streamID string, snap Snapshot) error

	// GetStats reports whether a snapshot exists and its version,
	// without loading the encoded state.
	GetStats(ctx context.Context, streamID string) (Stats, error)
}
