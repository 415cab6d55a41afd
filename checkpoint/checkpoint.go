// Package checkpoint is the crash-safe, monotonic position store keyed
// by subscription identifier (C3 in the core design). Implementations
// MUST make setIfNewer atomic end to end so the monotonic invariant
// holds under concurrent writers.
package checkpoint

import (
	"context"
	"time"

	"github.com/corestratum/eventcore"
)

// Checkpoint is a durable position marker for one subscription.
type Checkpoint struct {
	SubscriptionID string
	Position       eventcore.Position
	UpdatedAt      time.Time
}

// Store is the C3 contract.
type Store interface {
	// Get returns the current checkpoint for key, or ok=false if none
	// exists.
	Get(ctx context.Context, key string) (cp Checkpoint, ok bool, err error)

	// Set writes position unconditionally.
	Set(ctx context.Context, key string, position eventcore.Position, ttl time.Duration) error

	// SetIfNewer writes position only if the store is empty or
	// position.Commit is not less than the stored commit. Returns
	// whether the write was accepted. MUST be atomic end to end.
	SetIfNewer(ctx context.Context, key string, position eventcore.Position, ttl time.Duration) (updated bool, err error)

	// Delete removes the checkpoint for key.
	Delete(ctx context.Context, key string) error

	// Exists reports whether a checkpoint exists for key.
	Exists(ctx context.Context, key string) (bool, error)

	// Scan returns every key under prefix.
	Scan(ctx context.Context, prefix string) ([]string, error)

	// GetAll returns every checkpoint under prefix.
	GetAll(ctx context.Context, prefix string) ([]Checkpoint, error)

	// Clear deletes every checkpoint under prefix.
	Clear(ctx context.Context, prefix string) error
}

// Key namespaces a subscription id by environment, per SPEC_FULL.md §4.3:
// "<envPrefix>checkpoint:<subscriptionId>".
func Key(envPrefix, subscriptionID string) string {
	return envPrefix + "checkpoint:" + subscriptionID
}
