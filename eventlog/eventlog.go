// Package eventlog defines the abstract append/read-forward/
// read-backward/subscribe contract over a log of versioned streams
// (C1 in the core design): the single append-only source of truth that
// aggregate rehydration and projections both read from.
package eventlog

import (
	"context"
	"fmt"

	"github.com/corestratum/eventcore"
)

// RevisionAny tells Append to skip the optimistic-concurrency check.
const RevisionAny int64 = -1

// RevisionNoStream requires the stream to not yet exist.
const RevisionNoStream int64 = -2

// RevisionStreamExists requires the stream to already exist, at any
// revision.
const RevisionStreamExists int64 = -3

// AppendResult is returned by a successful Append.
type AppendResult struct {
	FirstRevision int64
	LastRevision  int64
	LastPosition  eventcore.Position
}

// EventIterator is a cancellable, lazy sequence of events. Next blocks
// until an event is available, the sequence ends (Next returns
// io.EOF-equivalent via the ok bool), or ctx is cancelled. Close is
// idempotent and MUST be called once the caller is done, even on error.
type EventIterator interface {
	// Next returns the next event. ok is false once the sequence has
	// ended (for ReadForward/ReadBackward) or will never end again
	// because the iterator was closed.
	Next(ctx context.Context) (ev eventcore.Event, ok bool, err error)

	// Close releases resources. Idempotent.
	Close() error
}

// Client is the abstract event log: append, forward/backward reads, and
// category or single-stream subscriptions.
type Client interface {
	// Append writes events atomically to stream, conditioned on
	// expectedRevision (a concrete revision, or one of the Revision*
	// sentinels). Returns *eventcore.VersionConflictError if the
	// stream's current head doesn't match.
	Append(ctx context.Context, stream string, expectedRevision int64, events []eventcore.EventToAppend, md eventcore.Metadata) (AppendResult, error)

	// ReadForward returns an iterator over stream starting at fromRevision
	// (inclusive), strictly increasing in revision. limit <= 0 means no
	// limit. A stream that doesn't exist yields an immediately-exhausted
	// iterator, not an error.
	ReadForward(ctx context.Context, stream string, fromRevision int64, limit int) (EventIterator, error)

	// ReadBackward returns an iterator over stream from its current head
	// down to (head-limit+1), strictly decreasing in revision. Used for
	// tail probes; limit must be > 0.
	ReadBackward(ctx context.Context, stream string, limit int) (EventIterator, error)

	// Subscribe opens a live subscription to stream (a single stream
	// name, or a category prefix understood by the backend) starting
	// after fromPosition. Delivers historical events then live ones;
	// the same event may be redelivered after a reconnect.
	Subscribe(ctx context.Context, stream string, fromPosition eventcore.Position) (EventIterator, error)
}

// ErrStreamCategory is returned by backends that cannot resolve a
// category subscription for the given prefix.
type ErrStreamCategory struct{ Prefix string }

func (e *ErrStreamCategory) Error() string {
	return fmt.Sprintf("eventlog: cannot subscribe to category %q", e.Prefix)
}
