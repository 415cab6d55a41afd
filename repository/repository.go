// Package repository rehydrates aggregates by composing a snapshot with
// forward replay (C4 in the core design), and decides when a fresh
// snapshot is due.
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/corestratum/eventcore"
	"github.com/corestratum/eventcore/eventlog"
	"github.com/corestratum/eventcore/snapshotstore"
)

// Thresholds controls ShouldTakeSnapshot. The zero value is not usable;
// use DefaultThresholds.
type Thresholds struct {
	EventCount int64
	TimeSince  time.Duration
}

// DefaultThresholds matches the documented defaults: a snapshot every 200
// events, or every 5 minutes, whichever comes first.
var DefaultThresholds = Thresholds{EventCount: 200, TimeSince: 5 * time.Minute}

// LoadResult is the outcome of Load.
type LoadResult[S any] struct {
	State   S
	Version int64
}

// Stats describes a stream and its snapshot coverage without a full
// replay.
type Stats struct {
	StreamExists        bool
	Version             int64
	StreamPosition      eventcore.Position
	SnapshotExists      bool
	SnapshotVersion     int64
	EventsSinceSnapshot int64
}

// LoadOptions carries a caller-owned cancellation channel checked in
// addition to ctx. Closing Cancel aborts Load with eventcore.ErrCancelled,
// the same error Load returns when ctx is done.
type LoadOptions struct {
	Cancel <-chan struct{}
}

// Repository is the C4 contract, generic over the aggregate state type S.
type Repository[S any] struct {
	log        eventlog.Client
	snaps      snapshotstore.Store
	codec      eventcore.CodecRegistry
	stateCodec eventcore.EventCodec
	reduce     eventcore.Reducer[S]
}

// New builds a Repository. codec decodes each eventcore.Event's Data
// bytes into the concrete domain value reducer.Apply expects. stateCodec
// encodes/decodes the snapshotted aggregate state itself, which is not a
// domain event and so is never looked up by type name.
func New[S any](log eventlog.Client, snaps snapshotstore.Store, codec eventcore.CodecRegistry, stateCodec eventcore.EventCodec, reducer eventcore.Reducer[S]) *Repository[S] {
	return &Repository[S]{log: log, snaps: snaps, codec: codec, stateCodec: stateCodec, reduce: reducer}
}

// Load composes the latest snapshot (if any) with forward replay of every
// event recorded after it, per SPEC_FULL.md §4.4.
func (r *Repository[S]) Load(ctx context.Context, streamID, snapID string, opts LoadOptions) (LoadResult[S], error) {
	state := r.reduce.Initial()
	version := int64(-1)

	snapResult, err := r.snaps.LoadLatest(ctx, snapID)
	if err != nil {
		return LoadResult[S]{}, &eventcore.TransientIOError{Op: "snapshotstore.LoadLatest", Cause: err}
	}
	var fromRevision int64
	if snapResult.Snapshot != nil {
		decoded, err := r.stateCodec.Decode(snapResult.Snapshot.State)
		if err != nil {
			return LoadResult[S]{}, &eventcore.RebuildFailedError{StreamID: streamID, Cause: err}
		}
		if s, ok := decoded.(S); ok {
			state = s
		}
		version = snapResult.Snapshot.Version
		fromRevision = snapResult.Snapshot.Version + 1
	}

	it, err := r.log.ReadForward(ctx, streamID, fromRevision, 0)
	if err != nil {
		return LoadResult[S]{}, &eventcore.TransientIOError{Op: "eventlog.ReadForward", Cause: err}
	}
	defer func() { _ = it.Close() }()

	for {
		select {
		case <-opts.Cancel:
			return LoadResult[S]{}, eventcore.ErrCancelled
		case <-ctx.Done():
			return LoadResult[S]{}, eventcore.ErrCancelled
		default:
		}

		ev, ok, err := it.Next(ctx)
		if err != nil {
			return LoadResult[S]{}, &eventcore.TransientIOError{Op: "eventlog.Next", Cause: err}
		}
		if !ok {
			break
		}
		if len(ev.Type) == 0 {
			continue
		}

		decoded, err := r.codec.Decode(ev.Type, ev.Data)
		if err != nil {
			return LoadResult[S]{}, &eventcore.RebuildFailedError{
				StreamID:       streamID,
				FailingEventID: ev.ID.String(),
				Cause:          err,
			}
		}
		state, err = r.safeApply(state, decoded, streamID, ev.ID.String())
		if err != nil {
			return LoadResult[S]{}, err
		}
		version++
	}

	return LoadResult[S]{State: state, Version: version}, nil
}

// safeApply calls reduce.Apply, converting a panic into a
// RebuildFailedError rather than letting a misbehaving reducer crash the
// caller's goroutine, per spec §8 scenario 5.
func (r *Repository[S]) safeApply(state S, decoded any, streamID, failingEventID string) (result S, err error) {
	defer func() {
		if p := recover(); p != nil {
			cause, ok := p.(error)
			if !ok {
				cause = fmt.Errorf("%v", p)
			}
			err = &eventcore.RebuildFailedError{StreamID: streamID, FailingEventID: failingEventID, Cause: cause}
		}
	}()
	return r.reduce.Apply(state, decoded), nil
}

// SaveSnapshot persists state at version, recording streamPosition as the
// log revision it covers.
func (r *Repository[S]) SaveSnapshot(ctx context.Context, streamID, snapID string, state S, version int64, streamPosition int64) error {
	data, err := r.stateCodec.Encode(state)
	if err != nil {
		return err
	}
	return r.snaps.Save(ctx, snapID, snapshotstore.Snapshot{
		StreamID:       snapID,
		State:          data,
		Version:        version,
		StreamPosition: streamPosition,
		TakenAt:        time.Now(),
	})
}

// ShouldTakeSnapshot reports whether a fresh snapshot is due, given how
// many events have been processed since the last one and when it was
// taken. A nil lastSnapshotAt means no snapshot exists yet, in which case
// only the event-count threshold applies.
func ShouldTakeSnapshot(eventsProcessed int64, lastSnapshotAt *time.Time, thresholds Thresholds) bool {
	if eventsProcessed >= thresholds.EventCount {
		return true
	}
	if lastSnapshotAt != nil && time.Since(*lastSnapshotAt) >= thresholds.TimeSince {
		return true
	}
	return false
}

// GetStats reports stream and snapshot coverage without a full replay: a
// single backward read of limit 1 for the head revision, plus a snapshot
// stats lookup.
func (r *Repository[S]) GetStats(ctx context.Context, streamID, snapID string) (Stats, error) {
	var stats Stats

	it, err := r.log.ReadBackward(ctx, streamID, 1)
	if err != nil {
		return Stats{}, &eventcore.TransientIOError{Op: "eventlog.ReadBackward", Cause: err}
	}
	defer func() { _ = it.Close() }()

	head, ok, err := it.Next(ctx)
	if err != nil {
		return Stats{}, &eventcore.TransientIOError{Op: "eventlog.Next", Cause: err}
	}
	if ok {
		stats.StreamExists = true
		stats.Version = head.StreamRevision
		stats.StreamPosition = head.GlobalPosition
	}

	snapStats, err := r.snaps.GetStats(ctx, snapID)
	if err != nil {
		return Stats{}, &eventcore.TransientIOError{Op: "snapshotstore.GetStats", Cause: err}
	}
	stats.SnapshotExists = snapStats.Exists
	stats.SnapshotVersion = snapStats.Version

	switch {
	case snapStats.Exists:
		diff := stats.Version - snapStats.Version
		if diff < 0 {
			diff = 0
		}
		stats.EventsSinceSnapshot = diff
	case stats.StreamExists:
		stats.EventsSinceSnapshot = stats.Version + 1
	default:
		stats.EventsSinceSnapshot = 0
	}

	return stats, nil
}
