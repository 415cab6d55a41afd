// Package pgx is a Postgres-backed snapshotstore.Store, adapted from the
// teacher library's pgx snapshot persistence but append-only per
// SPEC_FULL.md §4.2: every Save inserts a new row rather than upserting,
// so older snapshots remain in the log as the spec's data-model
// invariant requires. An optional Redis hot cache mirrors the latest
// snapshot.
package pgx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/corestratum/eventcore/snapshotstore"
)

// Store is a Postgres-backed snapshotstore.Store against the
// "snapshots" table described in SPEC_FULL.md §6.
type Store struct {
	pool  *pgxpool.Pool
	cache *redis.Client
	ttl   time.Duration
}

// Option configures Store.
type Option func(*Store)

// WithCache enables a Redis hot cache for LoadLatest, mirroring the
// latest snapshot under key "snapcache:<streamID>" with ttl expiry.
func WithCache(client *redis.Client, ttl time.Duration) Option {
	return func(s *Store) {
		s.cache = client
		s.ttl = ttl
	}
}

// New creates a Postgres-backed Store.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{pool: pool, ttl: 10 * time.Minute}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ snapshotstore.Store = (*Store)(nil)

type cacheEntry struct {
	State          []byte    `json:"state"`
	Version        int64     `json:"version"`
	StreamPosition int64     `json:"stream_position"`
	TakenAt        time.Time `json:"taken_at"`
}

func (s *Store) cacheKey(streamID string) string { return "snapcache:" + streamID }

func (s *Store) LoadLatest(ctx context.Context, streamID string) (snapshotstore.LoadResult, error) {
	if s.cache != nil {
		if snap, ok := s.loadFromCache(ctx, streamID); ok {
			return snapshotstore.LoadResult{Snapshot: snap, CacheHit: true}, nil
		}
	}

	row := s.pool.QueryRow(ctx,
		`SELECT state, version, stream_position, taken_at FROM snapshots
		 WHERE stream_id = $1 ORDER BY version DESC LIMIT 1`,
		streamID,
	)
	var (
		state   []byte
		version int64
		strmPos int64
		takenAt time.Time
	)
	if err := row.Scan(&state, &version, &strmPos, &takenAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return snapshotstore.LoadResult{}, nil
		}
		return snapshotstore.LoadResult{}, fmt.Errorf("snapshotstore/pgx: load latest: %w", err)
	}

	snap := &snapshotstore.Snapshot{
		StreamID:       streamID,
		State:          state,
		Version:        version,
		StreamPosition: strmPos,
		TakenAt:        takenAt,
	}
	if s.cache != nil {
		s.storeToCache(ctx, streamID, snap)
	}
	return snapshotstore.LoadResult{Snapshot: snap}, nil
}

func (s *Store) Save(ctx context.Context, streamID string, snap snapshotstore.Snapshot) error {
	takenAt := snap.TakenAt
	if takenAt.IsZero() {
		takenAt = time.Now()
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO snapshots (stream_id, version, stream_position, state, taken_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		streamID, snap.Version, snap.StreamPosition, snap.State, takenAt,
	); err != nil {
		return fmt.Errorf("snapshotstore/pgx: save: %w", err)
	}
	if s.cache != nil {
		cp := snap
		cp.StreamID = streamID
		cp.TakenAt = takenAt
		s.storeToCache(ctx, streamID, &cp)
	}
	return nil
}

func (s *Store) GetStats(ctx context.Context, streamID string) (snapshotstore.Stats, error) {
	var version int64
	err := s.pool.QueryRow(ctx,
		`SELECT version FROM snapshots WHERE stream_id = $1 ORDER BY version DESC LIMIT 1`,
		streamID,
	).Scan(&version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return snapshotstore.Stats{}, nil
		}
		return snapshotstore.Stats{}, fmt.Errorf("snapshotstore/pgx: get stats: %w", err)
	}
	return snapshotstore.Stats{Exists: true, Version: version}, nil
}

func (s *Store) loadFromCache(ctx context.Context, streamID string) (*snapshotstore.Snapshot, bool) {
	raw, err := s.cache.Get(ctx, s.cacheKey(streamID)).Bytes()
	if err != nil {
		// redis.Nil on miss, any other error is treated as a cold cache
		// too: the hot cache is advisory and must never affect
		// correctness.
		return nil, false
	}
	var entry cacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, false
	}
	return &snapshotstore.Snapshot{
		StreamID:       streamID,
		State:          entry.State,
		Version:        entry.Version,
		StreamPosition: entry.StreamPosition,
		TakenAt:        entry.TakenAt,
	}, true
}

func (s *Store) storeToCache(ctx context.Context, streamID string, snap *snapshotstore.Snapshot) {
	data, err := json.Marshal(cacheEntry{
		State:          snap.State,
		Version:        snap.Version,
		StreamPosition: snap.StreamPosition,
		TakenAt:        snap.TakenAt,
	})
	if err != nil {
		return
	}
	// Best-effort: a failed cache write never fails the save/load path.
	_ = s.cache.Set(ctx, s.cacheKey(streamID), data, s.ttl).Err()
}
