// Package redis is a Redis-backed checkpoint.Store. SetIfNewer is a
// server-side Lua script so the compare-and-advance is atomic even under
// concurrent writers racing for the same subscription key.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/corestratum/eventcore"
	"github.com/corestratum/eventcore/checkpoint"
)

// setIfNewerScript compares the incoming commit against the stored one
// (or an absent key) and only writes when the incoming value is not
// smaller, so a regression can never win a race.
var setIfNewerScript = redis.NewScript(`
local key = KEYS[1]
local commit = ARGV[1]
local prepare = ARGV[2]
local updatedAt = ARGV[3]
local stored = redis.call('HGET', key, 'commit')
if stored == false or tonumber(commit) >= tonumber(stored) then
  redis.call('HSET', key, 'commit', commit, 'prepare', prepare, 'updated_at', updatedAt)
  return 1
end
return 0
`)

// Store is a Redis-backed checkpoint.Store.
type Store struct {
	client    redis.Cmdable
	envPrefix string
}

// New creates a Store scoped to client and envPrefix (e.g. "prod:").
func New(client redis.Cmdable, envPrefix string) *Store {
	return &Store{client: client, envPrefix: envPrefix}
}

var _ checkpoint.Store = (*Store)(nil)

func (s *Store) key(subscriptionID string) string {
	return checkpoint.Key(s.envPrefix, subscriptionID)
}

func (s *Store) Get(ctx context.Context, key string) (checkpoint.Checkpoint, bool, error) {
	res, err := s.client.HGetAll(ctx, s.key(key)).Result()
	if err != nil {
		return checkpoint.Checkpoint{}, false, fmt.Errorf("checkpoint/redis: get: %w", err)
	}
	if len(res) == 0 {
		return checkpoint.Checkpoint{}, false, nil
	}
	cp, err := parseCheckpoint(key, res)
	if err != nil {
		return checkpoint.Checkpoint{}, false, err
	}
	return cp, true, nil
}

func (s *Store) Set(ctx context.Context, key string, position eventcore.Position, ttl time.Duration) error {
	k := s.key(key)
	fields := map[string]any{
		"commit":     strconv.FormatUint(position.Commit, 10),
		"prepare":    strconv.FormatUint(position.Prepare, 10),
		"updated_at": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := s.client.HSet(ctx, k, fields).Err(); err != nil {
		return fmt.Errorf("checkpoint/redis: set: %w", err)
	}
	if ttl > 0 {
		if err := s.client.Expire(ctx, k, ttl).Err(); err != nil {
			return fmt.Errorf("checkpoint/redis: set expire: %w", err)
		}
	}
	return nil
}

func (s *Store) SetIfNewer(ctx context.Context, key string, position eventcore.Position, ttl time.Duration) (bool, error) {
	k := s.key(key)
	res, err := setIfNewerScript.Run(ctx, s.client, []string{k},
		strconv.FormatUint(position.Commit, 10),
		strconv.FormatUint(position.Prepare, 10),
		time.Now().UTC().Format(time.RFC3339Nano),
	).Int()
	if err != nil {
		return false, fmt.Errorf("checkpoint/redis: set if newer: %w", err)
	}
	if res == 1 && ttl > 0 {
		if err := s.client.Expire(ctx, k, ttl).Err(); err != nil {
			return true, fmt.Errorf("checkpoint/redis: set if newer expire: %w", err)
		}
	}
	return res == 1, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("checkpoint/redis: delete: %w", err)
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("checkpoint/redis: exists: %w", err)
	}
	return n > 0, nil
}

func (s *Store) Scan(ctx context.Context, prefix string) ([]string, error) {
	pattern := s.key(prefix) + "*"
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("checkpoint/redis: scan: %w", err)
	}
	return keys, nil
}

func (s *Store) GetAll(ctx context.Context, prefix string) ([]checkpoint.Checkpoint, error) {
	keys, err := s.Scan(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]checkpoint.Checkpoint, 0, len(keys))
	for _, k := range keys {
		res, err := s.client.HGetAll(ctx, k).Result()
		if err != nil {
			return nil, fmt.Errorf("checkpoint/redis: get all: %w", err)
		}
		cp, err := parseCheckpoint(k, res)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

func (s *Store) Clear(ctx context.Context, prefix string) error {
	keys, err := s.Scan(ctx, prefix)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("checkpoint/redis: clear: %w", err)
	}
	return nil
}

func parseCheckpoint(subscriptionID string, fields map[string]string) (checkpoint.Checkpoint, error) {
	commit, err := strconv.ParseUint(fields["commit"], 10, 64)
	if err != nil {
		return checkpoint.Checkpoint{}, fmt.Errorf("checkpoint/redis: parse commit: %w", err)
	}
	prepare, err := strconv.ParseUint(fields["prepare"], 10, 64)
	if err != nil {
		return checkpoint.Checkpoint{}, fmt.Errorf("checkpoint/redis: parse prepare: %w", err)
	}
	updatedAt, _ := time.Parse(time.RFC3339Nano, fields["updated_at"])
	return checkpoint.Checkpoint{
		SubscriptionID: subscriptionID,
		Position:       eventcore.Position{Commit: commit, Prepare: prepare},
		UpdatedAt:      updatedAt,
	}, nil
}
