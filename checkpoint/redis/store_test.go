package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/corestratum/eventcore"
	"github.com/corestratum/eventcore/checkpoint/redis"
)

func newTestStore(t *testing.T) *redis.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redis.New(client, "test:")
}

func TestStore_SetIfNewer_RejectsRegression(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	updated, err := store.SetIfNewer(ctx, "sub-a", eventcore.Position{Commit: 10}, 0)
	if err != nil || !updated {
		t.Fatalf("first write: updated=%v err=%v", updated, err)
	}

	updated, err = store.SetIfNewer(ctx, "sub-a", eventcore.Position{Commit: 5}, 0)
	if err != nil {
		t.Fatalf("regressed write: %v", err)
	}
	if updated {
		t.Fatal("expected regression to be rejected")
	}

	cp, ok, err := store.Get(ctx, "sub-a")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if cp.Position.Commit != 10 {
		t.Fatalf("commit regressed: got %d", cp.Position.Commit)
	}
}

func TestStore_SetIfNewer_AcceptsAdvance(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if _, err := store.SetIfNewer(ctx, "sub-b", eventcore.Position{Commit: 1}, 0); err != nil {
		t.Fatalf("initial write: %v", err)
	}
	updated, err := store.SetIfNewer(ctx, "sub-b", eventcore.Position{Commit: 2}, 0)
	if err != nil || !updated {
		t.Fatalf("advance: updated=%v err=%v", updated, err)
	}
}

func TestStore_GetAll_ScopesByPrefix(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if err := store.Set(ctx, "orders-proj", eventcore.Position{Commit: 1}, 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.Set(ctx, "billing-proj", eventcore.Position{Commit: 2}, 0); err != nil {
		t.Fatalf("set: %v", err)
	}

	all, err := store.GetAll(ctx, "orders")
	if err != nil {
		t.Fatalf("get all: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 checkpoint under prefix, got %d", len(all))
	}
}

func TestStore_Clear(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if err := store.Set(ctx, "sub-c", eventcore.Position{Commit: 1}, 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.Clear(ctx, "sub-c"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	exists, err := store.Exists(ctx, "sub-c")
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if exists {
		t.Fatal("expected checkpoint to be cleared")
	}
}

func TestStore_Expire(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	if err := store.Set(ctx, "sub-d", eventcore.Position{Commit: 1}, time.Millisecond); err != nil {
		t.Fatalf("set: %v", err)
	}
}
