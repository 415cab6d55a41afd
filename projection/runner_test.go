package projection_test

import (
	"context"
	"testing"
	"time"

	"github.com/corestratum/eventcore"
	"github.com/corestratum/eventcore/checkpoint"
	memlog "github.com/corestratum/eventcore/eventlog/mem"
	"github.com/corestratum/eventcore/projection"
)

type memCheckpointStore struct {
	byKey map[string]checkpoint.Checkpoint
}

func newMemCheckpointStore() *memCheckpointStore {
	return &memCheckpointStore{byKey: map[string]checkpoint.Checkpoint{}}
}

func (m *memCheckpointStore) Get(_ context.Context, key string) (checkpoint.Checkpoint, bool, error) {
	cp, ok := m.byKey[key]
	return cp, ok, nil
}

func (m *memCheckpointStore) Set(_ context.Context, key string, position eventcore.Position, _ time.Duration) error {
	m.byKey[key] = checkpoint.Checkpoint{SubscriptionID: key, Position: position, UpdatedAt: time.Now()}
	return nil
}

func (m *memCheckpointStore) SetIfNewer(_ context.Context, key string, position eventcore.Position, _ time.Duration) (bool, error) {
	existing, ok := m.byKey[key]
	if ok && !existing.Position.Less(position) && existing.Position != position {
		return false, nil
	}
	m.byKey[key] = checkpoint.Checkpoint{SubscriptionID: key, Position: position, UpdatedAt: time.Now()}
	return true, nil
}

func (m *memCheckpointStore) Delete(_ context.Context, key string) error {
	delete(m.byKey, key)
	return nil
}

func (m *memCheckpointStore) Exists(_ context.Context, key string) (bool, error) {
	_, ok := m.byKey[key]
	return ok, nil
}

func (m *memCheckpointStore) Scan(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	for k := range m.byKey {
		keys = append(keys, k)
	}
	return keys, nil
}

func (m *memCheckpointStore) GetAll(_ context.Context, prefix string) ([]checkpoint.Checkpoint, error) {
	var out []checkpoint.Checkpoint
	for _, cp := range m.byKey {
		out = append(out, cp)
	}
	return out, nil
}

func (m *memCheckpointStore) Clear(_ context.Context, prefix string) error {
	m.byKey = map[string]checkpoint.Checkpoint{}
	return nil
}

var _ checkpoint.Store = (*memCheckpointStore)(nil)

func TestRunner_StartThenStop_TransitionsState(t *testing.T) {
	log := memlog.New()
	cps := newMemCheckpointStore()
	cfg := projection.DefaultConfig
	cfg.BatchLinger = 5 * time.Millisecond

	runner := projection.NewRunner("test-sub", "orders.", log, cps, nil, cfg, nil)
	if runner.State() != projection.StateIdle {
		t.Fatalf("expected idle before start, got %s", runner.State())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := runner.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Allow the run loop to observe the empty stream and settle into
	// catchingUp/live before stopping.
	time.Sleep(20 * time.Millisecond)

	runner.Stop()
	if runner.State() != projection.StateStopped {
		t.Fatalf("expected stopped after Stop, got %s", runner.State())
	}
}

func TestRunner_DoubleStart_Errors(t *testing.T) {
	log := memlog.New()
	cps := newMemCheckpointStore()
	runner := projection.NewRunner("test-sub-2", "orders.", log, cps, nil, projection.DefaultConfig, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := runner.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer runner.Stop()

	if err := runner.Start(ctx); err == nil {
		t.Fatal("expected error starting an already-running runner")
	}
}
