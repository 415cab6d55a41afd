package repository_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/corestratum/eventcore"
	"github.com/corestratum/eventcore/eventlog"
	memlog "github.com/corestratum/eventcore/eventlog/mem"
	"github.com/corestratum/eventcore/repository"
	"github.com/corestratum/eventcore/snapshotstore"
)

type balanceState struct {
	Balance int64
}

type deposited struct{ Amount int64 }
type withdrawn struct{ Amount int64 }

func (deposited) EventType() string { return "Deposited" }
func (withdrawn) EventType() string { return "Withdrawn" }

var balanceReducer = eventcore.ReducerFunc[balanceState]{
	InitialFunc: func() balanceState { return balanceState{} },
	ApplyFunc: func(s balanceState, e any) balanceState {
		switch ev := e.(type) {
		case deposited:
			s.Balance += ev.Amount
		case withdrawn:
			s.Balance -= ev.Amount
		}
		return s
	},
}

// memSnapshotStore is a minimal in-memory snapshotstore.Store fake for
// exercising Load's snapshot-plus-replay composition without Postgres.
type memSnapshotStore struct {
	byStream map[string][]snapshotstore.Snapshot
}

func newMemSnapshotStore() *memSnapshotStore {
	return &memSnapshotStore{byStream: map[string][]snapshotstore.Snapshot{}}
}

func (m *memSnapshotStore) LoadLatest(_ context.Context, streamID string) (snapshotstore.LoadResult, error) {
	list := m.byStream[streamID]
	if len(list) == 0 {
		return snapshotstore.LoadResult{}, nil
	}
	latest := list[len(list)-1]
	return snapshotstore.LoadResult{Snapshot: &latest}, nil
}

func (m *memSnapshotStore) Save(_ context.Context, streamID string, snap snapshotstore.Snapshot) error {
	m.byStream[streamID] = append(m.byStream[streamID], snap)
	return nil
}

func (m *memSnapshotStore) GetStats(_ context.Context, streamID string) (snapshotstore.Stats, error) {
	list := m.byStream[streamID]
	if len(list) == 0 {
		return snapshotstore.Stats{}, nil
	}
	return snapshotstore.Stats{Exists: true, Version: list[len(list)-1].Version}, nil
}

var _ snapshotstore.Store = (*memSnapshotStore)(nil)

type jsonStateCodec struct{}

func (jsonStateCodec) Encode(v any) ([]byte, error) { return json.Marshal(v) }
func (jsonStateCodec) Decode(b []byte) (any, error) {
	var s balanceState
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, err
	}
	return s, nil
}

func newRepo(t *testing.T, log eventlog.Client, snaps snapshotstore.Store) *repository.Repository[balanceState] {
	t.Helper()
	codec := eventcore.CodecRegistry{
		"Deposited": eventcore.JSONCodec[deposited](),
		"Withdrawn": eventcore.JSONCodec[withdrawn](),
	}
	return repository.New[balanceState](log, snaps, codec, jsonStateCodec{}, balanceReducer)
}

func TestRepository_Load_EmptyStream(t *testing.T) {
	ctx := context.Background()
	log := memlog.New()
	repo := newRepo(t, log, newMemSnapshotStore())

	result, err := repo.Load(ctx, "acct-1", "snap.acct-1", repository.LoadOptions{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if result.Version != -1 {
		t.Fatalf("expected version -1 for empty stream, got %d", result.Version)
	}
	if result.State.Balance != 0 {
		t.Fatalf("expected zero balance, got %d", result.State.Balance)
	}
}

func TestRepository_Load_SnapshotPlusReplay(t *testing.T) {
	ctx := context.Background()
	log := memlog.New()
	codec := eventcore.CodecRegistry{
		"Deposited": eventcore.JSONCodec[deposited](),
		"Withdrawn": eventcore.JSONCodec[withdrawn](),
	}

	appendEvent := func(stream string, typ string, v any) {
		_, data, err := codec.Encode(v)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if _, err := log.Append(ctx, stream, eventlog.RevisionAny, []eventcore.EventToAppend{{Type: typ, Data: data}}, nil); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	stream := "acct-2"
	appendEvent(stream, "Deposited", deposited{Amount: 100})
	appendEvent(stream, "Deposited", deposited{Amount: 50})
	appendEvent(stream, "Withdrawn", withdrawn{Amount: 30})

	snaps := newMemSnapshotStore()
	repo := newRepo(t, log, snaps)

	// Take a snapshot covering only the first event (version 0), then
	// confirm replay picks up from revision 1 onward.
	if err := repo.SaveSnapshot(ctx, stream, "snap."+stream, balanceState{Balance: 100}, 0, 0); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}

	result, err := repo.Load(ctx, stream, "snap."+stream, repository.LoadOptions{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if result.Version != 2 {
		t.Fatalf("expected version 2 after replay, got %d", result.Version)
	}
	if result.State.Balance != 120 {
		t.Fatalf("expected balance 120 (100 snapshot + 50 - 30), got %d", result.State.Balance)
	}
}

func TestRepository_GetStats(t *testing.T) {
	ctx := context.Background()
	log := memlog.New()
	codec := eventcore.CodecRegistry{"Deposited": eventcore.JSONCodec[deposited]()}
	_, data, err := codec.Encode(deposited{Amount: 10})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := log.Append(ctx, "acct-3", eventlog.RevisionAny, []eventcore.EventToAppend{{Type: "Deposited", Data: data}}, nil); err != nil {
		t.Fatalf("append: %v", err)
	}

	repo := newRepo(t, log, newMemSnapshotStore())
	stats, err := repo.GetStats(ctx, "acct-3", "snap.acct-3")
	if err != nil {
		t.Fatalf("get stats: %v", err)
	}
	if !stats.StreamExists {
		t.Fatal("expected stream to exist")
	}
	if stats.EventsSinceSnapshot != 1 {
		t.Fatalf("expected 1 event since (absent) snapshot, got %d", stats.EventsSinceSnapshot)
	}
}

// TestRepository_Load_ReducerPanic_RebuildFailed covers spec scenario 5:
// a reducer that panics while applying an event must not crash the
// caller — Load recovers and reports RebuildFailedError naming the
// failing event.
func TestRepository_Load_ReducerPanic_RebuildFailed(t *testing.T) {
	ctx := context.Background()
	log := memlog.New()
	codec := eventcore.CodecRegistry{
		"Deposited": eventcore.JSONCodec[deposited](),
		"Withdrawn": eventcore.JSONCodec[withdrawn](),
	}

	appendEvent := func(stream string, typ string, v any) uuid.UUID {
		_, data, err := codec.Encode(v)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		id := uuid.New()
		if _, err := log.Append(ctx, stream, eventlog.RevisionAny, []eventcore.EventToAppend{{ID: id, Type: typ, Data: data}}, nil); err != nil {
			t.Fatalf("append: %v", err)
		}
		return id
	}

	stream := "acct-panic"
	appendEvent(stream, "Deposited", deposited{Amount: 10})
	failingID := appendEvent(stream, "Withdrawn", withdrawn{Amount: 999})

	panicReducer := eventcore.ReducerFunc[balanceState]{
		InitialFunc: func() balanceState { return balanceState{} },
		ApplyFunc: func(s balanceState, e any) balanceState {
			if ev, ok := e.(withdrawn); ok {
				panic(fmt.Sprintf("withdrawal of %d exceeds invariant", ev.Amount))
			}
			return s
		},
	}
	repo := repository.New[balanceState](log, newMemSnapshotStore(), codec, jsonStateCodec{}, panicReducer)

	_, err := repo.Load(ctx, stream, "snap."+stream, repository.LoadOptions{})
	if err == nil {
		t.Fatal("expected error from panicking reducer")
	}
	var rebuildErr *eventcore.RebuildFailedError
	if !errors.As(err, &rebuildErr) {
		t.Fatalf("expected *eventcore.RebuildFailedError, got %T: %v", err, err)
	}
	if rebuildErr.StreamID != stream {
		t.Fatalf("expected StreamID %q, got %q", stream, rebuildErr.StreamID)
	}
	if rebuildErr.FailingEventID != failingID.String() {
		t.Fatalf("expected FailingEventID %q, got %q", failingID.String(), rebuildErr.FailingEventID)
	}
}

func TestShouldTakeSnapshot(t *testing.T) {
	if !repository.ShouldTakeSnapshot(200, nil, repository.DefaultThresholds) {
		t.Fatal("expected threshold hit at event count 200")
	}
	old := time.Now().Add(-10 * time.Minute)
	if !repository.ShouldTakeSnapshot(1, &old, repository.DefaultThresholds) {
		t.Fatal("expected threshold hit on time elapsed")
	}
	recent := time.Now()
	if repository.ShouldTakeSnapshot(1, &recent, repository.DefaultThresholds) {
		t.Fatal("expected no threshold hit")
	}
}
