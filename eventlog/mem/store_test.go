package mem_test

import (
	"context"
	"errors"
	"testing"

	"github.com/corestratum/eventcore"
	"github.com/corestratum/eventcore/eventlog"
	"github.com/corestratum/eventcore/eventlog/mem"
)

func TestClient_AppendLoadVersion(t *testing.T) {
	ctx := context.Background()
	c := mem.New()

	res, err := c.Append(ctx, "Stream:1", eventlog.RevisionNoStream, []eventcore.EventToAppend{
		{Type: "Opened", Data: []byte(`{"id":"1"}`)},
	}, nil)
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if res.LastRevision != 0 {
		t.Fatalf("expected revision 0, got %d", res.LastRevision)
	}

	res, err = c.Append(ctx, "Stream:1", res.LastRevision, []eventcore.EventToAppend{
		{Type: "Added", Data: []byte(`{"n":5}`)},
	}, nil)
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if res.LastRevision != 1 {
		t.Fatalf("expected revision 1, got %d", res.LastRevision)
	}

	it, err := c.ReadForward(ctx, "Stream:1", 0, 0)
	if err != nil {
		t.Fatalf("read forward failed: %v", err)
	}
	defer it.Close()

	var got []eventcore.Event
	for {
		ev, ok, err := it.Next(ctx)
		if err != nil {
			t.Fatalf("next failed: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, ev)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].StreamRevision != 0 || got[1].StreamRevision != 1 {
		t.Fatalf("unexpected revisions: %+v", got)
	}
}

func TestClient_VersionConflict(t *testing.T) {
	ctx := context.Background()
	c := mem.New()

	if _, err := c.Append(ctx, "Stream:1", eventlog.RevisionNoStream, []eventcore.EventToAppend{{Type: "Opened"}}, nil); err != nil {
		t.Fatalf("first append failed: %v", err)
	}

	_, err := c.Append(ctx, "Stream:1", eventlog.RevisionNoStream, []eventcore.EventToAppend{{Type: "Opened"}}, nil)
	if err == nil {
		t.Fatal("expected version conflict error")
	}
	var conflictErr *eventcore.VersionConflictError
	if !errors.As(err, &conflictErr) {
		t.Fatalf("expected *VersionConflictError, got %T: %v", err, err)
	}
}

func TestClient_ReadForward_EmptyStream(t *testing.T) {
	ctx := context.Background()
	c := mem.New()

	it, err := c.ReadForward(ctx, "Stream:missing", 0, 0)
	if err != nil {
		t.Fatalf("read forward failed: %v", err)
	}
	defer it.Close()

	_, ok, err := it.Next(ctx)
	if err != nil {
		t.Fatalf("next failed: %v", err)
	}
	if ok {
		t.Fatal("expected empty sequence for missing stream")
	}
}
