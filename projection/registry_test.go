package projection_test

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"

	"github.com/corestratum/eventcore"
	"github.com/corestratum/eventcore/projection"
)

func TestRegistry_LookupMissing(t *testing.T) {
	r := projection.NewRegistry()
	if _, ok := r.Lookup("NoSuchType"); ok {
		t.Fatal("expected no handler for unregistered type")
	}
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := projection.NewRegistry()
	r.Register("Created", func(ctx context.Context, tx pgx.Tx, decoded any, ev eventcore.Event) error { return nil })
	if _, ok := r.Lookup("Created"); !ok {
		t.Fatal("expected handler to be registered")
	}
}

func TestState_String(t *testing.T) {
	cases := map[projection.State]string{
		projection.StateIdle:       "idle",
		projection.StateCatchingUp: "catchingUp",
		projection.StateLive:       "live",
		projection.StatePaused:     "paused",
		projection.StateStopped:    "stopped",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
