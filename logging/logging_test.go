package logging_test

import (
	"testing"

	"github.com/corestratum/eventcore/logging"
)

func TestNew_InvalidLevelFallsBackToInfo(t *testing.T) {
	log, err := logging.New("not-a-level", "json")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if log == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestWith_AddsComponentField(t *testing.T) {
	log := logging.Nop()
	child := log.With("projection")
	if child == nil {
		t.Fatal("expected non-nil child logger")
	}
}
