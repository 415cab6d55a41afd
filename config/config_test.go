package config_test

import (
	"os"
	"testing"

	"github.com/corestratum/eventcore/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Projection.BatchMax != 128 {
		t.Fatalf("expected default batch max 128, got %d", cfg.Projection.BatchMax)
	}
	if cfg.NATS.Service != "eventcore" {
		t.Fatalf("expected default service name, got %q", cfg.NATS.Service)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("EVENTCORE_NATS_SERVICE", "ledgerdemo")
	t.Setenv("EVENTCORE_PROJECTION_BATCH_MAX", "256")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.NATS.Service != "ledgerdemo" {
		t.Fatalf("expected overridden service name, got %q", cfg.NATS.Service)
	}
	if cfg.Projection.BatchMax != 256 {
		t.Fatalf("expected overridden batch max, got %d", cfg.Projection.BatchMax)
	}
}

func TestLoad_InvalidConfig(t *testing.T) {
	t.Setenv("EVENTCORE_NATS_SERVICE", "")
	if _, err := config.Load(); err == nil {
		t.Fatal("expected validation error for empty service name")
	}
	os.Unsetenv("EVENTCORE_NATS_SERVICE")
}
