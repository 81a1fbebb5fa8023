package main

import (
	"context"
	"testing"

	"parcel/internal/logging"
	"parcel/internal/testsupport"
)

func TestBootstrapWiresDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIBind = ""

	rt, err := bootstrap(context.Background(), cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	t.Cleanup(func() {
		if err := rt.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})

	status := rt.daemon.Status(context.Background())
	if status.Running {
		t.Fatal("daemon should not run before Start")
	}
	if status.DatabasePath != cfg.DatabasePath() {
		t.Fatalf("unexpected database path %q", status.DatabasePath)
	}
	health := status.Workflow.Health
	if len(health) != 4 {
		t.Fatalf("expected store and bucket health checks, got %+v", health)
	}
	for _, h := range health {
		if !h.Ready {
			t.Fatalf("expected %s ready, got %s", h.Name, h.Detail)
		}
	}
}

func TestBootstrapFailsOnBadBucket(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Storage.AssetBucket = "nosuchscheme://assets"

	if _, err := bootstrap(context.Background(), cfg, logging.NewNop()); err == nil {
		t.Fatal("expected bootstrap to fail on an unknown bucket scheme")
	}
}
