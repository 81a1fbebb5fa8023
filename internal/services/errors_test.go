package services_test

import (
	"errors"
	"strings"
	"testing"

	"parcel/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrTransient, "worker", "fetch asset", "read failed", base)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"worker", "fetch asset", "read failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient default marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected placeholder detail, got %q", err.Error())
	}
}

func TestKind(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{services.Wrap(services.ErrPlanning, "planner", "plan", "empty", nil), "planning"},
		{services.Wrap(services.ErrUnavailable, "store", "get", "", errors.New("locked")), "unavailable"},
		{services.Wrap(services.ErrPermanent, "worker", "chunk", "", nil), "permanent"},
		{services.Wrap(services.ErrConflict, "store", "create", "taken", nil), "conflict"},
		{errors.New("plain"), "unknown"},
	}
	for _, tc := range cases {
		if got := services.Kind(tc.err); got != tc.want {
			t.Fatalf("Kind(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestDetailsStripsMarker(t *testing.T) {
	err := services.Wrap(services.ErrPermanent, "archive", "finalize", "segment missing", nil)
	details := services.Details(err)
	if details.Kind != "permanent" {
		t.Fatalf("expected permanent kind, got %q", details.Kind)
	}
	if details.Message != "archive: finalize: segment missing" {
		t.Fatalf("unexpected message %q", details.Message)
	}
	if got := services.Details(nil); got.Kind != "" || got.Message != "" {
		t.Fatalf("expected empty details for nil, got %+v", got)
	}
}
