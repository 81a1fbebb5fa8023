package api_test

import (
	"errors"
	"testing"
	"time"

	"parcel/internal/api"
	"parcel/internal/bundle"
	"parcel/internal/services"
)

func TestParseCreateRequest(t *testing.T) {
	in, err := api.ParseCreateRequest(api.CreateBundleRequest{
		ID:        "  b1 ",
		AssetIDs:  []string{"a.bin"},
		ExpiresIn: "36h",
		ExpiresAt: "2026-06-01T00:00:00Z",
	})
	if err != nil {
		t.Fatalf("ParseCreateRequest: %v", err)
	}
	if in.ID != "b1" || in.ExpiresIn != 36*time.Hour {
		t.Fatalf("unexpected input %+v", in)
	}
	if in.ExpiresAt == nil || !in.ExpiresAt.Equal(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected expiresAt %v", in.ExpiresAt)
	}

	for _, body := range []api.CreateBundleRequest{
		{ExpiresIn: "soon"},
		{ExpiresAt: "tomorrow"},
	} {
		if _, err := api.ParseCreateRequest(body); !errors.Is(err, services.ErrValidation) {
			t.Fatalf("expected validation error for %+v, got %v", body, err)
		}
	}
}

func TestParseStatuses(t *testing.T) {
	got, err := api.ParseStatuses([]string{"ready, failed", "", "revoked"})
	if err != nil {
		t.Fatalf("ParseStatuses: %v", err)
	}
	want := []bundle.Status{bundle.StatusReady, bundle.StatusFailed, bundle.StatusRevoked}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
	if _, err := api.ParseStatuses([]string{"bogus"}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
