package progress_test

import (
	"math"
	"testing"
	"time"

	"parcel/internal/bundle"
	"parcel/internal/progress"
)

func TestPercentage(t *testing.T) {
	cases := []struct {
		completed, total int
		want             float64
	}{
		{0, 0, 0},
		{0, 4, 0},
		{1, 3, 100.0 / 3},
		{3, 3, 100},
	}
	for _, tc := range cases {
		req := &bundle.Request{CompletedChunks: tc.completed, TotalChunks: tc.total}
		if got := progress.Percentage(req); math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("Percentage(%d/%d) = %v, want %v", tc.completed, tc.total, got, tc.want)
		}
	}
	if progress.Percentage(nil) != 0 {
		t.Fatal("nil request should be 0%")
	}
}

func TestIsStalled(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	threshold := 2 * time.Minute
	cases := []struct {
		name   string
		status bundle.Status
		idle   time.Duration
		want   bool
	}{
		{"chunking idle", bundle.StatusChunking, 3 * time.Minute, true},
		{"assembling idle", bundle.StatusAssembling, 3 * time.Minute, true},
		{"chunking at threshold", bundle.StatusChunking, 2 * time.Minute, false},
		{"pending idle", bundle.StatusPending, time.Hour, false},
		{"ready idle", bundle.StatusReady, time.Hour, false},
	}
	for _, tc := range cases {
		req := &bundle.Request{Status: tc.status, LastProgressAt: now.Add(-tc.idle)}
		if got := progress.IsStalled(req, now, threshold); got != tc.want {
			t.Fatalf("%s: got %v want %v", tc.name, got, tc.want)
		}
	}
}

func TestEstimateETA(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	started := now.Add(-10 * time.Minute)

	none := &bundle.Request{Status: bundle.StatusChunking, TotalChunks: 4, StartedAt: &started, LastProgressAt: started}
	if eta := progress.EstimateETA(none, now); eta != (progress.ETA{}) {
		t.Fatalf("expected zero ETA before any completion, got %+v", eta)
	}

	// Two chunks in ten minutes leaves two chunks at five minutes each.
	half := &bundle.Request{
		Status:          bundle.StatusChunking,
		TotalChunks:     4,
		CompletedChunks: 2,
		StartedAt:       &started,
		LastProgressAt:  now,
	}
	eta := progress.EstimateETA(half, now)
	if eta.MinMinutes != 7 || eta.MaxMinutes != 13 {
		t.Fatalf("unexpected ETA band %+v", eta)
	}

	done := *half
	done.CompletedChunks = 4
	done.Status = bundle.StatusReady
	if eta := progress.EstimateETA(&done, now); eta != (progress.ETA{}) {
		t.Fatalf("expected zero ETA when finished, got %+v", eta)
	}
}
