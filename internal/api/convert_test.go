package api_test

import (
	"testing"
	"time"

	"parcel/internal/api"
	"parcel/internal/bundle"
	"parcel/internal/workflow"
)

func TestFromRequestFoldsExpiryAndHidesUnreadyArchive(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	size := int64(2048)
	req := &bundle.Request{
		ID:               "b1",
		Status:           bundle.StatusReady,
		TotalChunks:      4,
		CompletedChunks:  4,
		ExpiresAt:        &past,
		ResultLocation:   "b1.tar.gz",
		ArchiveSizeBytes: &size,
		CreatedAt:        now.Add(-time.Hour),
		LastProgressAt:   now.Add(-30 * time.Minute),
	}
	opts := api.ViewOptions{PublicBaseURL: "https://dl.example", Now: now}

	got := api.FromRequest(req, opts)
	if got.Status != "expired" || got.StoredStatus != "ready" {
		t.Fatalf("expected expired over ready, got %s/%s", got.Status, got.StoredStatus)
	}
	if got.ArchiveURL != "https://dl.example/d/b1/archive" || got.ProgressPercentage != 100 {
		t.Fatalf("unexpected ready fields %+v", got)
	}
	if got.CreatedAt != "2026-05-01T11:00:00.000Z" {
		t.Fatalf("unexpected timestamp format %q", got.CreatedAt)
	}

	chunking := &bundle.Request{ID: "b2", Status: bundle.StatusChunking, TotalChunks: 4, CompletedChunks: 1, ResultLocation: "stale"}
	if view := api.FromRequest(chunking, opts); view.ArchiveURL != "" || view.ProgressPercentage != 25 {
		t.Fatalf("unexpected chunking view %+v", view)
	}
}

func TestFromStatusSummary(t *testing.T) {
	got := api.FromStatusSummary(workflow.StatusSummary{
		Running:     true,
		BundleStats: map[bundle.Status]int{bundle.StatusReady: 2},
		Health: []workflow.ComponentHealth{
			workflow.HealthyComponent("staging"),
			workflow.UnhealthyComponent("redis", "connection refused"),
		},
	})
	if !got.Running || got.BundleStats["ready"] != 2 || got.BundleStats["pending"] != 0 {
		t.Fatalf("unexpected workflow status %+v", got)
	}
	if got.ActiveBundles == nil {
		t.Fatal("active bundles should encode as an empty list")
	}
	if len(got.Health) != 2 || got.Health[1].Ready || got.Health[1].Detail != "connection refused" {
		t.Fatalf("unexpected health %+v", got.Health)
	}
}
