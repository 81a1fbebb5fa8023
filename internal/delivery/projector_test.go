package delivery_test

import (
	"encoding/json"
	"sort"
	"testing"
	"time"

	"parcel/internal/access"
	"parcel/internal/bundle"
	"parcel/internal/delivery"
)

var (
	now  = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	opts = delivery.Options{PublicBaseURL: "https://parcel.test", StallThreshold: 2 * time.Minute}
)

func granted() access.Decision { return access.Decision{Outcome: access.Granted} }

func TestProjectProcessingStates(t *testing.T) {
	started := now.Add(-4 * time.Minute)
	for _, status := range []bundle.Status{bundle.StatusPending, bundle.StatusChunking, bundle.StatusAssembling} {
		req := &bundle.Request{
			ID:              "b",
			Status:          status,
			TotalChunks:     4,
			CompletedChunks: 1,
			StartedAt:       &started,
			LastProgressAt:  now.Add(-30 * time.Second),
		}
		snap := delivery.Project(req, granted(), now, opts)
		if snap.State != delivery.StateProcessing || snap.Message != delivery.MessageProcessing {
			t.Fatalf("%s: unexpected %+v", status, snap)
		}
		if snap.ChunkIndex != 2 || snap.TotalChunks != 4 || snap.ProgressPercentage != 25 {
			t.Fatalf("%s: unexpected progress %+v", status, snap)
		}
		if snap.ArchiveURL != "" || snap.ArchiveSizeBytes != nil {
			t.Fatalf("%s: archive fields must be absent while processing", status)
		}
	}
}

func TestProjectStalledOnlyChangesMessage(t *testing.T) {
	req := &bundle.Request{ID: "b", Status: bundle.StatusChunking, TotalChunks: 3, CompletedChunks: 1, LastProgressAt: now.Add(-10 * time.Minute)}
	snap := delivery.Project(req, granted(), now, opts)
	if snap.State != delivery.StateProcessing || !snap.IsStalled || snap.Message != delivery.MessageStalled {
		t.Fatalf("expected stalled processing, got %+v", snap)
	}
}

func TestProjectReady(t *testing.T) {
	size := int64(4096)
	expires := now.Add(48 * time.Hour)
	req := &bundle.Request{
		ID:               "abc",
		Status:           bundle.StatusReady,
		TotalChunks:      3,
		CompletedChunks:  3,
		ArchiveSizeBytes: &size,
		ResultLocation:   "abc.tar.gz",
		ExpiresAt:        &expires,
	}
	snap := delivery.Project(req, access.Decision{Outcome: access.Granted, SessionToken: "tok"}, now, opts)
	if snap.State != delivery.StateReady || snap.Message != delivery.MessageReady {
		t.Fatalf("unexpected %+v", snap)
	}
	if snap.ChunkIndex != 3 || snap.ProgressPercentage != 100 {
		t.Fatalf("unexpected progress %+v", snap)
	}
	if snap.ArchiveURL != "https://parcel.test/d/abc/archive" {
		t.Fatalf("unexpected archive url %q", snap.ArchiveURL)
	}
	if snap.ArchiveSizeBytes == nil || *snap.ArchiveSizeBytes != size {
		t.Fatalf("expected archive size, got %v", snap.ArchiveSizeBytes)
	}
	if snap.ExpiresAt == nil || !snap.ExpiresAt.Equal(expires) {
		t.Fatalf("expected expiresAt, got %v", snap.ExpiresAt)
	}
	if snap.SessionToken != "tok" {
		t.Fatalf("expected session token passed through, got %q", snap.SessionToken)
	}
}

func TestProjectFailedHasNoArchive(t *testing.T) {
	req := &bundle.Request{ID: "b", Status: bundle.StatusFailed, TotalChunks: 3, CompletedChunks: 1, FailedChunks: 1}
	snap := delivery.Project(req, granted(), now, opts)
	if snap.State != delivery.StateFailed || snap.Message != delivery.MessageFailed || snap.ArchiveURL != "" {
		t.Fatalf("unexpected %+v", snap)
	}
}

func TestProjectGateOutcomesOverrideJobState(t *testing.T) {
	req := &bundle.Request{ID: "b", Status: bundle.StatusAssembling, TotalChunks: 3, CompletedChunks: 3}
	cases := map[access.Outcome]delivery.State{
		access.NotFound:     delivery.StateNotFound,
		access.Revoked:      delivery.StateRevoked,
		access.Expired:      delivery.StateExpired,
		access.AccessDenied: delivery.StateAccessDenied,
	}
	for outcome, want := range cases {
		snap := delivery.Project(req, access.Decision{Outcome: outcome}, now, opts)
		if snap.State != want {
			t.Fatalf("%s: got %s want %s", outcome, snap.State, want)
		}
		if snap.TotalChunks != 0 || snap.ChunkIndex != 0 || snap.ProgressPercentage != 0 {
			t.Fatalf("%s: leaked progress %+v", outcome, snap)
		}
	}
}

func jsonKeys(t *testing.T, snap delivery.Snapshot) []string {
	t.Helper()

	raw, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func TestAccessDeniedAndNotFoundShareShape(t *testing.T) {
	req := &bundle.Request{ID: "b", Status: bundle.StatusReady, TotalChunks: 2, CompletedChunks: 2}
	denied := delivery.Project(req, access.Decision{Outcome: access.AccessDenied}, now, opts)
	missing := delivery.Project(nil, access.Decision{Outcome: access.NotFound}, now, opts)

	dk, mk := jsonKeys(t, denied), jsonKeys(t, missing)
	if len(dk) != len(mk) {
		t.Fatalf("shape differs: %v vs %v", dk, mk)
	}
	for i := range dk {
		if dk[i] != mk[i] {
			t.Fatalf("shape differs: %v vs %v", dk, mk)
		}
	}
}

func TestTerminalStates(t *testing.T) {
	if delivery.StateProcessing.IsTerminal() || delivery.StateAccessDenied.IsTerminal() {
		t.Fatal("processing and access denied are not terminal")
	}
	for _, s := range []delivery.State{delivery.StateReady, delivery.StateFailed, delivery.StateNotFound, delivery.StateExpired, delivery.StateRevoked} {
		if !s.IsTerminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
}
