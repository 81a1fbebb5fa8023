package api_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"parcel/internal/access"
	"parcel/internal/api"
	"parcel/internal/assets"
	"parcel/internal/bundle"
	"parcel/internal/config"
	"parcel/internal/delivery"
	"parcel/internal/notifications"
	"parcel/internal/planner"
	"parcel/internal/services"
	"parcel/internal/testsupport"
)

type countingWaker struct{ n int }

func (w *countingWaker) Wake() { w.n++ }

type recordingPublisher struct {
	mu  sync.Mutex
	ids []string
}

func (p *recordingPublisher) Publish(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ids = append(p.ids, id)
	return nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (n *recordingNotifier) Publish(_ context.Context, event notifications.Event, _ notifications.Payload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

type fixture struct {
	cfg      *config.Config
	store    *bundle.Store
	svc      *api.BundleService
	waker    *countingWaker
	signal   *recordingPublisher
	notifier *recordingNotifier
	now      time.Time
}

func newFixture(t *testing.T, mutate ...func(*config.Config)) *fixture {
	t.Helper()

	cfg := testsupport.NewConfig(t, testsupport.WithChunkBudget(250, 0))
	for _, fn := range mutate {
		fn(cfg)
	}
	store := testsupport.MustOpenStore(t, cfg)
	bucket := testsupport.MemBucket(t)
	for _, id := range []string{"a.bin", "b.bin", "c.bin"} {
		testsupport.PutAsset(t, bucket, id, 100)
	}
	gate, err := access.FromConfig(cfg)
	if err != nil {
		t.Fatalf("access.FromConfig: %v", err)
	}
	f := &fixture{
		cfg:      cfg,
		store:    store,
		waker:    &countingWaker{},
		signal:   &recordingPublisher{},
		notifier: &recordingNotifier{},
		now:      time.Now().UTC(),
	}
	f.svc = api.NewBundleService(cfg, api.Deps{
		Store:      store,
		Planner:    planner.New(assets.NewBlobStore(bucket), planner.LimitsFromConfig(cfg)),
		Gate:       gate,
		Revocation: f.signal,
		Notifier:   f.notifier,
		Waker:      f.waker,
		Now:        func() time.Time { return f.now },
	})
	return f
}

func (f *fixture) create(t *testing.T, in api.CreateInput) api.Bundle {
	t.Helper()

	if in.AssetIDs == nil {
		in.AssetIDs = []string{"a.bin", "b.bin", "c.bin"}
	}
	created, err := f.svc.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return created
}

// markReady drives a bundle through the store the way the workflow would.
func (f *fixture) markReady(t *testing.T, id string) {
	t.Helper()

	ctx := context.Background()
	if _, err := f.store.MarkStarted(ctx, id); err != nil {
		t.Fatalf("MarkStarted: %v", err)
	}
	req := testsupport.MustGet(t, f.store, id)
	for i := 0; i < req.TotalChunks; i++ {
		ev := bundle.ChunkEvent{Index: i, Outcome: bundle.OutcomeCompleted, BytesWritten: 10, Attempt: 1}
		if _, err := f.store.ApplyChunkEvent(ctx, id, ev); err != nil {
			t.Fatalf("ApplyChunkEvent: %v", err)
		}
	}
	ok, err := f.store.MarkReady(ctx, id, bundle.ArchiveResult{Location: id + ".tar.gz", SizeBytes: 42, Checksum: "abc"})
	if err != nil || !ok {
		t.Fatalf("MarkReady: %v, %v", ok, err)
	}
}

func TestCreatePlansAndPersists(t *testing.T) {
	f := newFixture(t)
	created := f.create(t, api.CreateInput{Label: " quarterly report ", Password: "s3cret", ExpiresIn: time.Hour})

	if created.Status != string(bundle.StatusPending) || created.TotalChunks != 2 || created.AssetCount != 3 {
		t.Fatalf("unexpected bundle %+v", created)
	}
	if created.Label != "quarterly report" || !created.PasswordProtected || created.ExpiresAt == "" {
		t.Fatalf("unexpected bundle fields %+v", created)
	}
	if f.waker.n != 1 {
		t.Fatalf("expected manager woken once, got %d", f.waker.n)
	}

	detail, err := f.svc.Describe(context.Background(), created.ID)
	if err != nil || detail == nil {
		t.Fatalf("Describe: %v", err)
	}
	if len(detail.Chunks) != 2 || len(detail.Chunks[0].AssetIDs) != 2 || detail.Chunks[1].AssetIDs[0] != "c.bin" {
		t.Fatalf("unexpected chunk plan %+v", detail.Chunks)
	}
}

func TestCreatePlanningErrorLeavesNoRecord(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), api.CreateInput{AssetIDs: []string{"a.bin", "missing.bin"}})
	if !errors.Is(err, services.ErrPlanning) {
		t.Fatalf("expected planning error, got %v", err)
	}
	list, err := f.svc.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("planning failure must not persist a bundle, got %d", len(list))
	}
	if f.waker.n != 0 {
		t.Fatal("planning failure must not wake the manager")
	}
}

func TestCreateExpiryRules(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	f := newFixture(t)
	if _, err := f.svc.Create(context.Background(), api.CreateInput{AssetIDs: []string{"a.bin"}, ExpiresAt: &past}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for past expiry, got %v", err)
	}
	if _, err := f.svc.Create(context.Background(), api.CreateInput{AssetIDs: []string{"a.bin"}, ExpiresIn: -time.Minute}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for negative duration, got %v", err)
	}

	open := f.create(t, api.CreateInput{AssetIDs: []string{"a.bin"}})
	if open.ExpiresAt != "" {
		t.Fatalf("expected no expiry without default ttl, got %q", open.ExpiresAt)
	}

	withDefault := newFixture(t, func(c *config.Config) { c.Access.DefaultTTLHours = 24 })
	created := withDefault.create(t, api.CreateInput{AssetIDs: []string{"a.bin"}})
	expires := api.ParseTime(created.ExpiresAt)
	if want := withDefault.now.Add(24 * time.Hour); expires.Sub(want).Abs() > time.Second {
		t.Fatalf("expected default expiry near %s, got %s", want, expires)
	}
}

func TestListFiltersByEffectiveStatus(t *testing.T) {
	f := newFixture(t)
	kept := f.create(t, api.CreateInput{})
	revoked := f.create(t, api.CreateInput{})
	expired := f.create(t, api.CreateInput{ExpiresIn: time.Minute})
	if _, err := f.svc.Revoke(context.Background(), revoked.ID, "mistake"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	f.now = f.now.Add(2 * time.Minute)

	cases := []struct {
		status bundle.Status
		want   string
	}{
		{bundle.StatusPending, kept.ID},
		{bundle.StatusRevoked, revoked.ID},
		{bundle.StatusExpired, expired.ID},
	}
	for _, tc := range cases {
		got, err := f.svc.List(context.Background(), tc.status)
		if err != nil {
			t.Fatalf("List(%s): %v", tc.status, err)
		}
		if len(got) != 1 || got[0].ID != tc.want {
			t.Fatalf("List(%s) = %+v, want only %s", tc.status, got, tc.want)
		}
	}
	all, err := f.svc.List(context.Background())
	if err != nil || len(all) != 3 {
		t.Fatalf("expected all bundles, got %d (%v)", len(all), err)
	}
}

func TestRevokeSignalsOnce(t *testing.T) {
	f := newFixture(t)
	created := f.create(t, api.CreateInput{})

	first, err := f.svc.Revoke(context.Background(), created.ID, "sent to wrong client")
	if err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if !first.Changed || first.Bundle.Status != string(bundle.StatusRevoked) || first.Bundle.RevokeReason != "sent to wrong client" {
		t.Fatalf("unexpected revoke result %+v", first)
	}
	second, err := f.svc.Revoke(context.Background(), created.ID, "again")
	if err != nil {
		t.Fatalf("second Revoke: %v", err)
	}
	if second.Changed || second.Bundle.RevokeReason != "sent to wrong client" {
		t.Fatalf("second revoke must keep the first revocation, got %+v", second)
	}
	if len(f.signal.ids) != 1 || f.signal.ids[0] != created.ID {
		t.Fatalf("expected one revocation signal, got %v", f.signal.ids)
	}
	if len(f.notifier.events) != 1 || f.notifier.events[0] != notifications.EventBundleRevoked {
		t.Fatalf("expected one revoked notification, got %v", f.notifier.events)
	}

	if _, err := f.svc.Revoke(context.Background(), "nope", ""); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDescribeMissingBundle(t *testing.T) {
	f := newFixture(t)
	detail, err := f.svc.Describe(context.Background(), "nope")
	if err != nil || detail != nil {
		t.Fatalf("expected nil detail, got %+v, %v", detail, err)
	}
}

func TestPollAndArchiveLocation(t *testing.T) {
	f := newFixture(t)
	created := f.create(t, api.CreateInput{Password: "pw"})
	f.markReady(t, created.ID)
	ctx := context.Background()

	denied, err := f.svc.Poll(ctx, created.ID, access.Attempt{})
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if denied.State != delivery.StateAccessDenied || denied.ArchiveURL != "" {
		t.Fatalf("expected access denied without archive url, got %+v", denied)
	}
	if loc, snap, err := f.svc.ArchiveLocation(ctx, created.ID, access.Attempt{Password: "wrong"}); err != nil || loc != "" || snap.State != delivery.StateAccessDenied {
		t.Fatalf("wrong password must not reveal the archive, got %q %+v %v", loc, snap, err)
	}

	granted, err := f.svc.Poll(ctx, created.ID, access.Attempt{Password: "pw"})
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if granted.State != delivery.StateReady || granted.SessionToken == "" {
		t.Fatalf("expected ready with session token, got %+v", granted)
	}
	if granted.ArchiveURL != "https://parcel.test/d/"+created.ID+"/archive" {
		t.Fatalf("unexpected archive url %q", granted.ArchiveURL)
	}
	loc, _, err := f.svc.ArchiveLocation(ctx, created.ID, access.Attempt{SessionToken: granted.SessionToken})
	if err != nil || loc != created.ID+".tar.gz" {
		t.Fatalf("expected archive location via session, got %q, %v", loc, err)
	}

	detail, err := f.svc.Describe(ctx, created.ID)
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if detail.Bundle.ArchiveURL == "" || detail.Bundle.ProgressPercentage != 100 {
		t.Fatalf("unexpected ready view %+v", detail.Bundle)
	}
}

func TestStatsIncludesEveryStoredStatus(t *testing.T) {
	f := newFixture(t)
	f.create(t, api.CreateInput{})
	stats, err := f.svc.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats["pending"] != 1 || stats["ready"] != 0 {
		t.Fatalf("unexpected stats %v", stats)
	}
	if _, ok := stats["expired"]; ok {
		t.Fatal("expired is never stored and must not be counted")
	}
	if _, ok := stats["revoked"]; !ok {
		t.Fatal("expected every stored status present")
	}
}
